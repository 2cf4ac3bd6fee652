package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch は設定ファイルの変更を監視し、読み込み直した設定を fn に渡す。
// 不正な内容に書き換えられた場合は警告を出して fn を呼ばない。
// エディタはファイルを置き換えて保存することがあるので、親ディレクトリを監視する。
func Watch(ctx context.Context, configPath string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	configPath = filepath.Clean(configPath)
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		timer := time.NewTimer(reloadDebounce)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return

			case <-timer.C:
				cfg, err := decodeFile(configPath)
				if err != nil {
					logger.Warnf("設定の再読み込みに失敗しました: %v", err)
					continue
				}
				logger.Infof("設定を再読み込みしました: %s", configPath)
				fn(cfg)

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != configPath {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					// 連続した書き込みをまとめる
					timer.Reset(reloadDebounce)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("設定ファイルの監視エラー: %v", err)
			}
		}
	}()

	return nil
}
