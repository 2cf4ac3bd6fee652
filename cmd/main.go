package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kataras/golog"
	"github.com/pkg/browser"

	"github.com/char5742/stroke-eval/internal/api"
	"github.com/char5742/stroke-eval/internal/config"
	"github.com/char5742/stroke-eval/internal/features"
)

// パッケージごとのロガー。golog の子ロガーは作成時のレベルを引き継ぐので個別に設定する
var packageLoggers = []string{"[api]", "[config]", "[features]"}

func main() {
	// コマンドライン引数の解析
	useApi := flag.Bool("api", false, "APIサーバーモードで起動します")
	configPath := flag.String("config", "", "設定ファイルのパス (指定しない場合はデフォルトパスを使用)")
	port := flag.Int("port", 8080, "APIサーバーのポート番号")
	logLevel := flag.String("log-level", "", "ログレベル (debug, info, warn, error)。設定ファイルより優先されます")
	openBrowser := flag.Bool("open", false, "APIサーバーの起動後にブラウザで状態ページを開きます")
	flag.Parse()

	// 設定ファイルパスの決定
	cfgPath := *configPath
	if cfgPath == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			golog.Warnf("デフォルト設定ディレクトリの取得に失敗しました: %v", err)
		}
		cfgPath = defaultPath
	}

	// 設定ファイルの読み込み
	var cfg *config.Config
	if cfgPath != "" {
		var err error
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			golog.Warnf("設定ファイルの読み込みに失敗しました: %v", err)
			golog.Warn("デフォルト設定を使用します")
		} else {
			golog.Infof("設定ファイルを読み込みました: %s", cfgPath)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	setLogLevel(cfg.Log.Level, *logLevel)

	// シグナルハンドラの設定
	ctx, stop := handleSignals()
	defer stop()

	service := api.NewStrokeService(cfg.Clone())

	// APIモードかCLIモードかを判断
	if *useApi {
		golog.Infof("APIサーバーモードで起動します (ポート: %d)...", *port)
		runApiServer(ctx, cfg, cfgPath, *port, *openBrowser, service, *logLevel)
	} else {
		golog.Info("CLIモードで起動します...")
		runCLI(ctx, cfgPath, service, *logLevel)
	}
}

// APIサーバーモードでの実行
func runApiServer(ctx context.Context, cfg *config.Config, cfgPath string, port int, openBrowser bool, service *api.StrokeService, logLevel string) {
	monitor := startDeviceMonitor(service)
	defer monitor.Stop()

	// APIサーバーを作成
	server := api.NewServer(cfg, cfgPath, port, service, monitor)

	watchConfig(ctx, cfgPath, logLevel, server.UpdateConfig)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	if openBrowser {
		url := fmt.Sprintf("http://localhost:%d/api/service/status", port)
		if err := browser.OpenURL(url); err != nil {
			golog.Warnf("ブラウザを開けませんでした: %v", err)
		}
	}

	select {
	case err := <-errChan:
		if err != nil {
			golog.Fatalf("APIサーバーの起動に失敗しました: %v", err)
		}
	case <-ctx.Done():
	}

	golog.Info("シャットダウンします...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		golog.Warnf("APIサーバーの停止に失敗しました: %v", err)
	}
	stopService(service)
}

// CLIモードでの実行
func runCLI(ctx context.Context, cfgPath string, service *api.StrokeService, logLevel string) {
	watchConfig(ctx, cfgPath, logLevel, service.UpdateConfig)

	// ストロークごとの統計をログに出す
	unsubscribe := service.Subscribe(func(sample api.StrokeSample) {
		if sample.Phase == api.PhaseUp {
			stats := service.Stats()
			golog.Debugf("ストローク終了: 受理 %d / 棄却 %d", stats.Accepted, stats.Rejected)
		}
	})
	defer unsubscribe()

	monitor := startDeviceMonitor(service)
	defer monitor.Stop()

	// サービス開始
	if err := service.Start(); err != nil {
		golog.Errorf("ストローク評価サービスの起動に失敗しました: %v", err)
		os.Exit(1)
	}

	// シグナルが来るまで待機
	<-ctx.Done()
	golog.Info("シャットダウンします...")
	stopService(service)
}

// startDeviceMonitor はデバイスの監視を始め、抜き差しをサービスに伝える
func startDeviceMonitor(service *api.StrokeService) *features.DeviceMonitor {
	monitor, err := features.NewDeviceMonitor(features.DefaultByIDDir)
	if err != nil {
		golog.Fatalf("デバイスモニターの作成に失敗しました: %v", err)
	}
	monitor.RegisterCallback(service.HandleDeviceEvent)
	if err := monitor.Start(); err != nil {
		golog.Fatalf("デバイスモニターの開始に失敗しました: %v", err)
	}
	return monitor
}

func stopService(service *api.StrokeService) {
	if err := service.Stop(); err != nil && !errors.Is(err, api.ErrNotRunning) {
		golog.Warnf("サービスの停止に失敗しました: %v", err)
	}
}

// watchConfig は設定ファイルの変更を apply に渡す
func watchConfig(ctx context.Context, cfgPath, logLevel string, apply func(*config.Config)) {
	if cfgPath == "" {
		return
	}
	err := config.Watch(ctx, cfgPath, func(c *config.Config) {
		setLogLevel(c.Log.Level, logLevel)
		apply(c)
	})
	if err != nil {
		golog.Warnf("設定ファイルの監視を開始できませんでした: %v", err)
	}
}

// setLogLevel はログレベルを設定する。フラグの指定があればそちらを優先する
func setLogLevel(configured, flagLevel string) {
	level := configured
	if flagLevel != "" {
		level = flagLevel
	}
	if level == "" {
		return
	}

	golog.SetLevel(level)
	for _, key := range packageLoggers {
		golog.Child(key).SetLevel(level)
	}
}

func handleSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
