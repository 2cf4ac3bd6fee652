package features

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kataras/golog"
)

var logger = golog.Child("[features]")

// DefaultByIDDir は名前付きの evdev デバイスへのリンクがあるディレクトリ
const DefaultByIDDir = "/dev/input/by-id"

type Device struct {
	Name string     `json:"name"`
	Path string     `json:"path"`
	Type DeviceType `json:"type"`
}

// デバイスタイプを表す列挙型
type DeviceType int

const (
	DeviceTypeKeyboard DeviceType = iota
	DeviceTypeMouse
	DeviceTypeTablet
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeKeyboard:
		return "keyboard"
	case DeviceTypeMouse:
		return "mouse"
	case DeviceTypeTablet:
		return "tablet"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

func (t DeviceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// IsPointer はポインター入力として使えるかを返す
func (t DeviceType) IsPointer() bool {
	return t == DeviceTypeMouse || t == DeviceTypeTablet
}

// DeviceEventType はデバイスイベントの種類を表す
type DeviceEventType int

const (
	DeviceAdded DeviceEventType = iota
	DeviceRemoved
	DeviceChanged
)

// DeviceEvent はデバイスの変更イベントを表す
type DeviceEvent struct {
	Type   DeviceEventType
	Device *Device
	Path   string
}

// DeviceCallback はデバイスイベント発生時に呼び出されるコールバック関数の型
type DeviceCallback func(event DeviceEvent)

// ペンタブレットを表すデバイス名の断片
var tabletHints = []string{"pen", "stylus", "tablet", "wacom", "huion", "xp-pen", "digitizer"}

// classifyDevice は by-id のリンク名からデバイスタイプを推定する
func classifyDevice(name string) []DeviceType {
	lower := strings.ToLower(name)
	var kinds []DeviceType

	if strings.Contains(lower, "kbd") {
		kinds = append(kinds, DeviceTypeKeyboard)
	}
	if strings.Contains(lower, "mouse") || strings.Contains(lower, "event-if") {
		tablet := false
		for _, hint := range tabletHints {
			if strings.Contains(lower, hint) {
				tablet = true
				break
			}
		}
		if tablet {
			kinds = append(kinds, DeviceTypeTablet)
		} else if strings.Contains(lower, "mouse") {
			kinds = append(kinds, DeviceTypeMouse)
		}
	}
	return kinds
}

// ScanDevices は dir にあるリンクから現在接続されているデバイスを検出します
// デバイスモニターを使用せず直接検出を行うため、キャッシュの影響を受けません
func ScanDevices(dir string) ([]Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var devices []Device
	for _, entry := range entries {
		// eventが含まれない場合はスキップ
		if !strings.Contains(entry.Name(), "event") {
			continue
		}
		fullPath := filepath.Join(dir, entry.Name())
		realPath, err := os.Readlink(fullPath)
		if err != nil {
			continue
		}

		// 絶対パスを構築
		absPath := realPath
		if !filepath.IsAbs(realPath) {
			absPath = filepath.Join(filepath.Dir(dir), filepath.Base(realPath))
		}

		for _, t := range classifyDevice(entry.Name()) {
			devices = append(devices, Device{Name: entry.Name(), Path: absPath, Type: t})
		}
	}

	return devices, nil
}

// SelectDevice は優先デバイス名に一致するもの、なければ最初に見つかったものを返す
func SelectDevice(devices []Device, preferred string, accept func(DeviceType) bool) *Device {
	var first *Device
	for i := range devices {
		d := &devices[i]
		if !accept(d.Type) {
			continue
		}
		if preferred != "" && d.Name == preferred {
			return d
		}
		// タブレットはマウスより優先する
		if first == nil || (first.Type != DeviceTypeTablet && d.Type == DeviceTypeTablet) {
			first = d
		}
	}
	return first
}

// DeviceMonitor はデバイスの接続状態を監視する構造体
type DeviceMonitor struct {
	dir             string
	watcher         *fsnotify.Watcher
	callbacks       []DeviceCallback
	devices         map[string]*Device // パスとタイプをキーにしたデバイスマップ
	mutex           sync.RWMutex
	stopChan        chan struct{}
	autoRescanTimer *time.Timer
	pollingTicker   *time.Ticker
	isRunning       bool
}

// NewDeviceMonitor は dir を監視する新しいDeviceMonitorを作成する
func NewDeviceMonitor(dir string) (*DeviceMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DeviceMonitor{
		dir:       dir,
		watcher:   watcher,
		callbacks: make([]DeviceCallback, 0),
		devices:   make(map[string]*Device),
		stopChan:  make(chan struct{}),
	}, nil
}

func deviceKey(d *Device) string {
	return d.Path + "#" + d.Type.String()
}

// Start はデバイスの監視を開始する
func (dm *DeviceMonitor) Start() error {
	dm.mutex.Lock()
	if dm.isRunning {
		dm.mutex.Unlock()
		return nil // すでに実行中
	}
	dm.isRunning = true
	dm.mutex.Unlock()

	logger.Info("デバイスモニターを開始します")

	// 監視対象のディレクトリを追加
	for _, dir := range []string{filepath.Dir(dm.dir), dm.dir} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := dm.watcher.Add(dir); err != nil {
			logger.Warnf("ディレクトリの監視に失敗しました: %s - %v", dir, err)
		} else {
			logger.Debugf("ディレクトリ監視を開始: %s", dir)
		}
	}

	// 初期デバイス一覧を取得
	dm.RescanDevices()

	// イベント監視ゴルーチンを起動
	go dm.watchEvents()

	// デバイスのポーリング監視を開始（2秒ごと）
	dm.pollingTicker = time.NewTicker(2 * time.Second)
	go dm.runPolling()

	return nil
}

// Stop はデバイスの監視を停止する
func (dm *DeviceMonitor) Stop() {
	dm.mutex.Lock()
	if !dm.isRunning {
		dm.mutex.Unlock()
		return
	}
	dm.isRunning = false
	dm.mutex.Unlock()

	logger.Info("デバイスモニターを停止します")

	close(dm.stopChan)
	if dm.pollingTicker != nil {
		dm.pollingTicker.Stop()
	}
	dm.watcher.Close()
}

// RegisterCallback はデバイスイベントのコールバック関数を登録する
func (dm *DeviceMonitor) RegisterCallback(callback DeviceCallback) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.callbacks = append(dm.callbacks, callback)
}

// RescanDevices はデバイス一覧を強制的に再スキャンする
func (dm *DeviceMonitor) RescanDevices() {
	devices, err := ScanDevices(dm.dir)
	if err != nil {
		logger.Warnf("デバイス再スキャンに失敗しました: %v", err)
		return
	}

	dm.updateDeviceList(devices)
}

// runPolling はデバイスの存在を定期的に確認する
func (dm *DeviceMonitor) runPolling() {
	for {
		select {
		case <-dm.stopChan:
			logger.Debug("デバイスポーリング監視を停止します")
			return
		case <-dm.pollingTicker.C:
			dm.RescanDevices()
		}
	}
}

// updateDeviceList は現在のデバイス一覧を更新し、変更があれば通知する
func (dm *DeviceMonitor) updateDeviceList(newDevices []Device) {
	var events []DeviceEvent

	dm.mutex.Lock()
	seen := make(map[string]bool, len(newDevices))
	byName := make(map[string]*Device, len(dm.devices))
	for _, d := range dm.devices {
		byName[d.Name+"#"+d.Type.String()] = d
	}

	for i := range newDevices {
		device := newDevices[i]
		key := deviceKey(&device)
		seen[key] = true

		if old, exists := dm.devices[key]; exists {
			if old.Name != device.Name {
				logger.Infof("デバイス情報が変更: %s → %s (%s)", old.Name, device.Name, device.Path)
				dm.devices[key] = &device
				events = append(events, DeviceEvent{Type: DeviceChanged, Device: &device, Path: device.Path})
			}
			continue
		}

		// 同じ名前のデバイスが別のパスに移動した
		if old, moved := byName[device.Name+"#"+device.Type.String()]; moved {
			logger.Infof("デバイスパスが変更されました: %s: %s → %s", device.Name, old.Path, device.Path)
			delete(dm.devices, deviceKey(old))
			seen[deviceKey(old)] = false
			dm.devices[key] = &device
			events = append(events, DeviceEvent{Type: DeviceChanged, Device: &device, Path: device.Path})
			continue
		}

		logger.Infof("新しいデバイスを追加: %s (%s)", device.Name, device.Path)
		dm.devices[key] = &device
		events = append(events, DeviceEvent{Type: DeviceAdded, Device: &device, Path: device.Path})
	}

	// 削除されたデバイスを確認
	for key, device := range dm.devices {
		if !seen[key] {
			logger.Infof("デバイスを削除: %s (%s)", device.Name, device.Path)
			delete(dm.devices, key)
			events = append(events, DeviceEvent{Type: DeviceRemoved, Device: device, Path: device.Path})
		}
	}

	callbacks := append([]DeviceCallback(nil), dm.callbacks...)
	dm.mutex.Unlock()

	// ロックを解放した状態でコールバックを呼び出す
	for _, ev := range events {
		for _, cb := range callbacks {
			cb(ev)
		}
	}
}

// watchEvents はfsnotifyのイベントを監視する
func (dm *DeviceMonitor) watchEvents() {
	// 一時的なファイルシステムイベントを収集してバッチ処理するためのしくみ
	eventDebounceTime := 500 * time.Millisecond
	eventTimer := time.NewTimer(eventDebounceTime)
	eventTimer.Stop() // 初期状態では停止
	pendingRescan := false

	for {
		select {
		case <-dm.stopChan:
			logger.Debug("ファイルシステムイベント監視を停止します")
			return

		case <-eventTimer.C:
			if pendingRescan {
				pendingRescan = false
				dm.RescanDevices()
			}

		case event, ok := <-dm.watcher.Events:
			if !ok {
				return
			}

			// デバイスに関連するイベントのみ処理
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debugf("ファイルシステムイベント: %s %s", event.Op.String(), event.Name)

				// タイマーをリセットして複数のイベントをバッチ処理
				if !pendingRescan {
					pendingRescan = true
					eventTimer.Reset(eventDebounceTime)
				}
			}

		case err, ok := <-dm.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("ファイルシステム監視エラー: %v", err)
		}
	}
}

// GetConnectedDevices は現在接続されているデバイスのスナップショットを返す
func (dm *DeviceMonitor) GetConnectedDevices() []Device {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	devices := make([]Device, 0, len(dm.devices))
	for _, device := range dm.devices {
		devices = append(devices, *device)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Path != devices[j].Path {
			return devices[i].Path < devices[j].Path
		}
		return devices[i].Type < devices[j].Type
	})

	return devices
}
