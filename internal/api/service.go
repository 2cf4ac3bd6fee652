package api

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/kataras/golog"

	"github.com/char5742/stroke-eval/internal/config"
	"github.com/char5742/stroke-eval/internal/display"
	"github.com/char5742/stroke-eval/internal/features"
	"github.com/char5742/stroke-eval/internal/types"
)

var logger = golog.Child("[api]")

var (
	ErrAlreadyRunning  = errors.New("サービスは既に実行中です")
	ErrNotRunning      = errors.New("サービスは実行されていません")
	ErrNoPointerDevice = errors.New("ポインターデバイスが見つかりませんでした")
)

const (
	DefaultUinputPath = "/dev/uinput"
	virtualPenName    = "stroke-eval virtual pen"
)

// StrokePhase はサンプルがストロークのどの段階かを表す
type StrokePhase string

const (
	PhaseHover StrokePhase = "hover"
	PhaseDown  StrokePhase = "down"
	PhaseMove  StrokePhase = "move"
	PhaseUp    StrokePhase = "up"
)

// StrokeSample は評価済みのサンプル
type StrokeSample struct {
	types.Coords
	Phase StrokePhase `json:"phase"`
}

// StrokeStats はサービスの統計情報
type StrokeStats struct {
	Running     bool          `json:"running"`
	Accepted    uint64        `json:"accepted"`
	Rejected    uint64        `json:"rejected"`
	Strokes     uint64        `json:"strokes"`
	Subscribers int           `json:"subscribers"`
	Last        *StrokeSample `json:"last,omitempty"`
}

// StrokeService はポインター入力を評価して配信するサービス
type StrokeService struct {
	cfg          *config.Config
	statusMutex  sync.RWMutex
	running      bool
	session      *session
	// 取り外されたために止まったポインターの名前。再接続されたら再開する
	resumeName   string
	updateConfig chan *config.Config

	byIDDir    string
	uinputPath string

	// デバイスを開く関数。テストで差し替える
	openPointer    func(path string) (features.Pointer, error)
	openKeyboard   func(path string) (features.Keyboard, error)
	openVirtualPen func(path string, name []byte, rng features.PenRange) (features.VirtualPen, error)

	// HandleFrame で直接渡されたフレーム用。実行中のセッションは自分のパイプラインを持つ
	pipe *pipeline

	subMutex    sync.RWMutex
	subscribers map[int]func(StrokeSample)
	nextSubID   int

	accepted atomic.Uint64
	rejected atomic.Uint64
	strokes  atomic.Uint64
	last     atomic.Pointer[StrokeSample]
}

// session は実行中に開いているデバイスと、そのイベントループだけが触るパイプライン
type session struct {
	name     string
	path     string
	pointer  features.Pointer
	keyboard features.Keyboard
	pen      features.VirtualPen
	pipe     *pipeline
	done     chan struct{}
}

func (d *session) close() {
	_ = d.pointer.Close()
	if d.keyboard != nil {
		_ = d.keyboard.Close()
	}
	if d.pen != nil {
		_ = d.pen.Close()
	}
}

// pipeline はフレームごとの評価に必要な状態
type pipeline struct {
	cfg       *config.Config
	transform display.Transform
	mapper    features.AxisMapper
	filter    *features.MotionFilter
	smoother  *features.StrokeSmoother

	keyboard features.Keyboard
	pen      features.VirtualPen

	// 相対座標デバイスのカーソル位置 (スクリーンpx)
	cursorX, cursorY float64
	touching         bool
}

func newPipeline(cfg *config.Config, keyboard features.Keyboard, pen features.VirtualPen) *pipeline {
	p := &pipeline{
		filter:   features.NewMotionFilter(),
		keyboard: keyboard,
		pen:      pen,
	}
	p.apply(cfg)
	p.cursorX = p.transform.Width / 2
	p.cursorY = p.transform.Height / 2
	return p
}

// apply は設定を反映する。フィルターの状態は引き継ぐ
func (p *pipeline) apply(cfg *config.Config) {
	p.cfg = cfg
	p.transform = cfg.Transform()

	curve, err := cfg.PressureCurve()
	if err != nil {
		logger.Warnf("筆圧カーブが不正なため恒等カーブを使います: %v", err)
		curve = nil
	}
	p.mapper = features.AxisMapper{PressureCurve: curve}

	// 平滑化の設定が変わったときだけ作り直す
	if p.smoother == nil || p.smoother.Quality() != cfg.Smoothing.Quality || p.smoother.Factor() != cfg.Smoothing.Factor {
		p.smoother = features.NewStrokeSmoother(cfg.Smoothing.Quality, cfg.Smoothing.Factor)
	}
}

// NewStrokeService は新しいストローク評価サービスを作成する
func NewStrokeService(cfg *config.Config) *StrokeService {
	return &StrokeService{
		cfg:            cfg,
		updateConfig:   make(chan *config.Config, 1),
		byIDDir:        features.DefaultByIDDir,
		uinputPath:     DefaultUinputPath,
		openPointer:    features.OpenPointer,
		openKeyboard:   features.CreateKeyboard,
		openVirtualPen: features.CreateVirtualPen,
		pipe:           newPipeline(cfg, nil, nil),
		subscribers:    make(map[int]func(StrokeSample)),
	}
}

// Start はデバイスを開いてサービスを開始する
func (s *StrokeService) Start() error {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	cfg := s.cfg

	// デバイス一覧の取得
	devices, err := features.ScanDevices(s.byIDDir)
	if err != nil {
		return fmt.Errorf("デバイス一覧の取得に失敗しました: %w", err)
	}

	pointerDevice := features.SelectDevice(devices, cfg.DevicePrefs.PreferredPointerDevice, features.DeviceType.IsPointer)
	if pointerDevice == nil {
		return ErrNoPointerDevice
	}
	logger.Infof("使用するポインター: %s (%s)", pointerDevice.Name, pointerDevice.Type)

	pointer, err := s.openPointer(pointerDevice.Path)
	if err != nil {
		return fmt.Errorf("ポインターデバイスのオープンに失敗しました[path=%s]: %w", pointerDevice.Path, err)
	}
	d := &session{name: pointerDevice.Name, path: pointerDevice.Path, pointer: pointer, done: make(chan struct{})}

	// 押している間だけ平滑化を止めるキーがあればキーボードも開く
	if cfg.Motion.ExactKey != 0 {
		isKeyboard := func(t features.DeviceType) bool { return t == features.DeviceTypeKeyboard }
		if keyboardDevice := features.SelectDevice(devices, cfg.DevicePrefs.PreferredKeyboardDevice, isKeyboard); keyboardDevice != nil {
			keyboard, err := s.openKeyboard(keyboardDevice.Path)
			if err != nil {
				logger.Warnf("キーボードデバイスのオープンに失敗しました: %v", err)
			} else {
				logger.Infof("使用するキーボード: %s", keyboardDevice.Name)
				d.keyboard = keyboard
			}
		} else {
			logger.Warn("キーボードデバイスが見つかりませんでした")
		}
	}

	if cfg.Output.VirtualPen {
		pen, err := s.openVirtualPen(s.uinputPath, []byte(virtualPenName), cfg.PenRange())
		if err != nil {
			d.close()
			return fmt.Errorf("仮想ペンの作成に失敗しました: %w", err)
		}
		d.pen = pen

		// 元の入力が二重に届かないよう専有する
		if err := pointer.Grab(); err != nil {
			logger.Warnf("ポインターの専有に失敗しました: %v", err)
		}
	}

	// 保留中の設定更新は新しいパイプラインに含まれる
	select {
	case <-s.updateConfig:
	default:
	}
	d.pipe = newPipeline(cfg, d.keyboard, d.pen)
	s.session = d
	s.running = true
	s.resumeName = ""

	go s.run(d)

	logger.Info("ストローク評価サービスを開始しました")
	return nil
}

// Stop はサービスを停止し、イベントループの終了を待つ
func (s *StrokeService) Stop() error {
	s.statusMutex.Lock()
	d := s.session
	if !s.running || d == nil {
		s.statusMutex.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.session = nil
	s.resumeName = ""
	s.statusMutex.Unlock()

	// 読み込み中の ReadFrames を解除する
	_ = d.pointer.Close()
	<-d.done
	return nil
}

// run はイベントループ。ポインターが閉じられるまでフレームを処理する
func (s *StrokeService) run(d *session) {
	defer close(d.done)

	err := d.pointer.ReadFrames(func(f features.Frame) {
		s.handleFrame(d.pipe, f)
	})
	lost := err != nil && !errors.Is(err, features.ErrDeviceClosed)
	if lost {
		logger.Errorf("ポインターの読み込みに失敗しました: %v", err)
	}

	// 実行中の表示を下ろす前にこのセッションのデバイスを片付ける
	d.pipe.finish()
	d.close()

	s.statusMutex.Lock()
	if s.session == d {
		s.session = nil
		s.running = false
		if lost {
			s.resumeName = d.name
		}
	}
	s.statusMutex.Unlock()
	logger.Info("ストローク評価サービスを停止しました")
}

// HandleDeviceEvent はデバイスの抜き差しに追従する。
// 使用中のポインターが取り外されたら停止し、同じ名前のデバイスが戻ってきたら再開する。
func (s *StrokeService) HandleDeviceEvent(ev features.DeviceEvent) {
	if ev.Device == nil {
		return
	}

	switch ev.Type {
	case features.DeviceRemoved:
		s.statusMutex.RLock()
		d := s.session
		s.statusMutex.RUnlock()
		if d == nil || d.path != ev.Path {
			return
		}

		logger.Warnf("使用中のポインターが取り外されました: %s (%s)", ev.Device.Name, ev.Path)
		if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			logger.Warnf("サービスの停止に失敗しました: %v", err)
		}
		s.statusMutex.Lock()
		if !s.running {
			s.resumeName = d.name
		}
		s.statusMutex.Unlock()

	case features.DeviceAdded, features.DeviceChanged:
		s.statusMutex.Lock()
		resume := !s.running && s.resumeName != "" && s.resumeName == ev.Device.Name
		s.statusMutex.Unlock()
		if !resume {
			return
		}

		logger.Infof("ポインターが再接続されました。サービスを再開します: %s", ev.Device.Name)
		if err := s.Start(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			logger.Warnf("サービスの再開に失敗しました: %v", err)
		}
	}
}

// UpdateConfig は設定を更新する。実行中なら次のフレームから反映される
func (s *StrokeService) UpdateConfig(cfg *config.Config) {
	s.statusMutex.Lock()
	s.cfg = cfg
	s.statusMutex.Unlock()

	select {
	case s.updateConfig <- cfg:
		// 設定更新チャネルに送信成功
	default:
		// チャネルが埋まっている場合は古い設定を破棄して新しい設定を送信
		select {
		case <-s.updateConfig:
		default:
		}
		s.updateConfig <- cfg
	}
}

// Config は現在の設定を返す
func (s *StrokeService) Config() *config.Config {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.cfg
}

// IsRunning はサービスが実行中かどうかを返す
func (s *StrokeService) IsRunning() bool {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.running
}

// Subscribe は評価済みサンプルを受け取る関数を登録し、登録解除用の関数を返す。
// fn はイベントループから同期的に呼ばれるのでブロックしてはならない。
func (s *StrokeService) Subscribe(fn func(StrokeSample)) (unsubscribe func()) {
	s.subMutex.Lock()
	defer s.subMutex.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMutex.Lock()
			defer s.subMutex.Unlock()
			delete(s.subscribers, id)
		})
	}
}

// Stats は統計情報を返す
func (s *StrokeService) Stats() StrokeStats {
	s.subMutex.RLock()
	subscribers := len(s.subscribers)
	s.subMutex.RUnlock()

	return StrokeStats{
		Running:     s.IsRunning(),
		Accepted:    s.accepted.Load(),
		Rejected:    s.rejected.Load(),
		Strokes:     s.strokes.Load(),
		Subscribers: subscribers,
		Last:        s.last.Load(),
	}
}

// HandleFrame は外部から渡された1フレームを評価する。
// 実行中のセッションとは別のパイプラインを使う。複数のゴルーチンから同時に呼び出さないこと。
func (s *StrokeService) HandleFrame(f features.Frame) (StrokeSample, bool) {
	return s.handleFrame(s.pipe, f)
}

// handleFrame は p で1フレームを評価する。
// 位置を画像座標に変換し、補助軸を範囲に収めてからモーションフィルターに通す。
// 受理したサンプルは平滑化して購読者と仮想ペンに送る。
// p を持つゴルーチンからだけ呼び出すこと。
func (s *StrokeService) handleFrame(p *pipeline, f features.Frame) (StrokeSample, bool) {
	// 保留中の設定更新を反映
	select {
	case cfg := <-s.updateConfig:
		logger.Info("設定を更新しました")
		p.apply(cfg)
	default:
	}

	x, y := p.position(f)
	c := types.DefaultCoords(x, y)
	if f.HasPressure {
		c.Pressure = f.Pressure
	}
	if f.HasTilt {
		c.XTilt = f.XTilt
		c.YTilt = f.YTilt
	}
	if f.HasWheel {
		c.Wheel = f.Wheel
	}
	p.mapper.Apply(&c)

	sample := StrokeSample{Phase: p.phase(f.Touch)}

	switch sample.Phase {
	case PhaseDown:
		// 最後のモーションの速度と向きを引き継ぐ
		if p.filter.Started() {
			last := p.filter.LastCoords()
			c.Velocity = last.Velocity
			c.Direction = last.Direction
		}
		c.Time = f.Time
		p.smoother.Reset()
		if p.cfg.Smoothing.Enabled {
			p.smoother.Smooth(&c)
		}
		p.touching = true
		s.strokes.Add(1)

	case PhaseUp:
		if p.filter.Started() {
			c.Velocity = p.filter.LastCoords().Velocity
		}
		c.Time = f.Time
		p.smoother.Reset()
		p.touching = false

	default:
		sx, sy := p.transform.Scale()
		if !p.filter.Eval(&c, p.inertia(sx, sy), f.Time, sx, sy) {
			s.rejected.Add(1)
			logger.Debugf("サンプルを棄却: (%.2f, %.2f)", x, y)
			return sample, false
		}
		if p.touching && p.cfg.Smoothing.Enabled {
			p.smoother.Smooth(&c)
		}
	}

	sample.Coords = c
	s.accepted.Add(1)
	s.last.Store(&sample)

	p.output(sample)
	s.publish(sample)
	return sample, true
}

// position はフレームの位置を画像座標で返す
func (p *pipeline) position(f features.Frame) (float64, float64) {
	if f.Absolute {
		return p.transform.FromNormalized(f.X, f.Y)
	}

	// 相対座標デバイスはカーソルを動かしてスクリーンの範囲に収める
	factor := p.cfg.Motion.MouseDeltaFactor
	p.cursorX = math.Max(0, math.Min(p.transform.Width, p.cursorX+f.RelX*factor))
	p.cursorY = math.Max(0, math.Min(p.transform.Height, p.cursorY+f.RelY*factor))
	return p.transform.ToImage(p.cursorX, p.cursorY)
}

func (p *pipeline) phase(touch bool) StrokePhase {
	switch {
	case touch && !p.touching:
		return PhaseDown
	case !touch && p.touching:
		return PhaseUp
	case touch:
		return PhaseMove
	default:
		return PhaseHover
	}
}

// inertia は平滑化の強さを返す。拡大表示中とキーを押している間は平滑化しない
func (p *pipeline) inertia(scaleX, scaleY float64) float64 {
	if math.Min(scaleX, scaleY) > p.cfg.Motion.ExactAboveScale {
		return 0
	}
	if p.keyboard != nil && p.cfg.Motion.ExactKey != 0 && p.keyboard.IsPressed(p.cfg.Motion.ExactKey) {
		return 0
	}
	return p.cfg.Motion.InertiaFactor
}

// output は仮想ペンにサンプルを書き込む。ホバー中は何もしない
func (p *pipeline) output(sample StrokeSample) {
	if p.pen == nil || sample.Phase == PhaseHover {
		return
	}

	nx, ny := p.transform.ToNormalized(sample.X, sample.Y)
	ps := p.pen.Range().ToPenSample(nx, ny, sample.Coords)

	var err error
	switch sample.Phase {
	case PhaseDown:
		err = p.pen.PenDown(ps)
	case PhaseMove:
		err = p.pen.PenMove(ps)
	case PhaseUp:
		err = p.pen.PenUp()
	}
	if err != nil {
		logger.Warnf("仮想ペンへの書き込みに失敗しました: %v", err)
	}
}

// finish はストロークの途中で終了したときにペンを持ち上げる
func (p *pipeline) finish() {
	if p.touching && p.pen != nil {
		if err := p.pen.PenUp(); err != nil {
			logger.Warnf("仮想ペンへの書き込みに失敗しました: %v", err)
		}
	}
	p.touching = false
	p.smoother.Reset()
}

func (s *StrokeService) publish(sample StrokeSample) {
	s.subMutex.RLock()
	defer s.subMutex.RUnlock()

	for _, fn := range s.subscribers {
		fn(sample)
	}
}
