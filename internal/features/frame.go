package features

import (
	"github.com/char5742/stroke-eval/internal/consts"
	"github.com/char5742/stroke-eval/internal/event"
	"github.com/char5742/stroke-eval/internal/types"
)

// Frame は SYN_REPORT で区切られた1回分のポインター状態
type Frame struct {
	Time int64 // ミリ秒

	// 絶対座標デバイスの位置。[0,1] に正規化済み
	X, Y     float64
	Absolute bool

	// 相対座標デバイスのこのフレームでの移動量 (カウント)
	RelX, RelY float64

	Pressure float64 // [0,1]
	XTilt    float64 // [-1,1]
	YTilt    float64 // [-1,1]
	Wheel    float64 // [0,1]

	HasPressure bool
	HasTilt     bool
	HasWheel    bool

	Touch bool // ペン先の接触または左ボタン
}

// DeviceState はデバイスの現在の状態を問い合わせる
type DeviceState interface {
	AbsInfo(code uint16) (types.AbsInfo, error)
	KeyBits(bits []byte) error
}

// FrameAssembler は evdev のイベント列を Frame にまとめる。
// evdev は変化した値しか送らないので、絶対軸の値はフレームをまたいで保持する。
type FrameAssembler struct {
	ranges map[uint16]types.AbsInfo
	values map[uint16]int32
	state  DeviceState

	relX, relY float64
	touch      bool
	changed    bool
	dropping   bool
}

// NewFrameAssembler はデバイスの軸情報からアセンブラを作成する。
// ranges に含まれない絶対軸は無視する。
func NewFrameAssembler(ranges map[uint16]types.AbsInfo) *FrameAssembler {
	values := make(map[uint16]int32, len(ranges))
	for code, info := range ranges {
		values[code] = info.Value
	}
	return &FrameAssembler{
		ranges: ranges,
		values: values,
	}
}

// SetDeviceState は SYN_DROPPED の後に状態を読み直す先を設定する
func (a *FrameAssembler) SetDeviceState(state DeviceState) {
	a.state = state
}

// Push はイベントを1つ処理する。フレームが完成したら fn を呼び出す
func (a *FrameAssembler) Push(e event.Event, fn func(Frame)) {
	if a.dropping {
		// SYN_DROPPED の後は次の SYN_REPORT までのイベントを捨てる
		if e.Type == event.Syn && e.Code == event.SynReport {
			a.dropping = false
			a.relX, a.relY = 0, 0
			a.changed = a.resync()
			if a.changed {
				fn(a.frame(e.Millis()))
			}
			a.changed = false
		}
		return
	}

	switch e.Type {
	case event.Syn:
		switch e.Code {
		case event.SynReport:
			if a.changed {
				fn(a.frame(e.Millis()))
			}
			a.relX, a.relY = 0, 0
			a.changed = false
		case event.SynDropped:
			a.dropping = true
		}

	case event.Abs:
		if _, ok := a.ranges[e.Code]; ok {
			a.values[e.Code] = e.Value
			a.changed = true
		}

	case event.Rel:
		switch e.Code {
		case event.RelX:
			a.relX += float64(e.Value)
			a.changed = true
		case event.RelY:
			a.relY += float64(e.Value)
			a.changed = true
		}

	case event.Key:
		switch e.Code {
		case event.BtnTouch, event.MouseBtnLeft:
			a.touch = e.Value != 0
			a.changed = true
		}
	}
}

// resync は捨てたイベントの分だけずれた軸と接触の状態をデバイスから読み直す。
// 状態が変わったら true を返す
func (a *FrameAssembler) resync() bool {
	if a.state == nil {
		return false
	}

	changed := false
	for code := range a.ranges {
		info, err := a.state.AbsInfo(code)
		if err != nil {
			logger.Debugf("軸の再取得に失敗しました[code=%d]: %v", code, err)
			continue
		}
		if a.values[code] != info.Value {
			a.values[code] = info.Value
			changed = true
		}
	}

	bits := make([]byte, consts.KeyMax/8+1)
	if err := a.state.KeyBits(bits); err != nil {
		logger.Debugf("キー状態の再取得に失敗しました: %v", err)
		return changed
	}
	touch := keyBitSet(bits, int(event.BtnTouch)) || keyBitSet(bits, int(event.MouseBtnLeft))
	if touch != a.touch {
		a.touch = touch
		changed = true
	}
	return changed
}

func (a *FrameAssembler) frame(time int64) Frame {
	f := Frame{
		Time:     time,
		RelX:     a.relX,
		RelY:     a.relY,
		Touch:    a.touch,
		Pressure: types.DefaultPressure,
		XTilt:    types.DefaultTilt,
		YTilt:    types.DefaultTilt,
		Wheel:    types.DefaultWheel,
	}

	xInfo, hasX := a.ranges[event.AbsX]
	yInfo, hasY := a.ranges[event.AbsY]
	if hasX && hasY {
		f.Absolute = true
		f.X = xInfo.Normalize(a.values[event.AbsX])
		f.Y = yInfo.Normalize(a.values[event.AbsY])
	}

	if info, ok := a.ranges[event.AbsPressure]; ok {
		f.HasPressure = true
		f.Pressure = info.Normalize(a.values[event.AbsPressure])
	}

	txInfo, hasTX := a.ranges[event.AbsTiltX]
	tyInfo, hasTY := a.ranges[event.AbsTiltY]
	if hasTX && hasTY {
		f.HasTilt = true
		f.XTilt = txInfo.Normalize(a.values[event.AbsTiltX])*2 - 1
		f.YTilt = tyInfo.Normalize(a.values[event.AbsTiltY])*2 - 1
	}

	if info, ok := a.ranges[event.AbsWheel]; ok {
		f.HasWheel = true
		f.Wheel = info.Normalize(a.values[event.AbsWheel])
	}

	return f
}
