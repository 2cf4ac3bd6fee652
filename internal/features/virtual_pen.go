package features

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/char5742/stroke-eval/internal/consts"
	"github.com/char5742/stroke-eval/internal/event"
	"github.com/char5742/stroke-eval/internal/types"
	"github.com/char5742/stroke-eval/internal/utils"
)

// 傾きの出力範囲 (度)
const (
	penTiltMin = -90
	penTiltMax = 90
)

// PenRange は仮想ペンの座標と筆圧の範囲
type PenRange struct {
	MinX, MaxX  int32
	MinY, MaxY  int32
	MaxPressure int32
}

// PenSample は仮想ペンに送る1点分の値
type PenSample struct {
	X, Y         int32
	Pressure     int32
	TiltX, TiltY int32
}

// 平滑化した座標を出力する絶対座標ペンデバイス
type VirtualPen interface {
	PenDown(s PenSample) error
	PenMove(s PenSample) error
	PenUp() error
	Range() PenRange
	io.Closer
}

type virtualPen struct {
	name       []byte
	rng        PenRange
	deviceFile *os.File
}

// 新しい仮想ペンデバイスを作成する
func CreateVirtualPen(path string, name []byte, rng PenRange) (VirtualPen, error) {
	fd, err := createPen(path, name, rng)
	if err != nil {
		return nil, err
	}

	return &virtualPen{name: name, rng: rng, deviceFile: fd}, nil
}

func (vp *virtualPen) Range() PenRange {
	return vp.rng
}

func (vp *virtualPen) Close() error {
	_ = releaseDevice(vp.deviceFile)
	return vp.deviceFile.Close()
}

func createPen(path string, name []byte, rng PenRange) (*os.File, error) {
	deviceFile, err := createDeviceFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not create absolute axis input device: %v", err)
	}

	// キー入力イベント(EV_KEY)を登録する
	err = registerDevice(deviceFile, uintptr(event.Key))
	if err != nil {
		return nil, fmt.Errorf("キー入力イベント(EV_KEY)の登録に失敗しました: %v", err)
	}

	// ペン先の接触とツール種別を登録する
	for _, ev := range []int{
		event.BtnTouch,   // ペン先の接触
		event.BtnToolPen, // ペンが近接している
		event.BtnStylus,  // サイドボタン
	} {
		if err = utils.IOCtl(deviceFile, consts.SetKeyBit, uintptr(ev)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("キー入力種別の登録に失敗しました %v: %v", ev, err)
		}
	}

	// 絶対座標入力イベント(EV_ABS)を登録する
	err = registerDevice(deviceFile, uintptr(event.Abs))
	if err != nil {
		return nil, fmt.Errorf("絶対座標入力イベント(EV_ABS)の登録に失敗しました: %v", err)
	}

	if err := utils.IOCtl(deviceFile, consts.SetPropBit, uintptr(consts.PropPointer)); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("ポインターデバイスプロパティの設定に失敗しました: %v", err)
	}

	// 座標、筆圧、傾きを登録する
	for _, ev := range []int{
		event.AbsX,
		event.AbsY,
		event.AbsPressure,
		event.AbsTiltX,
		event.AbsTiltY,
	} {
		if err = utils.IOCtl(deviceFile, consts.SetAbsBit, uintptr(ev)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("座標軸の登録に失敗しました %v: %v", ev, err)
		}
	}

	userDev := types.UserDev{
		Name: toUinputName(name),
		ID: types.InputID{
			Bustype: consts.BusUsb,
			Vendor:  0x4711,
			Product: 0x0818,
			Version: 1,
		},
	}
	userDev.Absmin, userDev.Absmax = penAbsRanges(rng)

	fd, err := createUsbDevice(deviceFile, userDev)
	if err != nil {
		return nil, fmt.Errorf("USBデバイスの作成に失敗しました: %v", err)
	}

	return fd, nil
}

// penAbsRanges は uinput_user_dev に書き込む軸の範囲を作る
func penAbsRanges(rng PenRange) (absMin, absMax [consts.AbsSize]int32) {
	absMin[event.AbsX] = rng.MinX
	absMax[event.AbsX] = rng.MaxX
	absMin[event.AbsY] = rng.MinY
	absMax[event.AbsY] = rng.MaxY

	absMin[event.AbsPressure] = 0
	absMax[event.AbsPressure] = rng.MaxPressure

	absMin[event.AbsTiltX] = penTiltMin
	absMax[event.AbsTiltX] = penTiltMax
	absMin[event.AbsTiltY] = penTiltMin
	absMax[event.AbsTiltY] = penTiltMax
	return absMin, absMax
}

// ペンを接触させる
func (vp *virtualPen) PenDown(s PenSample) error {
	return writeEvents(vp.deviceFile, penDownEvents(s))
}

// ペンの位置を更新する
func (vp *virtualPen) PenMove(s PenSample) error {
	return writeEvents(vp.deviceFile, penMoveEvents(s))
}

// ペンを離す
func (vp *virtualPen) PenUp() error {
	return writeEvents(vp.deviceFile, penUpEvents())
}

func penAxisEvents(s PenSample) []types.Event {
	return []types.Event{
		{Type: event.Abs, Code: event.AbsX, Value: s.X},
		{Type: event.Abs, Code: event.AbsY, Value: s.Y},
		{Type: event.Abs, Code: event.AbsPressure, Value: s.Pressure},
		{Type: event.Abs, Code: event.AbsTiltX, Value: s.TiltX},
		{Type: event.Abs, Code: event.AbsTiltY, Value: s.TiltY},
	}
}

func penDownEvents(s PenSample) []types.Event {
	events := []types.Event{
		{Type: event.Key, Code: event.BtnToolPen, Value: 1},
	}
	events = append(events, penAxisEvents(s)...)
	return append(events,
		types.Event{Type: event.Key, Code: event.BtnTouch, Value: 1},
		types.Event{Type: event.Syn, Code: event.SynReport, Value: 0},
	)
}

func penMoveEvents(s PenSample) []types.Event {
	return append(penAxisEvents(s), types.Event{Type: event.Syn, Code: event.SynReport, Value: 0})
}

func penUpEvents() []types.Event {
	return []types.Event{
		{Type: event.Abs, Code: event.AbsPressure, Value: 0},
		{Type: event.Key, Code: event.BtnTouch, Value: 0},
		{Type: event.Key, Code: event.BtnToolPen, Value: 0},
		{Type: event.Syn, Code: event.SynReport, Value: 0},
	}
}

// ToPenSample は画像座標系のサンプルを正規化済みの位置と合わせてペンの値に変換する
func (rng PenRange) ToPenSample(nx, ny float64, c types.Coords) PenSample {
	return PenSample{
		X:        rng.MinX + int32(nx*float64(rng.MaxX-rng.MinX)+0.5),
		Y:        rng.MinY + int32(ny*float64(rng.MaxY-rng.MinY)+0.5),
		Pressure: int32(clampFloat(c.Pressure, 0, 1)*float64(rng.MaxPressure) + 0.5),
		TiltX:    roundTilt(c.XTilt),
		TiltY:    roundTilt(c.YTilt),
	}
}

func roundTilt(v float64) int32 {
	t := clampFloat(v, -1, 1) * penTiltMax
	if t < 0 {
		return int32(t - 0.5)
	}
	return int32(t + 0.5)
}

// デバイスファイルを作成する
func createDeviceFile(path string) (fd *os.File, err error) {
	deviceFile, err := os.OpenFile(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, errors.New("デバイスファイルを開くのに失敗しました")
	}
	return deviceFile, err
}

// デバイスを解放する
func releaseDevice(deviceFile *os.File) error {
	return utils.IOCtl(deviceFile, consts.DevDestroy, uintptr(0))
}

// デバイスを登録する
func registerDevice(deviceFile *os.File, evType uintptr) error {
	err := utils.IOCtl(deviceFile, consts.SetEvBit, evType)
	if err != nil {
		defer deviceFile.Close()
		if rerr := releaseDevice(deviceFile); rerr != nil {
			return fmt.Errorf("デバイスを解放するのに失敗しました: %v", rerr)
		}
		return fmt.Errorf("無効なファイルハンドルがutils.IOCtlから返されました: %v", err)
	}
	return nil
}

// USBデバイスを作成する
func createUsbDevice(deviceFile *os.File, dev types.UserDev) (fd *os.File, err error) {
	buf := new(bytes.Buffer)
	err = binary.Write(buf, binary.LittleEndian, dev)
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("ユーザーデバイスバッファの書き込みに失敗しました: %v", err)
	}
	_, err = deviceFile.Write(buf.Bytes())
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイス構造体をデバイスファイルに書き込むのに失敗しました: %v", err)
	}

	err = utils.IOCtl(deviceFile, consts.DevCreate, uintptr(0))
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイスの作成に失敗しました: %v", err)
	}

	return deviceFile, err
}

// イベントを書き込む
func writeEvents(w io.Writer, events []types.Event) error {
	for _, ev := range events {
		buf := new(bytes.Buffer)
		if err := binary.Write(buf, binary.LittleEndian, ev); err != nil {
			return fmt.Errorf("イベントをバッファに書き込むのに失敗しました: %v", err)
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("イベントの書き込みに失敗しました: %v", err)
		}
	}
	return nil
}

// 名前をuinput用の固定長配列に変換する
func toUinputName(name []byte) (uinputName [consts.MaxNameSize]byte) {
	var fixedSizeName [consts.MaxNameSize]byte
	copy(fixedSizeName[:], name)
	return fixedSizeName
}
