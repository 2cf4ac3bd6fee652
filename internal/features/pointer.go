package features

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/char5742/stroke-eval/internal/consts"
	"github.com/char5742/stroke-eval/internal/event"
	"github.com/char5742/stroke-eval/internal/types"
	"github.com/char5742/stroke-eval/internal/utils"
)

// ErrDeviceClosed はデバイスが閉じられたことを表す
var ErrDeviceClosed = errors.New("device closed")

// 軸情報を問い合わせる絶対軸
var pointerAxes = []uint16{
	event.AbsX,
	event.AbsY,
	event.AbsPressure,
	event.AbsTiltX,
	event.AbsTiltY,
	event.AbsWheel,
}

// ポインター入力を扱うインターフェース
type Pointer interface {
	// ReadFrames はデバイスが閉じられるまでフレームを読み続け、fn に渡す
	ReadFrames(fn func(Frame)) error
	// デバイスの軸情報
	Ranges() map[uint16]types.AbsInfo
	// ポインター操作を専有する
	Grab() error
	// ポインター操作の専有を解除する
	Release() error
	Close() error
}

type evdevPointer struct {
	file    *os.File
	ranges  map[uint16]types.AbsInfo
	grabbed bool
}

// 指定されたパスでポインターを開く
func OpenPointer(path string) (Pointer, error) {
	// 非ブロッキングで開くとランタイムのポーラーで待機でき、Close で読み込みが解除される
	f, err := os.OpenFile(path, syscall.O_RDONLY|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("failed to open device file: %w", err)
	}

	ranges := make(map[uint16]types.AbsInfo)
	for _, code := range pointerAxes {
		info, err := utils.GetAbsInfo(f, int(code))
		if err != nil || info.Max <= info.Min {
			continue
		}
		ranges[code] = info
	}
	logger.Debugf("ポインターの軸情報 %s: %d 軸", path, len(ranges))

	return &evdevPointer{file: f, ranges: ranges}, nil
}

func (p *evdevPointer) Ranges() map[uint16]types.AbsInfo {
	return p.ranges
}

func (p *evdevPointer) ReadFrames(fn func(Frame)) error {
	parser := event.NewParser(event.Size64)
	assembler := NewFrameAssembler(p.ranges)
	assembler.SetDeviceState(p)
	buf := make([]byte, event.Size64*64)

	for {
		n, err := p.file.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n], func(e event.Event) {
				assembler.Push(e, fn)
			})
		}
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return ErrDeviceClosed
			}
			return fmt.Errorf("failed to read device: %w", err)
		}
	}
}

// AbsInfo は軸の現在の値と範囲を読み直す
func (p *evdevPointer) AbsInfo(code uint16) (types.AbsInfo, error) {
	return utils.GetAbsInfo(p.file, int(code))
}

// KeyBits はキーとボタンの押下状態のビットマップを読み直す
func (p *evdevPointer) KeyBits(bits []byte) error {
	return utils.GetKeyBits(p.file, consts.EVIOCGKEY, bits)
}

func (p *evdevPointer) Grab() error {
	if p.grabbed {
		return nil
	}
	if err := utils.IOCtl(p.file, consts.EVIOCGRAB, 1); err != nil {
		return fmt.Errorf("failed to grab device: %w", err)
	}
	p.grabbed = true
	return nil
}

func (p *evdevPointer) Release() error {
	if !p.grabbed {
		return nil
	}
	if err := utils.IOCtl(p.file, consts.EVIOCGRAB, 0); err != nil {
		return fmt.Errorf("failed to release device: %w", err)
	}
	p.grabbed = false
	return nil
}

func (p *evdevPointer) Close() error {
	_ = p.Release()
	return p.file.Close()
}
