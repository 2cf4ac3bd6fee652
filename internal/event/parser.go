package event

import "encoding/binary"

// input_event 構造体のサイズ。timeval が 32bit か 64bit かで変わる
const (
	Size32 = 16
	Size64 = 24
)

// Parser は evdev から読んだバイト列を Event に分解する。
// 読み込みの境界が構造体の境界と一致しなくてもよい。
type Parser struct {
	buf  []byte
	size int // 0 は未確定
}

// NewParser は構造体サイズを指定してパーサーを作成する。
// size に 0 を渡すと最初のチャンクから推定する。
func NewParser(size int) *Parser {
	return &Parser{size: size}
}

// Feed はチャンクを追加し、完全な構造体ごとに fn を呼び出す
func (p *Parser) Feed(chunk []byte, fn func(Event)) {
	p.buf = append(p.buf, chunk...)
	if p.size == 0 {
		switch {
		case len(p.buf) >= 2*Size64 && len(p.buf)%Size64 == 0:
			p.size = Size64
		case len(p.buf) >= 2*Size32 && len(p.buf)%Size32 == 0:
			p.size = Size32
		case len(p.buf) >= Size64:
			// 64bit 環境を前提とする
			p.size = Size64
		}
	}

	for p.size != 0 && len(p.buf) >= p.size {
		fn(decode(p.buf[:p.size]))
		p.buf = p.buf[p.size:]
	}
	if len(p.buf) == 0 {
		p.buf = p.buf[:0:0]
	}
}

// Pending はまだ構造体にならないバイト数を返す
func (p *Parser) Pending() int {
	return len(p.buf)
}

func decode(b []byte) Event {
	var e Event
	if len(b) == Size64 {
		e.Sec = int64(binary.LittleEndian.Uint64(b[0:8]))
		e.Usec = int64(binary.LittleEndian.Uint64(b[8:16]))
		b = b[16:]
	} else {
		e.Sec = int64(int32(binary.LittleEndian.Uint32(b[0:4])))
		e.Usec = int64(int32(binary.LittleEndian.Uint32(b[4:8])))
		b = b[8:]
	}
	e.Type = binary.LittleEndian.Uint16(b[0:2])
	e.Code = binary.LittleEndian.Uint16(b[2:4])
	e.Value = int32(binary.LittleEndian.Uint32(b[4:8]))
	return e
}
