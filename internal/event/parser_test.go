package event

import (
	"encoding/binary"
	"testing"
)

func encode64(sec, usec int64, typ, code uint16, value int32) []byte {
	b := make([]byte, Size64)
	binary.LittleEndian.PutUint64(b[0:8], uint64(sec))
	binary.LittleEndian.PutUint64(b[8:16], uint64(usec))
	binary.LittleEndian.PutUint16(b[16:18], typ)
	binary.LittleEndian.PutUint16(b[18:20], code)
	binary.LittleEndian.PutUint32(b[20:24], uint32(value))
	return b
}

func encode32(sec, usec int32, typ, code uint16, value int32) []byte {
	b := make([]byte, Size32)
	binary.LittleEndian.PutUint32(b[0:4], uint32(sec))
	binary.LittleEndian.PutUint32(b[4:8], uint32(usec))
	binary.LittleEndian.PutUint16(b[8:10], typ)
	binary.LittleEndian.PutUint16(b[10:12], code)
	binary.LittleEndian.PutUint32(b[12:16], uint32(value))
	return b
}

func TestParserSplitChunks(t *testing.T) {
	var stream []byte
	stream = append(stream, encode64(10, 500000, Abs, AbsX, 1234)...)
	stream = append(stream, encode64(10, 500000, Abs, AbsPressure, -7)...)
	stream = append(stream, encode64(10, 500000, Syn, SynReport, 0)...)

	p := NewParser(Size64)
	var got []Event
	// 構造体の境界をまたぐように分割して流す
	for i := 0; i < len(stream); i += 7 {
		end := i + 7
		if end > len(stream) {
			end = len(stream)
		}
		p.Feed(stream[i:end], func(e Event) { got = append(got, e) })
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Type != Abs || got[0].Code != AbsX || got[0].Value != 1234 {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[1].Value != -7 {
		t.Errorf("expected negative value to survive, got %d", got[1].Value)
	}
	if got[2].Millis() != 10500 {
		t.Errorf("expected 10500ms, got %d", got[2].Millis())
	}
	if p.Pending() != 0 {
		t.Errorf("expected no pending bytes, got %d", p.Pending())
	}
}

func TestParserDetectsSize(t *testing.T) {
	tests := []struct {
		name   string
		stream []byte
		want   int
	}{
		{
			name:   "64bit",
			stream: append(encode64(1, 0, Rel, RelX, 3), encode64(1, 0, Syn, SynReport, 0)...),
			want:   Size64,
		},
		{
			name: "32bit",
			stream: append(append(append(encode32(1, 0, Rel, RelX, 3), encode32(1, 0, Rel, RelY, 4)...),
				encode32(1, 0, Rel, RelWheel, 1)...), encode32(1, 0, Syn, SynReport, 0)...),
			want: Size32,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(0)
			var got []Event
			p.Feed(tt.stream, func(e Event) { got = append(got, e) })
			if p.size != tt.want {
				t.Fatalf("expected size %d, got %d", tt.want, p.size)
			}
			if len(got) != len(tt.stream)/tt.want {
				t.Fatalf("expected %d events, got %d", len(tt.stream)/tt.want, len(got))
			}
			if got[0].Type != Rel || got[0].Value != 3 {
				t.Errorf("unexpected first event: %+v", got[0])
			}
		})
	}
}
