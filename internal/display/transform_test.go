package display

import (
	"math"
	"testing"
)

func TestTransformRoundTrip(t *testing.T) {
	transforms := []Transform{
		{Width: 1920, Height: 1080, ScaleX: 1, ScaleY: 1},
		{Width: 1920, Height: 1080, ScaleX: 2, ScaleY: 2, OffsetX: 100, OffsetY: -40},
		{Width: 800, Height: 600, ScaleX: 0.5, ScaleY: 0.25, Rotate: 30, FlipH: true},
		{Width: 800, Height: 600, ScaleX: 3, ScaleY: 3, Rotate: -90, FlipV: true, OffsetX: 7},
	}

	points := [][2]float64{{0, 0}, {10, 20}, {400, 300}, {799.5, 1.25}}

	for i, tr := range transforms {
		for _, p := range points {
			ix, iy := tr.ToImage(p[0], p[1])
			dx, dy := tr.ToDevice(ix, iy)
			if math.Abs(dx-p[0]) > 1e-9 || math.Abs(dy-p[1]) > 1e-9 {
				t.Errorf("transform %d: (%v, %v) -> (%v, %v) -> (%v, %v)", i, p[0], p[1], ix, iy, dx, dy)
			}
		}
	}
}

func TestTransformScaleAndOffset(t *testing.T) {
	tr := Transform{Width: 100, Height: 100, ScaleX: 2, ScaleY: 4, OffsetX: 10, OffsetY: 20}
	x, y := tr.ToImage(30, 60)
	if x != 20 || y != 20 {
		t.Errorf("expected (20, 20), got (%v, %v)", x, y)
	}
}

func TestTransformFlip(t *testing.T) {
	tr := Transform{Width: 100, Height: 50, FlipH: true, FlipV: true}
	x, y := tr.ToImage(10, 5)
	if x != 90 || y != 45 {
		t.Errorf("expected (90, 45), got (%v, %v)", x, y)
	}
}

func TestTransformNormalized(t *testing.T) {
	tr := Transform{Width: 200, Height: 100, ScaleX: 1, ScaleY: 1}
	x, y := tr.FromNormalized(0.5, 0.5)
	if x != 100 || y != 50 {
		t.Errorf("expected (100, 50), got (%v, %v)", x, y)
	}

	nx, ny := tr.ToNormalized(-30, 500)
	if nx != 0 || ny != 1 {
		t.Errorf("expected clamped (0, 1), got (%v, %v)", nx, ny)
	}
}

func TestTransformDefaultScale(t *testing.T) {
	sx, sy := Transform{}.Scale()
	if sx != 1 || sy != 1 {
		t.Errorf("expected default scale 1, got (%v, %v)", sx, sy)
	}
}

func TestTransformRotate(t *testing.T) {
	tr := Transform{Width: 100, Height: 100, Rotate: 90}

	// 中心まわりに -90 度回して画像座標にする
	x, y := tr.ToImage(50, 0)
	if math.Abs(x-0) > 1e-9 || math.Abs(y-50) > 1e-9 {
		t.Errorf("expected (0, 50), got (%v, %v)", x, y)
	}
	x, y = tr.ToImage(50, 50)
	if math.Abs(x-50) > 1e-9 || math.Abs(y-50) > 1e-9 {
		t.Errorf("center must stay fixed, got (%v, %v)", x, y)
	}
}

func TestTransformMatrixInverse(t *testing.T) {
	tr := Transform{Width: 640, Height: 480, ScaleX: 1.5, ScaleY: 2, OffsetX: -12, OffsetY: 30, Rotate: 15, FlipV: true}
	m := tr.Matrix().Mul(tr.Matrix().Inv())
	for i, want := range [6]float64{1, 0, 0, 1, 0, 0} {
		if math.Abs(m[i]-want) > 1e-9 {
			t.Fatalf("matrix times inverse is not the identity: %v", m)
		}
	}
}
