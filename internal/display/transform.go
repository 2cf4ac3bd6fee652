// Package display はデバイス（スクリーン）座標と画像座標の変換を扱う。
package display

import (
	"math"

	"seehuhn.de/go/geom/matrix"
)

// Transform はスクリーン座標から画像座標への変換。
// スクリーン上で反転と回転（領域の中心まわり）を解いてから、オフセットと拡大率を適用する。
type Transform struct {
	Width   float64 // スクリーン領域の幅 (px)
	Height  float64 // スクリーン領域の高さ (px)
	ScaleX  float64 // 画像1pxあたりのスクリーンpx
	ScaleY  float64
	OffsetX float64 // スクロール量 (スクリーンpx)
	OffsetY float64
	Rotate  float64 // 表示の回転 (度)
	FlipH   bool
	FlipV   bool
}

// Scale は 0 以下の拡大率を 1 に置き換えて返す
func (t Transform) Scale() (float64, float64) {
	sx, sy := t.ScaleX, t.ScaleY
	if sx <= 0 {
		sx = 1
	}
	if sy <= 0 {
		sy = 1
	}
	return sx, sy
}

// Matrix はスクリーン座標を画像座標に移す行列を返す
func (t Transform) Matrix() matrix.Matrix {
	m := matrix.Identity
	if t.Rotate != 0 {
		cx, cy := t.Width/2, t.Height/2
		m = matrix.Matrix{1, 0, 0, 1, -cx, -cy}.RotateDeg(-t.Rotate).Translate(cx, cy)
	}
	if t.FlipH {
		m = m.Mul(matrix.Matrix{-1, 0, 0, 1, t.Width, 0})
	}
	if t.FlipV {
		m = m.Mul(matrix.Matrix{1, 0, 0, -1, 0, t.Height})
	}

	sx, sy := t.Scale()
	return m.Translate(t.OffsetX, t.OffsetY).Mul(matrix.Scale(1/sx, 1/sy))
}

// ToImage はスクリーン座標を画像座標に変換する
func (t Transform) ToImage(x, y float64) (float64, float64) {
	return apply(t.Matrix(), x, y)
}

// ToDevice は画像座標をスクリーン座標に変換する。ToImage の逆変換
func (t Transform) ToDevice(x, y float64) (float64, float64) {
	return apply(t.Matrix().Inv(), x, y)
}

// FromNormalized は [0,1] に正規化されたデバイス座標を画像座標に変換する
func (t Transform) FromNormalized(nx, ny float64) (float64, float64) {
	return t.ToImage(nx*t.Width, ny*t.Height)
}

// ToNormalized は画像座標を [0,1] のデバイス座標に変換する。領域外は範囲に収める
func (t Transform) ToNormalized(x, y float64) (float64, float64) {
	dx, dy := t.ToDevice(x, y)
	return clampUnit(safeDiv(dx, t.Width)), clampUnit(safeDiv(dy, t.Height))
}

func apply(m matrix.Matrix, x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
