package features

import (
	"fmt"
	"sort"

	"github.com/char5742/stroke-eval/internal/types"
)

// Axis はポインターの補助軸の種類
type Axis int

const (
	AxisPressure Axis = iota
	AxisXTilt
	AxisYTilt
	AxisWheel
)

func (a Axis) String() string {
	switch a {
	case AxisPressure:
		return "pressure"
	case AxisXTilt:
		return "xtilt"
	case AxisYTilt:
		return "ytilt"
	case AxisWheel:
		return "wheel"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// CurvePoint は入力値と出力値の組
type CurvePoint struct {
	In  float64
	Out float64
}

// Curve は [0,1] -> [0,1] の区分線形カーブ。制御点がなければ恒等写像になる
type Curve struct {
	points []CurvePoint
}

// NewCurve は制御点からカーブを作成する。入力値が範囲外の点はエラーにする
func NewCurve(points []CurvePoint) (*Curve, error) {
	sorted := make([]CurvePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].In < sorted[j].In })

	for i, p := range sorted {
		if p.In < 0 || p.In > 1 || p.Out < 0 || p.Out > 1 {
			return nil, fmt.Errorf("カーブの制御点が範囲外です: (%v, %v)", p.In, p.Out)
		}
		if i > 0 && sorted[i-1].In == p.In {
			return nil, fmt.Errorf("カーブの制御点の入力値が重複しています: %v", p.In)
		}
	}
	return &Curve{points: sorted}, nil
}

// Map は値をカーブに通す
func (c *Curve) Map(v float64) float64 {
	v = clampFloat(v, 0, 1)
	if c == nil || len(c.points) == 0 {
		return v
	}

	first := c.points[0]
	last := c.points[len(c.points)-1]
	if v <= first.In {
		return first.Out
	}
	if v >= last.In {
		return last.Out
	}

	i := sort.Search(len(c.points), func(i int) bool { return c.points[i].In >= v })
	lo, hi := c.points[i-1], c.points[i]
	t := (v - lo.In) / (hi.In - lo.In)
	return lo.Out + (hi.Out-lo.Out)*t
}

// AxisMapper はドライバーから来た軸の値を範囲内に収める。
// バグのあるドライバーの値がそのまま伝わらないよう必ず通すこと。
type AxisMapper struct {
	PressureCurve *Curve
}

// MapAxis は1つの軸の値を変換する
func (m *AxisMapper) MapAxis(axis Axis, v float64) float64 {
	switch axis {
	case AxisPressure:
		var curve *Curve
		if m != nil {
			curve = m.PressureCurve
		}
		return clampFloat(curve.Map(v), types.MinPressure, types.MaxPressure)
	case AxisXTilt, AxisYTilt:
		return clampFloat(v, types.MinTilt, types.MaxTilt)
	case AxisWheel:
		return clampFloat(v, types.MinWheel, types.MaxWheel)
	default:
		return v
	}
}

// Apply は c のすべての補助軸を変換する
func (m *AxisMapper) Apply(c *types.Coords) {
	c.Pressure = m.MapAxis(AxisPressure, c.Pressure)
	c.XTilt = m.MapAxis(AxisXTilt, c.XTilt)
	c.YTilt = m.MapAxis(AxisYTilt, c.YTilt)
	c.Wheel = m.MapAxis(AxisWheel, c.Wheel)
}
