package features

import (
	"math"

	"github.com/char5742/stroke-eval/internal/types"
)

// StrokeSmoother はストロークの履歴から位置をガウス重み付き平均で平滑化する。
// 窓関数は新しい点から遡った速度の累積で減衰するため、速く動いた区間ほど効きが弱い。
type StrokeSmoother struct {
	quality int     // 平均に使う履歴の長さ
	factor  float64 // ガウス関数の幅
	history []types.Coords
}

// NewStrokeSmoother は平滑化器を作成する
func NewStrokeSmoother(quality int, factor float64) *StrokeSmoother {
	return &StrokeSmoother{
		quality: quality,
		factor:  factor,
	}
}

// Smooth は c を履歴に追加し、c の X, Y を平滑化後の位置に書き換える
func (s *StrokeSmoother) Smooth(c *types.Coords) {
	if s.quality <= 0 {
		return
	}

	s.history = append(s.history, *c)
	if len(s.history) > s.quality {
		// 古い履歴は使わない
		s.history = append(s.history[:0], s.history[len(s.history)-s.quality:]...)
	}

	if len(s.history) < 2 || s.factor == 0 {
		return
	}

	weight := 1 / (math.Sqrt(2*math.Pi) * s.factor)
	weight2 := s.factor * s.factor

	var x, y, scaleSum, velocitySum float64
	for i := len(s.history) - 1; i >= 0; i-- {
		h := s.history[i]
		velocitySum += h.Velocity * 100
		rate := weight * math.Exp(-velocitySum*velocitySum/(2*weight2))

		scaleSum += rate
		x += rate * h.X
		y += rate * h.Y
	}

	if scaleSum > 0 {
		c.X = x / scaleSum
		c.Y = y / scaleSum
	}
}

// Len は保持している履歴の数を返す
func (s *StrokeSmoother) Len() int {
	return len(s.history)
}

// Reset はストロークの終わりに履歴を破棄する
func (s *StrokeSmoother) Reset() {
	s.history = s.history[:0]
}

func (s *StrokeSmoother) Quality() int {
	return s.quality
}

func (s *StrokeSmoother) Factor() float64 {
	return s.factor
}
