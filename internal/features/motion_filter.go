package features

import (
	"math"

	"github.com/char5742/stroke-eval/internal/types"
)

const (
	smoothFactor = 0.3 // 経過時間と速度の指数平滑化係数
	velocityUnit = 3.0 // スクリーン上の px/ms をおおよそ [0,1] に写す係数

	maxDeviationUnit  = 20.0 // 慣性1.0あたりに許す元の位置からのずれ (px)
	maxPullIterations = 64
)

// MotionFilter はポインターの移動サンプルを評価し、
// 解像度以下の移動を捨て、速度を推定し、慣性による位置の平滑化を行う。
// 入力ストリーム（デバイスと表示の組）ごとに1つ持ち、複数のゴルーチンから使ってはならない。
type MotionFilter struct {
	lastCoords    types.Coords // 最後に受理したサンプル（平滑化後）
	lastDeltaTime float64
	lastDeltaX    float64
	lastDeltaY    float64
	lastDistance  float64
	lastTime      int64
	started       bool
}

// 新しいモーションフィルターを作成します
func NewMotionFilter() *MotionFilter {
	return &MotionFilter{}
}

// Eval はサンプル c を評価する。受理した場合は true を返し、
// c の X, Y を平滑化後の位置に、Velocity などの派生値を計算結果に書き換える。
// 棄却した場合は c もフィルターの状態も変更しない。
//
// inertiaFactor は [0,1) の平滑化の強さで、0 を渡すと位置の平滑化を行わない。
// time はミリ秒のタイムスタンプ、scaleX と scaleY は表示の拡大率。
func (mf *MotionFilter) Eval(c *types.Coords, inertiaFactor float64, time int64, scaleX, scaleY float64) bool {
	scaleX = positiveScale(scaleX)
	scaleY = positiveScale(scaleY)

	// 最初のサンプルは比較対象がないので無条件に受理する
	if !mf.started {
		c.Velocity = 1.0
		c.Distance = 0
		c.DeltaTime = 0
		c.Time = time
		mf.store(c, time, 0, 0, 0, 0)
		return true
	}

	deltaX := mf.lastCoords.X - c.X
	deltaY := mf.lastCoords.Y - c.Y

	// 画面の解像度より小さい移動は意味がない
	filter := math.Min(1/scaleX, 1/scaleY) / 2
	if math.Abs(deltaX) < filter && math.Abs(deltaY) < filter {
		return false
	}

	deltaTime := mf.lastDeltaTime*(1-smoothFactor) + float64(time-mf.lastTime)*smoothFactor
	distance := math.Hypot(deltaX, deltaY)

	velocity := mf.lastCoords.Velocity
	if deltaTime > 0 {
		// 人の操作感に合わせるため速度はスクリーン座標で測る
		screenDistance := distance * math.Min(scaleX, scaleY)
		raw := screenDistance / deltaTime / velocityUnit

		k := math.Min(smoothFactor, raw)
		velocity = mf.lastCoords.Velocity*(1-k) + raw*k
	}
	velocity = clampFloat(velocity, types.MinVelocity, types.MaxVelocity)

	// 速く動かしているときほど平滑化を弱くする
	inertiaFactor *= 1 - velocity

	if inertiaFactor > 0 && distance > 0 && mf.lastDistance > 0 {
		deltaX, deltaY = mf.blendDirection(c, deltaX, deltaY, distance, inertiaFactor)
		distance = math.Hypot(deltaX, deltaY)
	}

	c.Velocity = velocity
	c.Distance = distance
	c.DeltaTime = deltaTime
	c.Time = time
	if distance > 0 {
		c.Direction = direction(-deltaX, -deltaY)
	} else {
		c.Direction = mf.lastCoords.Direction
	}

	mf.store(c, time, deltaTime, deltaX, deltaY, distance)
	return true
}

// blendDirection は前回と今回の移動方向を慣性で重み付けして混ぜ、
// 元の位置から maxDeviationUnit*inertiaFactor 以上離れない点に c を移動する。
// 移動後の前回サンプルからの差分を返す。
func (mf *MotionFilter) blendDirection(c *types.Coords, deltaX, deltaY, distance, inertiaFactor float64) (float64, float64) {
	sinNew := clampFloat(deltaX/distance, -1, 1)
	sinOld := clampFloat(mf.lastDeltaX/mf.lastDistance, -1, 1)
	sinAvg := math.Sin(math.Asin(sinOld)*inertiaFactor + math.Asin(sinNew)*(1-inertiaFactor))

	cosNew := clampFloat(deltaY/distance, -1, 1)
	cosOld := clampFloat(mf.lastDeltaY/mf.lastDistance, -1, 1)
	cosAvg := math.Cos(math.Acos(cosOld)*inertiaFactor + math.Acos(cosNew)*(1-inertiaFactor))

	blendX := sinAvg * distance
	blendY := cosAvg * distance

	newX := (mf.lastCoords.X-blendX)*0.5 + c.X*0.5
	newY := (mf.lastCoords.Y-blendY)*0.5 + c.Y*0.5

	maxDeviation := sqr(maxDeviationUnit * inertiaFactor)
	deviation := sqr(c.X-newX) + sqr(c.Y-newY)

	for i := 0; deviation >= maxDeviation; i++ {
		if i == maxPullIterations {
			// 許容範囲が極端に小さいときは元の位置を使う
			newX, newY = c.X, c.Y
			break
		}
		newX = newX*0.8 + c.X*0.2
		newY = newY*0.8 + c.Y*0.2
		deviation = sqr(c.X-newX) + sqr(c.Y-newY)
	}

	c.X = newX
	c.Y = newY

	return mf.lastCoords.X - c.X, mf.lastCoords.Y - c.Y
}

func (mf *MotionFilter) store(c *types.Coords, time int64, deltaTime, deltaX, deltaY, distance float64) {
	mf.lastCoords = *c
	mf.lastTime = time
	mf.lastDeltaTime = deltaTime
	mf.lastDeltaX = deltaX
	mf.lastDeltaY = deltaY
	mf.lastDistance = distance
	mf.started = true
}

// LastCoords は最後に受理したサンプルを返す
func (mf *MotionFilter) LastCoords() types.Coords {
	return mf.lastCoords
}

// Started は最初のサンプルを受理済みかどうかを返す
func (mf *MotionFilter) Started() bool {
	return mf.started
}

// フィルターの状態をリセットします
func (mf *MotionFilter) Reset() {
	*mf = MotionFilter{}
}

// direction は移動ベクトルの向きを [0,1) で返す
func direction(dx, dy float64) float64 {
	d := math.Atan2(dy, dx) / (2 * math.Pi)
	if d < 0 {
		d += 1
	}
	if d >= 1 {
		d = 0
	}
	return d
}

func positiveScale(s float64) float64 {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 1
	}
	return s
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func sqr(v float64) float64 {
	return v * v
}
