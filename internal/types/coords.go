package types

// 各軸の範囲と既定値
const (
	MinPressure     = 0.0
	MaxPressure     = 1.0
	DefaultPressure = 1.0

	MinTilt     = -1.0
	MaxTilt     = 1.0
	DefaultTilt = 0.0

	MinWheel     = 0.0
	MaxWheel     = 1.0
	DefaultWheel = 0.5

	MinVelocity     = 0.0
	MaxVelocity     = 1.0
	DefaultVelocity = 0.0
)

// Coords はポインターの1サンプルを表す。
// Velocity, Direction, Distance, DeltaTime は MotionFilter が埋める派生値。
type Coords struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Pressure  float64 `json:"pressure"`
	XTilt     float64 `json:"xtilt"`
	YTilt     float64 `json:"ytilt"`
	Wheel     float64 `json:"wheel"`
	Velocity  float64 `json:"velocity"`
	Direction float64 `json:"direction"`
	Distance  float64 `json:"distance"`
	DeltaTime float64 `json:"delta_time"`
	Time      int64   `json:"time"`
}

// DefaultCoords は各軸が既定値の座標を返す
func DefaultCoords(x, y float64) Coords {
	return Coords{
		X:        x,
		Y:        y,
		Pressure: DefaultPressure,
		XTilt:    DefaultTilt,
		YTilt:    DefaultTilt,
		Wheel:    DefaultWheel,
		Velocity: DefaultVelocity,
	}
}
