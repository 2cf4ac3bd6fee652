package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kataras/golog"

	"github.com/char5742/stroke-eval/internal/display"
	"github.com/char5742/stroke-eval/internal/features"
)

var logger = golog.Child("[config]")

const (
	appName        = "stroke-eval"
	ConfigFileName = "config.toml"
)

// Config はアプリケーション全体の設定を表す構造体
type Config struct {
	Display     DisplayConfig     `toml:"display" json:"display"`
	Motion      MotionConfig      `toml:"motion" json:"motion"`
	Smoothing   SmoothingConfig   `toml:"smoothing" json:"smoothing"`
	Axes        AxesConfig        `toml:"axes" json:"axes"`
	Output      OutputConfig      `toml:"output" json:"output"`
	DevicePrefs DevicePrefsConfig `toml:"device_prefs" json:"device_prefs"`
	Log         LogConfig         `toml:"log" json:"log"`
}

// DisplayConfig は入力を画像座標に写すための表示の設定
type DisplayConfig struct {
	Width            float64 `toml:"width" json:"width"`
	Height           float64 `toml:"height" json:"height"`
	ScaleX           float64 `toml:"scale_x" json:"scale_x"`
	ScaleY           float64 `toml:"scale_y" json:"scale_y"`
	OffsetX          float64 `toml:"offset_x" json:"offset_x"`
	OffsetY          float64 `toml:"offset_y" json:"offset_y"`
	Rotate           float64 `toml:"rotate" json:"rotate"` // 度
	FlipHorizontally bool    `toml:"flip_horizontally" json:"flip_horizontally"`
	FlipVertically   bool    `toml:"flip_vertically" json:"flip_vertically"`
}

// MotionConfig はモーションフィルターの設定
type MotionConfig struct {
	InertiaFactor float64 `toml:"inertia_factor" json:"inertia_factor"`
	// 表示の拡大率がこれを超えると平滑化を行わない
	ExactAboveScale float64 `toml:"exact_above_scale" json:"exact_above_scale"`
	// 押している間は平滑化を行わないキー。0 で無効
	ExactKey int `toml:"exact_key" json:"exact_key"`
	// 相対座標デバイスの1カウントあたりのスクリーンpx
	MouseDeltaFactor float64 `toml:"mouse_delta_factor" json:"mouse_delta_factor"`
}

// SmoothingConfig はストローク平滑化の設定
type SmoothingConfig struct {
	Enabled bool    `toml:"enabled" json:"enabled"`
	Quality int     `toml:"quality" json:"quality"`
	Factor  float64 `toml:"factor" json:"factor"`
}

// AxesConfig は補助軸の設定
type AxesConfig struct {
	// [入力, 出力] の組のリスト
	PressureCurve [][]float64 `toml:"pressure_curve" json:"pressure_curve"`
}

// OutputConfig は仮想ペンの設定
type OutputConfig struct {
	VirtualPen  bool  `toml:"virtual_pen" json:"virtual_pen"`
	MinX        int32 `toml:"min_x" json:"min_x"`
	MaxX        int32 `toml:"max_x" json:"max_x"`
	MinY        int32 `toml:"min_y" json:"min_y"`
	MaxY        int32 `toml:"max_y" json:"max_y"`
	MaxPressure int32 `toml:"max_pressure" json:"max_pressure"`
}

// DevicePrefsConfig はデバイス設定の設定
type DevicePrefsConfig struct {
	PreferredPointerDevice  string `toml:"preferred_pointer_device" json:"preferred_pointer_device"`
	PreferredKeyboardDevice string `toml:"preferred_keyboard_device" json:"preferred_keyboard_device"`
}

type LogConfig struct {
	Level string `toml:"level" json:"level"`
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		Display: DisplayConfig{
			Width:  1920,
			Height: 1080,
			ScaleX: 1.0,
			ScaleY: 1.0,
		},
		Motion: MotionConfig{
			InertiaFactor:    0.4,
			ExactAboveScale:  1.0,
			ExactKey:         0,
			MouseDeltaFactor: 1.0,
		},
		Smoothing: SmoothingConfig{
			Enabled: false,
			Quality: 20,
			Factor:  50,
		},
		Axes: AxesConfig{
			PressureCurve: [][]float64{{0, 0}, {1, 1}},
		},
		Output: OutputConfig{
			VirtualPen:  false,
			MinX:        0,
			MaxX:        32767,
			MinY:        0,
			MaxY:        32767,
			MaxPressure: 4095,
		},
		DevicePrefs: DevicePrefsConfig{
			PreferredPointerDevice:  "",
			PreferredKeyboardDevice: "",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Clone は設定のコピーを返す
func (c *Config) Clone() *Config {
	clone := *c
	clone.Axes.PressureCurve = make([][]float64, len(c.Axes.PressureCurve))
	for i, p := range c.Axes.PressureCurve {
		clone.Axes.PressureCurve[i] = append([]float64(nil), p...)
	}
	return &clone
}

// Validate は設定値の範囲を確認する
func (c *Config) Validate() error {
	var errs []error

	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display の幅と高さは正の値にしてください: %vx%v", c.Display.Width, c.Display.Height))
	}
	if c.Motion.InertiaFactor < 0 || c.Motion.InertiaFactor >= 1 {
		errs = append(errs, fmt.Errorf("inertia_factor は [0,1) の範囲にしてください: %v", c.Motion.InertiaFactor))
	}
	if c.Motion.MouseDeltaFactor <= 0 {
		errs = append(errs, fmt.Errorf("mouse_delta_factor は正の値にしてください: %v", c.Motion.MouseDeltaFactor))
	}
	if c.Smoothing.Quality < 1 {
		errs = append(errs, fmt.Errorf("smoothing.quality は1以上にしてください: %d", c.Smoothing.Quality))
	}
	if c.Smoothing.Factor < 0 {
		errs = append(errs, fmt.Errorf("smoothing.factor は0以上にしてください: %v", c.Smoothing.Factor))
	}
	if _, err := c.PressureCurve(); err != nil {
		errs = append(errs, err)
	}
	if c.Output.MaxX <= c.Output.MinX || c.Output.MaxY <= c.Output.MinY || c.Output.MaxPressure <= 0 {
		errs = append(errs, fmt.Errorf("output の範囲が不正です: %+v", c.Output))
	}

	return errors.Join(errs...)
}

// Transform は表示の設定から座標変換を作成する
func (c *Config) Transform() display.Transform {
	return display.Transform{
		Width:   c.Display.Width,
		Height:  c.Display.Height,
		ScaleX:  c.Display.ScaleX,
		ScaleY:  c.Display.ScaleY,
		OffsetX: c.Display.OffsetX,
		OffsetY: c.Display.OffsetY,
		Rotate:  c.Display.Rotate,
		FlipH:   c.Display.FlipHorizontally,
		FlipV:   c.Display.FlipVertically,
	}
}

// PressureCurve は筆圧カーブを作成する
func (c *Config) PressureCurve() (*features.Curve, error) {
	points := make([]features.CurvePoint, 0, len(c.Axes.PressureCurve))
	for _, p := range c.Axes.PressureCurve {
		if len(p) != 2 {
			return nil, fmt.Errorf("pressure_curve の要素は [入力, 出力] の2つにしてください: %v", p)
		}
		points = append(points, features.CurvePoint{In: p[0], Out: p[1]})
	}
	return features.NewCurve(points)
}

// PenRange は仮想ペンの出力範囲を返す
func (c *Config) PenRange() features.PenRange {
	return features.PenRange{
		MinX:        c.Output.MinX,
		MaxX:        c.Output.MaxX,
		MinY:        c.Output.MinY,
		MaxY:        c.Output.MaxY,
		MaxPressure: c.Output.MaxPressure,
	}
}

// GetDefaultConfigDir はユーザーごとの設定ディレクトリを返す
func GetDefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// DefaultConfigPath はデフォルトの設定ファイルのパスを返す
func DefaultConfigPath() (string, error) {
	dir, err := GetDefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// LoadConfig は設定ファイルから設定を読み込む
func LoadConfig(configPath string) (*Config, error) {
	// ファイルが存在しない場合はデフォルト設定を保存して返す
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := SaveConfig(configPath, config); err != nil {
			return config, err
		}
		logger.Infof("デフォルト設定を書き出しました: %s", configPath)
		return config, nil
	}

	return decodeFile(configPath)
}

// decodeFile はデフォルト設定の上にファイルの内容を読み込む
func decodeFile(configPath string) (*Config, error) {
	config := DefaultConfig()

	md, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
	}
	for _, key := range md.Undecoded() {
		logger.Warnf("不明な設定項目を無視します: %s", key.String())
	}

	if err := config.Validate(); err != nil {
		return DefaultConfig(), fmt.Errorf("設定値が不正です: %w", err)
	}
	return config, nil
}

// SaveConfig は設定をTOMLファイルに保存する
func SaveConfig(configPath string, config *Config) error {
	// 設定ディレクトリの作成
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	// ファイルを開く（なければ作成）
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	// TOML形式でエンコードして書き込み
	encoder := toml.NewEncoder(f)
	return encoder.Encode(config)
}
