package visual

// Band is a plateau scoring curve: 1.0 inside [GoodLow, GoodHigh], Floor at or
// beyond Low/High and linear in between.
type Band struct {
	Low      float64 `json:"low" yaml:"low"`
	GoodLow  float64 `json:"good_low" yaml:"good_low"`
	GoodHigh float64 `json:"good_high" yaml:"good_high"`
	High     float64 `json:"high" yaml:"high"`
	Floor    float64 `json:"floor" yaml:"floor"`
}

func (b Band) Score(v float64) float64 {
	switch {
	case v >= b.GoodLow && v <= b.GoodHigh:
		return 1
	case v <= b.Low || v >= b.High:
		return b.Floor
	case v < b.GoodLow:
		return b.Floor + (1-b.Floor)*(v-b.Low)/(b.GoodLow-b.Low)
	default:
		return b.Floor + (1-b.Floor)*(b.High-v)/(b.High-b.GoodHigh)
	}
}

func (b Band) valid() bool {
	return b.Low <= b.GoodLow && b.GoodLow <= b.GoodHigh && b.GoodHigh <= b.High &&
		b.Floor >= 0 && b.Floor <= 1
}

// Weights of the component scores, expected to sum to 1.0
type Weights struct {
	Brightness    float64 `json:"brightness" yaml:"brightness"`
	Contrast      float64 `json:"contrast" yaml:"contrast"`
	ColorVariance float64 `json:"color_variance" yaml:"color_variance"`
	Sharpness     float64 `json:"sharpness" yaml:"sharpness"`
	Saturation    float64 `json:"saturation" yaml:"saturation"`
}

func (w Weights) sum() float64 {
	return w.Brightness + w.Contrast + w.ColorVariance + w.Sharpness + w.Saturation
}

// Config holds the tunable bands, retuned per art style.
type Config struct {
	Brightness    Band    `json:"brightness" yaml:"brightness"`       // mean luma, 0..1
	Contrast      Band    `json:"contrast" yaml:"contrast"`           // luma std-dev, 0..0.5
	ColorVariance Band    `json:"color_variance" yaml:"color_variance"` // mean RGB std-dev, 0..0.5
	Sharpness     Band    `json:"sharpness" yaml:"sharpness"`         // Laplacian variance on 0..255 luma
	Saturation    Band    `json:"saturation" yaml:"saturation"`       // mean HSV saturation, 0..1
	Weights       Weights `json:"weights" yaml:"weights"`
	MaxDimension  uint    `json:"max_dimension" yaml:"max_dimension"` // images are downscaled to fit before measuring
}

func DefaultConfig() Config {
	return Config{
		Brightness:    Band{Low: 0.10, GoodLow: 0.30, GoodHigh: 0.70, High: 0.90, Floor: 0.1},
		Contrast:      Band{Low: 0.03, GoodLow: 0.12, GoodHigh: 0.30, High: 0.45, Floor: 0.1},
		ColorVariance: Band{Low: 0.02, GoodLow: 0.08, GoodHigh: 0.30, High: 0.45, Floor: 0.1},
		Sharpness:     Band{Low: 10, GoodLow: 100, GoodHigh: 3000, High: 12000, Floor: 0.1},
		Saturation:    Band{Low: 0.05, GoodLow: 0.20, GoodHigh: 0.60, High: 0.90, Floor: 0.1},
		// Blur and flat images are the most common generation defects
		Weights: Weights{
			Brightness:    0.15,
			Contrast:      0.25,
			ColorVariance: 0.15,
			Sharpness:     0.30,
			Saturation:    0.15,
		},
		MaxDimension: 512,
	}
}

// Valid reports whether every band is ordered and the weights are positive.
func (c Config) Valid() bool {
	for _, b := range []Band{c.Brightness, c.Contrast, c.ColorVariance, c.Sharpness, c.Saturation} {
		if !b.valid() {
			return false
		}
	}
	return c.Weights.sum() > 0
}
