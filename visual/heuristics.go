package visual

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"assetgate/errs"

	"github.com/m-mizutani/goerr/v2"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type Components struct {
	Brightness    float64 `json:"brightness"`
	Contrast      float64 `json:"contrast"`
	ColorVariance float64 `json:"color_variance"`
	Sharpness     float64 `json:"sharpness"`
	Saturation    float64 `json:"saturation"`
}

// Result carries the folded score, the component scores and the raw
// measurements they were derived from.
type Result struct {
	Overall    float64    `json:"overall"`
	Components Components `json:"components"`
	Raw        Components `json:"raw"`
}

type Scorer struct {
	Config Config
}

func NewScorer(cfg Config) *Scorer {
	if !cfg.Valid() {
		cfg = DefaultConfig()
	}
	return &Scorer{Config: cfg}
}

// ScoreBytes decodes the image and scores it.
func (s *Scorer) ScoreBytes(data []byte) (Result, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, goerr.Wrap(errs.ErrDecodeFailure, err.Error())
	}
	return s.Score(img), nil
}

func (s *Scorer) Score(img image.Image) Result {
	raw := Measure(img, s.Config.MaxDimension)
	c := s.Config
	comp := Components{
		Brightness:    c.Brightness.Score(raw.Brightness),
		Contrast:      c.Contrast.Score(raw.Contrast),
		ColorVariance: c.ColorVariance.Score(raw.ColorVariance),
		Sharpness:     c.Sharpness.Score(raw.Sharpness),
		Saturation:    c.Saturation.Score(raw.Saturation),
	}
	w := c.Weights
	overall := (comp.Brightness*w.Brightness +
		comp.Contrast*w.Contrast +
		comp.ColorVariance*w.ColorVariance +
		comp.Sharpness*w.Sharpness +
		comp.Saturation*w.Saturation) / w.sum()
	return Result{Overall: overall, Components: comp, Raw: raw}
}

// Measure computes the raw pixel statistics. Images larger than maxDim on
// either side are downscaled first.
func Measure(img image.Image, maxDim uint) Components {
	if maxDim > 0 {
		img = resize.Thumbnail(maxDim, maxDim, img, resize.Bilinear)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	n := float64(w * h)
	if n == 0 {
		return Components{}
	}

	luma := make([]float64, w*h)
	var sumY, sumY2, sumSat float64
	var sumC, sumC2 [3]float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r16, g16, b16, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb := [3]float64{float64(r16>>8) / 255, float64(g16>>8) / 255, float64(b16>>8) / 255}
			lum := 0.299*rgb[0] + 0.587*rgb[1] + 0.114*rgb[2]
			luma[y*w+x] = lum
			sumY += lum
			sumY2 += lum * lum
			for i, v := range rgb {
				sumC[i] += v
				sumC2[i] += v * v
			}
			mx := math.Max(rgb[0], math.Max(rgb[1], rgb[2]))
			mn := math.Min(rgb[0], math.Min(rgb[1], rgb[2]))
			if mx > 0 {
				sumSat += (mx - mn) / mx
			}
		}
	}

	var colorStd float64
	for i := range sumC {
		colorStd += stdDev(sumC[i], sumC2[i], n)
	}
	return Components{
		Brightness:    sumY / n,
		Contrast:      stdDev(sumY, sumY2, n),
		ColorVariance: colorStd / 3,
		Sharpness:     laplacianVariance(luma, w, h),
		Saturation:    sumSat / n,
	}
}

func stdDev(sum, sumSq, n float64) float64 {
	mean := sum / n
	v := sumSq/n - mean*mean
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// laplacianVariance uses the 4-neighbour kernel over the interior pixels, on a
// 0..255 luma scale.
func laplacianVariance(luma []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			v := 255 * (luma[i-w] + luma[i+w] + luma[i-1] + luma[i+1] - 4*luma[i])
			sum += v
			sumSq += v * v
		}
	}
	n := float64((w - 2) * (h - 2))
	mean := sum / n
	return sumSq/n - mean*mean
}
