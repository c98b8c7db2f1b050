package gates

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math"
	"os"

	"assetgate/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/m-mizutani/goerr/v2"
)

type technicalGate struct {
	load Loader
}

func (g *technicalGate) Name() string { return GateTechnical }

func (g *technicalGate) Threshold(cfg *models.GateConfig) float64 { return cfg.MinTechnicalScore }

func (g *technicalGate) Evaluate(ctx context.Context, s *Subject) (Outcome, error) {
	cfg := s.Config
	fail := func(reason string, details Details) Outcome {
		return Failed{Score: 0, Threshold: cfg.MinTechnicalScore, Reason: reason, Details: details}
	}

	data, err := g.load.Load(ctx, s.Asset)
	if errors.Is(err, os.ErrNotExist) {
		return fail(ReasonFileMissing, Details{"path": s.Asset.Path}), nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "cannot read asset", goerr.V("path", s.Asset.Path))
	}
	s.Image = data

	details := Details{"file_size": len(data)}
	if cfg.MaxFileSize > 0 && int64(len(data)) > cfg.MaxFileSize {
		details["max_file_size"] = cfg.MaxFileSize
		return fail(ReasonFileTooLarge, details), nil
	}

	mime := mimetype.Detect(data)
	details["format"] = mime.String()
	if allowed := cfg.AllowedFormatList(); len(allowed) > 0 && !formatAllowed(mime, allowed) {
		details["allowed_formats"] = allowed
		return fail(ReasonFormatRejected, details), nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		details["error"] = err.Error()
		return fail(ReasonDecodeFailure, details), nil
	}
	s.decoded = img

	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	details["width"] = width
	details["height"] = height
	if width < int(cfg.MinWidth) || height < int(cfg.MinHeight) {
		details["min_width"] = cfg.MinWidth
		details["min_height"] = cfg.MinHeight
		return fail(ReasonResolutionTooLow, details), nil
	}

	score := technicalScore(width, height, cfg.MinWidth, cfg.MinHeight)
	if score < cfg.MinTechnicalScore {
		return Failed{Score: score, Threshold: cfg.MinTechnicalScore, Reason: ReasonBelowThreshold, Details: details}, nil
	}
	return Passed{Score: score, Details: details}, nil
}

func formatAllowed(mime *mimetype.MIME, allowed []string) bool {
	for _, a := range allowed {
		if mime.Is(a) {
			return true
		}
	}
	return false
}

// technicalScore is 0.9 at the minimum resolution and reaches 1.0 at twice
// the minimum pixel count.
func technicalScore(width, height int, minWidth, minHeight uint32) float64 {
	minPixels := float64(minWidth) * float64(minHeight)
	if minPixels <= 0 {
		return 1
	}
	bonus := float64(width)*float64(height)/minPixels - 1
	bonus = math.Max(0, math.Min(1, bonus))
	return math.Round((0.9+0.1*bonus)*1e9) / 1e9
}
