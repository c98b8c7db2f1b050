package gates

import (
	"context"

	"assetgate/models"
	"assetgate/visual"
)

type visualGate struct{}

func (g *visualGate) Name() string { return GateVisual }

func (g *visualGate) Threshold(cfg *models.GateConfig) float64 { return cfg.MinVisualQuality }

func (g *visualGate) Evaluate(ctx context.Context, s *Subject) (Outcome, error) {
	cfg := s.Config
	scorer := visual.NewScorer(cfg.Visual())

	var res visual.Result
	if s.decoded != nil {
		res = scorer.Score(s.decoded)
	} else {
		var err error
		if res, err = scorer.ScoreBytes(s.Image); err != nil {
			return Failed{Threshold: cfg.MinVisualQuality, Reason: ReasonDecodeFailure, Details: Details{"error": err.Error()}}, nil
		}
	}

	details := Details{"components": res.Components, "raw": res.Raw}
	if res.Overall < cfg.MinVisualQuality {
		return Failed{Score: res.Overall, Threshold: cfg.MinVisualQuality, Reason: ReasonBelowThreshold, Details: details}, nil
	}
	return Passed{Score: res.Overall, Details: details}, nil
}
