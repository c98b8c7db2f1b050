package gates

import (
	"context"

	"assetgate/embedding"
	"assetgate/models"
	"assetgate/references"
	"assetgate/similarity"
)

type identityGate struct {
	embedder embedding.Embedder
	curator  Curator
}

func (g *identityGate) Name() string { return GateIdentity }

func (g *identityGate) Threshold(cfg *models.GateConfig) float64 { return cfg.MinCharacterConsistency }

func (g *identityGate) Evaluate(ctx context.Context, s *Subject) (Outcome, error) {
	cfg := s.Config
	if s.Character == "" {
		return Passed{Score: 1, Details: Details{"reason": "no_character"}}, nil
	}

	emb, err := g.embedder.Embed(ctx, s.Image, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	s.Embedding = &emb

	active, err := g.curator.ActiveReferences(ctx, s.Character, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	s.References = active

	refs := references.Similarity(active, references.IdentityTypes...)
	res, err := similarity.Consistency(emb.Vector, refs, similarity.Method(cfg.AggregationMethod))
	if err != nil {
		return nil, err
	}
	s.Identity = &res

	details := Details{
		"model":           cfg.EmbeddingModel,
		"method":          res.Method,
		"references":      len(refs),
		"first_reference": res.FirstReference,
		"confidence":      emb.Confidence,
	}
	if len(refs) > 0 {
		details["best_reference"] = res.BestID
		details["similarities"] = res.Similarities
	}
	if !res.FirstReference && res.Score < cfg.MinCharacterConsistency {
		return Failed{Score: res.Score, Threshold: cfg.MinCharacterConsistency, Reason: ReasonBelowThreshold, Details: details}, nil
	}
	return Passed{Score: res.Score, Details: details}, nil
}

// styleGate compares the candidate with the character's style guide
// references. Without any it passes as a placeholder.
type styleGate struct{}

func (g *styleGate) Name() string { return GateStyle }

func (g *styleGate) Threshold(cfg *models.GateConfig) float64 { return cfg.MinStyleScore }

func (g *styleGate) Evaluate(ctx context.Context, s *Subject) (Outcome, error) {
	cfg := s.Config
	refs := references.Similarity(s.References, models.ReferenceStyleGuide)
	if s.Embedding == nil || len(refs) == 0 {
		return Passed{Score: 1, Details: Details{"reason": "no_style_reference"}}, nil
	}
	res, err := similarity.Consistency(s.Embedding.Vector, refs, similarity.BestMatch)
	if err != nil {
		return nil, err
	}
	details := Details{"references": len(refs), "best_reference": res.BestID}
	if res.Score < cfg.MinStyleScore {
		return Failed{Score: res.Score, Threshold: cfg.MinStyleScore, Reason: ReasonBelowThreshold, Details: details}, nil
	}
	return Passed{Score: res.Score, Details: details}, nil
}
