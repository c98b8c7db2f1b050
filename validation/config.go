package validation

import (
	"context"

	"assetgate/errs"
	"assetgate/models"
	"assetgate/similarity"

	"github.com/m-mizutani/goerr/v2"
)

func (s *Service) ListConfigs(ctx context.Context) ([]models.GateConfig, error) {
	return models.ListGateConfigs(s.db.WithContext(ctx))
}

// GetConfig returns a stored bundle, the latest version when version is 0
func (s *Service) GetConfig(ctx context.Context, name string, version int) (models.GateConfig, error) {
	if version > 0 {
		return models.GetGateConfigVersion(s.db.WithContext(ctx), name, version)
	}
	return models.GetGateConfig(s.db.WithContext(ctx), name)
}

// SaveConfig stores cfg as a new version of its name
func (s *Service) SaveConfig(ctx context.Context, cfg *models.GateConfig) error {
	if err := CheckConfig(cfg); err != nil {
		return err
	}
	if err := models.SaveGateConfig(s.db.WithContext(ctx), cfg); err != nil {
		return goerr.Wrap(err, "cannot save gate config", goerr.V("name", cfg.Name))
	}
	s.log.Info("gate config saved", "name", cfg.Name, "version", cfg.Version)
	return nil
}

// CheckConfig rejects bundles the pipeline cannot run with
func CheckConfig(cfg *models.GateConfig) error {
	if cfg.Name == "" {
		return goerr.Wrap(errs.ErrInvalidInput, "gate config name is required")
	}
	if !similarity.Method(cfg.AggregationMethod).Valid() {
		return goerr.Wrap(errs.ErrInvalidInput, "unknown aggregation method", goerr.V("method", cfg.AggregationMethod))
	}
	if cfg.EmbeddingModel == "" {
		return goerr.Wrap(errs.ErrInvalidInput, "embedding model is required")
	}
	for name, v := range map[string]float64{
		"min_technical_score":          cfg.MinTechnicalScore,
		"min_visual_quality":           cfg.MinVisualQuality,
		"min_character_consistency":    cfg.MinCharacterConsistency,
		"identity_promotion_threshold": cfg.IdentityPromotionThreshold,
		"min_style_score":              cfg.MinStyleScore,
	} {
		if v < 0 || v > 1 {
			return goerr.Wrap(errs.ErrInvalidInput, "threshold out of range", goerr.V("field", name), goerr.V("value", v))
		}
	}
	if cfg.DefaultReferenceWeight < models.MinReferenceWeight || cfg.DefaultReferenceWeight > models.MaxReferenceWeight {
		return goerr.Wrap(errs.ErrInvalidInput, "default reference weight out of range", goerr.V("value", cfg.DefaultReferenceWeight))
	}
	if cfg.MaxAutoReferences < 0 {
		return goerr.Wrap(errs.ErrInvalidInput, "max auto references cannot be negative")
	}
	if v := cfg.Visual(); !v.Valid() {
		return goerr.Wrap(errs.ErrInvalidInput, "invalid visual bands")
	}
	return nil
}
