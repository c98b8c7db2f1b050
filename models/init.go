package models

import (
	"errors"

	"assetgate/errs"
	"assetgate/storage"

	"gorm.io/gorm"
)

func Init(db *gorm.DB) error {
	for _, m := range []interface{}{
		&storage.Bucket{},
		&Asset{},
		&CharacterReference{},
		&Embedding{},
		&GateConfig{},
		&GateResult{},
	} {
		if err := db.AutoMigrate(m); err != nil {
			return err
		}
	}
	return nil
}

// SeedGateConfigs makes sure the default bundle exists and stores the given
// bundles when they are new or differ from their latest version.
func SeedGateConfigs(db *gorm.DB, bundles []GateConfig) error {
	if _, err := GetGateConfig(db, DefaultGateConfigName); err != nil {
		if !errors.Is(err, errs.ErrConfigNotFound) {
			return err
		}
		def := DefaultGateConfig()
		if err = SaveGateConfig(db, &def); err != nil {
			return err
		}
	}
	for i := range bundles {
		latest, err := GetGateConfig(db, bundles[i].Name)
		if err == nil && sameThresholds(latest, bundles[i]) {
			continue
		}
		if err != nil && !errors.Is(err, errs.ErrConfigNotFound) {
			return err
		}
		if err = SaveGateConfig(db, &bundles[i]); err != nil {
			return err
		}
	}
	return nil
}

func sameThresholds(a, b GateConfig) bool {
	return a.MinWidth == b.MinWidth && a.MinHeight == b.MinHeight && a.MaxFileSize == b.MaxFileSize &&
		string(a.AllowedFormats) == string(b.AllowedFormats) && a.MinTechnicalScore == b.MinTechnicalScore &&
		a.MinVisualQuality == b.MinVisualQuality && string(a.VisualBands) == string(b.VisualBands) &&
		a.EmbeddingModel == b.EmbeddingModel && a.AggregationMethod == b.AggregationMethod &&
		a.MinCharacterConsistency == b.MinCharacterConsistency &&
		a.IdentityPromotionThreshold == b.IdentityPromotionThreshold &&
		a.DefaultReferenceWeight == b.DefaultReferenceWeight && a.MaxAutoReferences == b.MaxAutoReferences &&
		a.MinStyleScore == b.MinStyleScore && string(a.GateWeights) == string(b.GateWeights) &&
		a.RequireManualReview == b.RequireManualReview && a.AutoFailOnThreshold == b.AutoFailOnThreshold
}
