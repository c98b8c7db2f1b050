package models

import (
	"encoding/json"
	"errors"
	"os"

	"assetgate/errs"
	"assetgate/visual"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultGateConfigName = "default"

// GateConfig is a named, versioned bundle of gate thresholds. Rows are never
// updated: saving an edit creates the next version so that stored results
// stay reproducible.
type GateConfig struct {
	ID        uint64 `gorm:"primaryKey" json:"id"`
	CreatedAt int64  `json:"created_at"`
	Name      string `gorm:"type:varchar(100);index:uniq_name_version,unique,priority:1;not null" json:"name"`
	Version   int    `gorm:"index:uniq_name_version,unique,priority:2;not null" json:"version"`

	// Technical gate
	MinWidth          uint32         `json:"min_width"`
	MinHeight         uint32         `json:"min_height"`
	MaxFileSize       int64          `json:"max_file_size"`
	AllowedFormats    datatypes.JSON `json:"allowed_formats"` // mime types
	MinTechnicalScore float64        `json:"min_technical_score"`

	// Visual gate
	MinVisualQuality float64        `json:"min_visual_quality"`
	VisualBands      datatypes.JSON `json:"visual_bands"` // visual.Config, empty means defaults

	// Identity gate
	EmbeddingModel             string  `gorm:"type:varchar(100)" json:"embedding_model"`
	AggregationMethod          string  `gorm:"type:varchar(30)" json:"aggregation_method"`
	MinCharacterConsistency    float64 `json:"min_character_consistency"`
	IdentityPromotionThreshold float64 `json:"identity_promotion_threshold"`
	DefaultReferenceWeight     float64 `json:"default_reference_weight"`
	MaxAutoReferences          int     `json:"max_auto_references"`

	// Style gate
	MinStyleScore float64 `json:"min_style_score"`

	GateWeights         datatypes.JSON `json:"gate_weights"` // gate name -> weight in the overall score
	RequireManualReview bool           `json:"require_manual_review"`
	AutoFailOnThreshold bool           `json:"auto_fail_on_threshold"`
}

// DefaultGateConfig is used whenever a named bundle cannot be found
func DefaultGateConfig() GateConfig {
	cfg := GateConfig{
		Name:                       DefaultGateConfigName,
		Version:                    1,
		MinWidth:                   512,
		MinHeight:                  512,
		MaxFileSize:                20 << 20,
		MinTechnicalScore:          0.5,
		MinVisualQuality:           0.6,
		EmbeddingModel:             "dlib_face_v1",
		AggregationMethod:          "weighted_average",
		MinCharacterConsistency:    0.75,
		IdentityPromotionThreshold: 0.8,
		DefaultReferenceWeight:     1.0,
		MaxAutoReferences:          10,
		MinStyleScore:              0.6,
		AutoFailOnThreshold:        true,
	}
	cfg.SetAllowedFormats([]string{"image/png", "image/jpeg", "image/webp"})
	return cfg
}

func (c *GateConfig) AllowedFormatList() (result []string) {
	if len(c.AllowedFormats) == 0 {
		return nil
	}
	_ = json.Unmarshal(c.AllowedFormats, &result)
	return
}

func (c *GateConfig) SetAllowedFormats(formats []string) {
	c.AllowedFormats, _ = json.Marshal(formats)
}

func (c *GateConfig) Visual() visual.Config {
	cfg := visual.DefaultConfig()
	if len(c.VisualBands) > 0 {
		_ = json.Unmarshal(c.VisualBands, &cfg)
	}
	return cfg
}

func (c *GateConfig) SetVisual(v visual.Config) {
	c.VisualBands, _ = json.Marshal(v)
}

// GateWeight defaults to 1 for gates without an explicit weight
func (c *GateConfig) GateWeight(gate string) float64 {
	weights := map[string]float64{}
	if len(c.GateWeights) > 0 {
		_ = json.Unmarshal(c.GateWeights, &weights)
	}
	if w, ok := weights[gate]; ok && w >= 0 {
		return w
	}
	return 1
}

// GetGateConfig returns the latest version of the named bundle
func GetGateConfig(db *gorm.DB, name string) (cfg GateConfig, err error) {
	res := db.Where("name = ?", name).Order("version DESC").Limit(1).Find(&cfg)
	if res.Error != nil {
		return cfg, res.Error
	}
	if res.RowsAffected == 0 {
		return cfg, goerr.Wrap(errs.ErrConfigNotFound, "no such gate config", goerr.V("name", name))
	}
	return cfg, nil
}

func GetGateConfigVersion(db *gorm.DB, name string, version int) (cfg GateConfig, err error) {
	err = db.Where("name = ? AND version = ?", name, version).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cfg, goerr.Wrap(errs.ErrConfigNotFound, "no such gate config version",
			goerr.V("name", name), goerr.V("version", version))
	}
	return
}

// SaveGateConfig stores cfg as the next version of its name
func SaveGateConfig(db *gorm.DB, cfg *GateConfig) error {
	if cfg.Name == "" {
		return goerr.Wrap(errs.ErrInvalidInput, "gate config name is required")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var last GateConfig
		if err := tx.Select("version").Where("name = ?", cfg.Name).Order("version DESC").Limit(1).Find(&last).Error; err != nil {
			return err
		}
		cfg.ID = 0
		cfg.CreatedAt = 0
		cfg.Version = last.Version + 1
		return tx.Create(cfg).Error
	})
}

// ListGateConfigs returns the latest version of every bundle
func ListGateConfigs(db *gorm.DB) (result []GateConfig, err error) {
	err = db.Where("version = (SELECT MAX(g2.version) FROM gate_configs g2 WHERE g2.name = gate_configs.name)").
		Order("name").Find(&result).Error
	return
}

type yamlGateConfig struct {
	Name                       string             `yaml:"name"`
	MinWidth                   *uint32            `yaml:"min_width"`
	MinHeight                  *uint32            `yaml:"min_height"`
	MaxFileSize                *int64             `yaml:"max_file_size"`
	AllowedFormats             []string           `yaml:"allowed_formats"`
	MinTechnicalScore          *float64           `yaml:"min_technical_score"`
	MinVisualQuality           *float64           `yaml:"min_visual_quality"`
	Visual                     yaml.Node          `yaml:"visual"`
	EmbeddingModel             string             `yaml:"embedding_model"`
	AggregationMethod          string             `yaml:"aggregation_method"`
	MinCharacterConsistency    *float64           `yaml:"min_character_consistency"`
	IdentityPromotionThreshold *float64           `yaml:"identity_promotion_threshold"`
	DefaultReferenceWeight     *float64           `yaml:"default_reference_weight"`
	MaxAutoReferences          *int               `yaml:"max_auto_references"`
	MinStyleScore              *float64           `yaml:"min_style_score"`
	GateWeights                map[string]float64 `yaml:"gate_weights"`
	RequireManualReview        *bool              `yaml:"require_manual_review"`
	AutoFailOnThreshold        *bool              `yaml:"auto_fail_on_threshold"`
}

// ParseGateConfigs reads bundles from YAML. Missing keys keep the defaults.
//
//	configs:
//	  - name: strict
//	    min_width: 1024
//	    min_character_consistency: 0.85
func ParseGateConfigs(data []byte) ([]GateConfig, error) {
	var doc struct {
		Configs []yamlGateConfig `yaml:"configs"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse gate configs")
	}
	result := []GateConfig{}
	for i, y := range doc.Configs {
		if y.Name == "" {
			return nil, goerr.New("gate config without name", goerr.V("index", i))
		}
		cfg := DefaultGateConfig()
		cfg.Name = y.Name
		setIf(&cfg.MinWidth, y.MinWidth)
		setIf(&cfg.MinHeight, y.MinHeight)
		setIf(&cfg.MaxFileSize, y.MaxFileSize)
		setIf(&cfg.MinTechnicalScore, y.MinTechnicalScore)
		setIf(&cfg.MinVisualQuality, y.MinVisualQuality)
		setIf(&cfg.MinCharacterConsistency, y.MinCharacterConsistency)
		setIf(&cfg.IdentityPromotionThreshold, y.IdentityPromotionThreshold)
		setIf(&cfg.DefaultReferenceWeight, y.DefaultReferenceWeight)
		setIf(&cfg.MaxAutoReferences, y.MaxAutoReferences)
		setIf(&cfg.MinStyleScore, y.MinStyleScore)
		setIf(&cfg.RequireManualReview, y.RequireManualReview)
		setIf(&cfg.AutoFailOnThreshold, y.AutoFailOnThreshold)
		if len(y.AllowedFormats) > 0 {
			cfg.SetAllowedFormats(y.AllowedFormats)
		}
		if y.Visual.Kind != 0 {
			v := visual.DefaultConfig()
			if err := y.Visual.Decode(&v); err != nil {
				return nil, goerr.Wrap(err, "invalid visual bands", goerr.V("name", y.Name))
			}
			cfg.SetVisual(v)
		}
		if y.EmbeddingModel != "" {
			cfg.EmbeddingModel = y.EmbeddingModel
		}
		if y.AggregationMethod != "" {
			cfg.AggregationMethod = y.AggregationMethod
		}
		if len(y.GateWeights) > 0 {
			cfg.GateWeights, _ = json.Marshal(y.GateWeights)
		}
		result = append(result, cfg)
	}
	return result, nil
}

func LoadGateConfigFile(path string) ([]GateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read gate config file", goerr.V("path", path))
	}
	return ParseGateConfigs(data)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
