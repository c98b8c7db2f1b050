package models

import (
	"errors"
	"strings"
	"time"

	"assetgate/errs"
	"assetgate/storage"

	"github.com/m-mizutani/goerr/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QualityStatus string

const (
	StatusUnvalidated  QualityStatus = "unvalidated"
	StatusPassed       QualityStatus = "passed"
	StatusFailed       QualityStatus = "failed"
	StatusManualReview QualityStatus = "manual_review"
)

// Asset is one generated image. The quality fields are a cached projection of
// the latest pipeline run, written only by SaveRun.
type Asset struct {
	ID               uint64         `gorm:"primaryKey" json:"id"`
	CreatedAt        int64          `gorm:"index" json:"created_at"`
	UpdatedAt        int64          `json:"updated_at"`
	BucketID         uint64         `gorm:"index:uniq_bucket_path,unique,priority:1;not null" json:"bucket_id"`
	Bucket           storage.Bucket `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	Path             string         `gorm:"type:varchar(700);index:uniq_bucket_path,unique,priority:2;not null" json:"path"`
	Hash             string         `gorm:"type:varchar(64);index" json:"hash"`
	Size             int64          `json:"size"`
	Width            uint32         `json:"width"`
	Height           uint32         `json:"height"`
	MimeType         string         `gorm:"type:varchar(50)" json:"mime_type"`
	CharacterName    string         `gorm:"type:varchar(200);index:character_status,priority:1" json:"character_name,omitempty"`
	Prompt           string         `gorm:"type:text" json:"prompt,omitempty"`
	QualityStatus    QualityStatus  `gorm:"type:varchar(20);index:character_status,priority:2;not null;default:unvalidated" json:"quality_status"`
	TechnicalScore   *float64       `json:"technical_score"`
	VisualScore      *float64       `json:"visual_score"`
	ConsistencyScore *float64       `json:"consistency_score"`
	ValidatedAt      *int64         `json:"validated_at"`
}

func (a *Asset) BeforeSave(tx *gorm.DB) (err error) {
	a.CharacterName = strings.TrimSpace(a.CharacterName)
	if a.QualityStatus == "" {
		a.QualityStatus = StatusUnvalidated
	}
	return
}

func GetAsset(db *gorm.DB, id uint64) (asset Asset, err error) {
	err = db.Preload("Bucket").First(&asset, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return asset, goerr.Wrap(errs.ErrAssetNotFound, "no asset with this id", goerr.V("id", id))
	}
	return
}

func GetAssetByPath(db *gorm.DB, bucketID uint64, path string) (asset Asset, err error) {
	// A miss is expected when registering, Find keeps it out of the gorm log
	res := db.Preload("Bucket").Where("bucket_id = ? AND path = ?", bucketID, path).Limit(1).Find(&asset)
	if res.Error != nil {
		return asset, res.Error
	}
	if res.RowsAffected == 0 {
		return asset, goerr.Wrap(errs.ErrAssetNotFound, "no asset at this path", goerr.V("path", path))
	}
	return asset, nil
}

// CreateAsset inserts the asset, or refreshes the content fields of the one
// already registered at the same (bucket, path) and loads it into asset.
func CreateAsset(db *gorm.DB, asset *Asset) error {
	existing, err := GetAssetByPath(db, asset.BucketID, asset.Path)
	if err != nil {
		if !errors.Is(err, errs.ErrAssetNotFound) {
			return err
		}
		return db.Omit(clause.Associations).Create(asset).Error
	}
	if existing.Hash != asset.Hash {
		existing.Hash = asset.Hash
		existing.Size = asset.Size
		existing.Width = asset.Width
		existing.Height = asset.Height
		existing.MimeType = asset.MimeType
	}
	if asset.CharacterName != "" {
		existing.CharacterName = asset.CharacterName
	}
	if asset.Prompt != "" {
		existing.Prompt = asset.Prompt
	}
	if err = db.Omit(clause.Associations).Save(&existing).Error; err != nil {
		return err
	}
	*asset = existing
	return nil
}

// UpdateAssetStatus writes the cached quality fields
func UpdateAssetStatus(db *gorm.DB, id uint64, status QualityStatus, scores Scores) error {
	now := time.Now().Unix()
	res := db.Model(&Asset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"quality_status":    status,
		"technical_score":   scores.Technical,
		"visual_score":      scores.Visual,
		"consistency_score": scores.Consistency,
		"validated_at":      now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return goerr.Wrap(errs.ErrAssetNotFound, "cannot update status", goerr.V("id", id))
	}
	return nil
}

// Scores are nil for gates that did not execute
type Scores struct {
	Technical   *float64
	Visual      *float64
	Consistency *float64
}

// NextUnvalidated returns assets that have a character, are still
// unvalidated and are older than minAge.
func NextUnvalidated(db *gorm.DB, afterID uint64, minAge time.Duration, limit int) (result []Asset, err error) {
	cutoff := time.Now().Add(-minAge).Unix()
	err = db.Preload("Bucket").
		Where("quality_status = ? AND character_name <> '' AND created_at < ? AND id > ?", StatusUnvalidated, cutoff, afterID).
		Order("id ASC").Limit(limit).Find(&result).Error
	return
}
