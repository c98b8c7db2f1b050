package models

import (
	"assetgate/errs"
	"assetgate/utils"

	"github.com/m-mizutani/goerr/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Embedding is never mutated. Re-encoding under another model adds a row.
type Embedding struct {
	ID            uint64  `gorm:"primaryKey"`
	CreatedAt     int64   `gorm:"autoCreateTime:milli"`
	AssetID       uint64  `gorm:"index:uniq_embedding,unique,priority:1;not null"`
	Asset         Asset   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CharacterName string  `gorm:"type:varchar(200);index:uniq_embedding,unique,priority:2;not null"`
	ModelName     string  `gorm:"type:varchar(100);index:uniq_embedding,unique,priority:3;not null"`
	Dim           int     `gorm:"not null"`
	Vector        []byte  `gorm:"type:blob;not null"`
	Confidence    float64 `gorm:"not null"`
}

func (e *Embedding) Floats() []float32 {
	return utils.ByteArrayToFloat32Array(e.Vector)
}

func NewEmbedding(assetID uint64, character, model string, vector []float32, confidence float64) Embedding {
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	return Embedding{
		AssetID:       assetID,
		CharacterName: character,
		ModelName:     model,
		Dim:           len(vector),
		Vector:        utils.Float32ArrayToByteArray(vector),
		Confidence:    confidence,
	}
}

// ModelDim returns the dimension already used by model, 0 when unknown.
func ModelDim(db *gorm.DB, model string) (int, error) {
	var e Embedding
	err := db.Select("dim").Where("model_name = ?", model).Limit(1).Find(&e).Error
	return e.Dim, err
}

// EnsureEmbedding stores e unless a row exists for the same (asset,
// character, model), in which case that row is returned untouched.
func EnsureEmbedding(db *gorm.DB, e *Embedding) (created bool, err error) {
	var existing Embedding
	res := db.Where("asset_id = ? AND character_name = ? AND model_name = ?", e.AssetID, e.CharacterName, e.ModelName).
		Limit(1).Find(&existing)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		*e = existing
		return false, nil
	}
	dim, err := ModelDim(db, e.ModelName)
	if err != nil {
		return false, err
	}
	if dim != 0 && dim != e.Dim {
		return false, goerr.Wrap(errs.ErrDimensionMismatch, "model already stores vectors of another size",
			goerr.V("model", e.ModelName), goerr.V("dim", dim), goerr.V("got", e.Dim))
	}
	return true, db.Omit(clause.Associations).Create(e).Error
}
