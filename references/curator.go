// Package references maintains, per character, the weighted set of assets
// that define what the character looks like.
package references

import (
	"context"
	"strings"
	"sync"
	"time"

	"assetgate/errs"
	"assetgate/logger"
	"assetgate/models"
	"assetgate/similarity"
	"assetgate/utils"

	"github.com/m-mizutani/goerr/v2"
	cmap "github.com/orcaman/concurrent-map/v2"
	"gorm.io/gorm"
)

type Curator struct {
	db    *gorm.DB
	log   *logger.Logger
	locks cmap.ConcurrentMap[string, *sync.Mutex]
}

func NewCurator(db *gorm.DB, log *logger.Logger) *Curator {
	return &Curator{
		db:    db,
		log:   log.With("component", "curator"),
		locks: cmap.New[*sync.Mutex](),
	}
}

// NewReference describes an asset to add to a character's reference set,
// together with its embedding under Model.
type NewReference struct {
	AssetID     uint64
	Character   string
	Model       string
	Vector      []float32
	Confidence  float64
	Type        models.ReferenceType
	Weight      float64
	CreatedBy   string
	MaxAuto     int // cap applied right after adding an auto reference
	// OnlyIfFirst skips the add when the character already has an active
	// identity reference under Model, checked under the character's lock.
	OnlyIfFirst bool
}

type ActiveReference struct {
	AssetID    uint64               `json:"asset_id"`
	Type       models.ReferenceType `json:"reference_type"`
	Weight     float64              `json:"weight"`
	Confidence float64              `json:"confidence"`
	CreatedAt  int64                `json:"created_at"`
	Vector     []float32            `json:"-"`
}

// IdentityTypes are the reference types that define a character's identity.
// Style guides are scored separately.
var IdentityTypes = []models.ReferenceType{models.ReferenceManual, models.ReferenceAuto, models.ReferenceCanonical}

// lock serializes add and cleanup per character
func (c *Curator) lock(character string) func() {
	m := c.locks.Upsert(character, nil, func(exist bool, inMap, _ *sync.Mutex) *sync.Mutex {
		if exist {
			return inMap
		}
		return &sync.Mutex{}
	})
	m.Lock()
	return m.Unlock
}

// AddReference stores the embedding if needed and inserts or reactivates the
// reference row. It returns false when the asset was already an active
// reference (its type and weight are refreshed). Auto references trigger the
// cleanup in the same transaction.
func (c *Curator) AddReference(ctx context.Context, ref NewReference) (bool, error) {
	ref.Character = strings.TrimSpace(ref.Character)
	if ref.Character == "" {
		return false, goerr.Wrap(errs.ErrInvalidInput, "character is required")
	}
	if !ref.Type.Valid() {
		return false, goerr.Wrap(errs.ErrInvalidInput, "invalid reference type", goerr.V("type", ref.Type))
	}
	ref.Weight = models.ClampWeight(ref.Weight)

	unlock := c.lock(ref.Character)
	defer unlock()

	added, skipped := false, false
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ref.OnlyIfFirst {
			n, err := countIdentity(tx, ref.Character, ref.Model, ref.AssetID)
			if err != nil {
				return err
			}
			if n > 0 {
				skipped = true
				return nil
			}
		}
		e := models.NewEmbedding(ref.AssetID, ref.Character, ref.Model, ref.Vector, ref.Confidence)
		if _, err := models.EnsureEmbedding(tx, &e); err != nil {
			return err
		}

		var row models.CharacterReference
		res := tx.Where("character_name = ? AND asset_id = ?", ref.Character, ref.AssetID).Limit(1).Find(&row)
		err := res.Error
		switch {
		case err == nil && res.RowsAffected == 0:
			row = models.CharacterReference{
				CharacterName: ref.Character,
				AssetID:       ref.AssetID,
				ReferenceType: ref.Type,
				Weight:        ref.Weight,
				Active:        true,
				CreatedBy:     ref.CreatedBy,
			}
			if err = tx.Omit("Asset").Create(&row).Error; err != nil {
				return err
			}
			added = true
		case err != nil:
			return err
		default:
			updates := map[string]interface{}{
				"reference_type": ref.Type,
				"weight":         ref.Weight,
			}
			if !row.Active {
				// Reactivated rows count as new, otherwise cleanup would evict them at once
				updates["active"] = true
				updates["created_at"] = time.Now().UnixMilli()
				updates["created_by"] = ref.CreatedBy
				added = true
			}
			if err = tx.Model(&row).Updates(updates).Error; err != nil {
				return err
			}
		}

		if ref.Type == models.ReferenceAuto && ref.MaxAuto > 0 {
			if _, err = cleanup(tx, ref.Character, ref.MaxAuto); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, goerr.Wrap(err, "failed to add reference",
			goerr.V("character", ref.Character), goerr.V("asset_id", ref.AssetID))
	}
	if skipped {
		c.log.Info("character already has references, first promotion skipped", "character", ref.Character, "asset_id", ref.AssetID)
	}
	if added {
		c.log.Info("reference added", "character", ref.Character, "asset_id", ref.AssetID, "type", ref.Type, "weight", ref.Weight)
	}
	return added, nil
}

// Cleanup keeps at most maxAuto active auto references for the character,
// deactivating the oldest. Other reference types are never touched.
func (c *Curator) Cleanup(ctx context.Context, character string, maxAuto int) (deactivated int, err error) {
	unlock := c.lock(character)
	defer unlock()
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deactivated, err = cleanup(tx, character, maxAuto)
		return err
	})
	return
}

// countIdentity counts the active identity references of other assets that
// have an embedding under model.
func countIdentity(tx *gorm.DB, character, model string, exceptAsset uint64) (n int64, err error) {
	err = tx.Table("character_references AS r").
		Joins("JOIN embeddings AS e ON e.asset_id = r.asset_id AND e.character_name = r.character_name AND e.model_name = ?", model).
		Where("r.character_name = ? AND r.active = ? AND r.reference_type IN ? AND r.asset_id <> ?",
			character, true, IdentityTypes, exceptAsset).
		Count(&n).Error
	return
}

func cleanup(tx *gorm.DB, character string, maxAuto int) (int, error) {
	if maxAuto < 0 {
		maxAuto = 0
	}
	var ids []uint64
	err := tx.Model(&models.CharacterReference{}).
		Where("character_name = ? AND reference_type = ? AND active = ?", character, models.ReferenceAuto, true).
		Order("created_at DESC, id DESC").
		Pluck("id", &ids).Error
	if err != nil || len(ids) <= maxAuto {
		return 0, err
	}
	excess := ids[maxAuto:]
	err = tx.Model(&models.CharacterReference{}).Where("id IN ?", excess).Update("active", false).Error
	return len(excess), err
}

// ActiveReferences returns the active references that have an embedding
// under model, heaviest and newest first. It takes no lock.
func (c *Curator) ActiveReferences(ctx context.Context, character, model string) ([]ActiveReference, error) {
	type row struct {
		AssetID       uint64
		ReferenceType models.ReferenceType
		Weight        float64
		CreatedAt     int64
		Vector        []byte
		Confidence    *float64
	}
	var rows []row
	err := c.db.WithContext(ctx).
		Table("character_references AS r").
		Select("r.asset_id, r.reference_type, r.weight, r.created_at, e.vector, e.confidence").
		Joins("LEFT JOIN embeddings AS e ON e.asset_id = r.asset_id AND e.character_name = r.character_name AND e.model_name = ?", model).
		Where("r.character_name = ? AND r.active = ?", character, true).
		Order("r.weight DESC, r.created_at DESC, r.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load references", goerr.V("character", character))
	}
	result := make([]ActiveReference, 0, len(rows))
	for _, r := range rows {
		if len(r.Vector) == 0 || r.Confidence == nil {
			c.log.Warn("reference has no embedding for model, skipped", "character", character, "asset_id", r.AssetID, "model", model)
			continue
		}
		result = append(result, ActiveReference{
			AssetID:    r.AssetID,
			Type:       r.ReferenceType,
			Weight:     r.Weight,
			Confidence: *r.Confidence,
			CreatedAt:  r.CreatedAt,
			Vector:     utils.ByteArrayToFloat32Array(r.Vector),
		})
	}
	return result, nil
}

// Similarity converts references for the engine, optionally keeping only
// some types. The weight is the reference weight times the embedding
// confidence.
func Similarity(refs []ActiveReference, types ...models.ReferenceType) []similarity.Reference {
	result := make([]similarity.Reference, 0, len(refs))
	for _, r := range refs {
		if len(types) > 0 && !hasType(types, r.Type) {
			continue
		}
		result = append(result, similarity.Reference{ID: r.AssetID, Vector: r.Vector, Weight: r.Weight * r.Confidence})
	}
	return result
}

func hasType(types []models.ReferenceType, t models.ReferenceType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// ShouldPromote tells whether an image that cleared the identity gate becomes an
// auto reference. The first image of a character always does.
func ShouldPromote(res similarity.Result, threshold float64) bool {
	return res.FirstReference || res.Score >= threshold
}

// CountsByType counts active references per type
func (c *Curator) CountsByType(ctx context.Context, character string) (map[models.ReferenceType]int64, error) {
	type row struct {
		ReferenceType models.ReferenceType
		Count         int64
	}
	var rows []row
	err := c.db.WithContext(ctx).Model(&models.CharacterReference{}).
		Select("reference_type, COUNT(*) AS count").
		Where("character_name = ? AND active = ?", character, true).
		Group("reference_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := map[models.ReferenceType]int64{
		models.ReferenceManual:     0,
		models.ReferenceAuto:       0,
		models.ReferenceCanonical:  0,
		models.ReferenceStyleGuide: 0,
	}
	for _, r := range rows {
		result[r.ReferenceType] = r.Count
	}
	return result, nil
}

// List returns every reference row of the character, newest first
func (c *Curator) List(ctx context.Context, character string, includeInactive bool) (result []models.CharacterReference, err error) {
	q := c.db.WithContext(ctx).Where("character_name = ?", character)
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	err = q.Order("created_at DESC, id DESC").Find(&result).Error
	return
}
