package models

type ReferenceType string

const (
	ReferenceManual     ReferenceType = "manual"
	ReferenceAuto       ReferenceType = "auto"
	ReferenceCanonical  ReferenceType = "canonical"
	ReferenceStyleGuide ReferenceType = "style_guide"
)

func (t ReferenceType) Valid() bool {
	switch t {
	case ReferenceManual, ReferenceAuto, ReferenceCanonical, ReferenceStyleGuide:
		return true
	}
	return false
}

const (
	MinReferenceWeight = 0.0
	MaxReferenceWeight = 2.0
)

// CharacterReference links an asset to the character it represents. There is
// a single row per (character, asset); it is deactivated, never deleted.
type CharacterReference struct {
	ID            uint64        `gorm:"primaryKey" json:"id"`
	CharacterName string        `gorm:"type:varchar(200);index:uniq_character_asset,unique,priority:1;index:character_active,priority:1;not null" json:"character_name"`
	AssetID       uint64        `gorm:"index:uniq_character_asset,unique,priority:2;not null" json:"asset_id"`
	Asset         Asset         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ReferenceType ReferenceType `gorm:"type:varchar(20);not null" json:"reference_type"`
	Weight        float64       `gorm:"not null;default:1" json:"weight"`
	Active        bool          `gorm:"index:character_active,priority:2;not null" json:"active"`
	CreatedAt     int64         `gorm:"autoCreateTime:milli" json:"created_at"`
	CreatedBy     string        `gorm:"type:varchar(100)" json:"created_by"`
}

func ClampWeight(w float64) float64 {
	if w < MinReferenceWeight {
		return MinReferenceWeight
	}
	if w > MaxReferenceWeight {
		return MaxReferenceWeight
	}
	return w
}
