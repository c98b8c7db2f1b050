package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GateResult is the append-only log of gate executions. Gates that did not run
// because an earlier one failed have no row.
type GateResult struct {
	ID            uint64         `gorm:"primaryKey" json:"id"`
	CreatedAt     int64          `gorm:"autoCreateTime:milli" json:"created_at"`
	RunID         string         `gorm:"type:varchar(36);index;not null" json:"run_id"`
	AssetID       uint64         `gorm:"index:asset_gate,priority:1;not null" json:"asset_id"`
	Asset         Asset          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	GateName      string         `gorm:"type:varchar(30);index:asset_gate,priority:2;not null" json:"gate_name"`
	ConfigName    string         `gorm:"type:varchar(100);not null" json:"config_name"`
	ConfigVersion int            `gorm:"not null" json:"config_version"`
	Passed        bool           `json:"passed"`
	Score         float64        `json:"score"`
	Threshold     float64        `json:"threshold"`
	Details       datatypes.JSON `json:"details"`
	DurationMs    int64          `json:"duration_ms"`
}

// SaveRun is the result store: it appends the executed gates' rows and
// refreshes the asset's cached status in one transaction.
func SaveRun(db *gorm.DB, assetID uint64, results []GateResult, status QualityStatus, scores Scores) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if len(results) > 0 {
			if err := tx.Omit(clause.Associations).Create(&results).Error; err != nil {
				return err
			}
		}
		return UpdateAssetStatus(tx, assetID, status, scores)
	})
}

// RunResults returns the rows of one pipeline run in execution order
func RunResults(db *gorm.DB, runID string) (result []GateResult, err error) {
	err = db.Where("run_id = ?", runID).Order("id ASC").Find(&result).Error
	return
}

type ConsistencyHistory struct {
	Runs    int64    `json:"runs"`
	Average *float64 `json:"average"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
}

// IdentityHistory aggregates the identity gate scores of every run recorded
// for the character's assets.
func IdentityHistory(db *gorm.DB, character, gateName string) (h ConsistencyHistory, err error) {
	err = db.Model(&GateResult{}).
		Select("COUNT(*) AS runs, AVG(gate_results.score) AS average, MIN(gate_results.score) AS min, MAX(gate_results.score) AS max").
		Joins("JOIN assets ON assets.id = gate_results.asset_id").
		Where("assets.character_name = ? AND gate_results.gate_name = ?", character, gateName).
		Scan(&h).Error
	return
}

// LatestResults returns the rows of the most recent run of the asset
func LatestResults(db *gorm.DB, assetID uint64) ([]GateResult, error) {
	var last GateResult
	err := db.Select("run_id").Where("asset_id = ?", assetID).Order("id DESC").Limit(1).Find(&last).Error
	if err != nil || last.RunID == "" {
		return []GateResult{}, err
	}
	return RunResults(db, last.RunID)
}
