// Package processing validates uploaded assets in the background.
package processing

import (
	"context"
	"sync/atomic"
	"time"

	"assetgate/gates"
	"assetgate/logger"
	"assetgate/models"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Validator interface {
	ValidateAsset(ctx context.Context, asset *models.Asset, configName string) (*gates.Verdict, error)
}

type Processor struct {
	db        *gorm.DB
	log       *logger.Logger
	validator Validator
	workers   int

	ConfigName string
	MinAge     time.Duration // uploads younger than this are left alone
	Idle       time.Duration // pause when there is nothing to do
}

func New(db *gorm.DB, log *logger.Logger, validator Validator, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		db:        db,
		log:       log.With("component", "processing"),
		validator: validator,
		workers:   workers,
		MinAge:    30 * time.Second,
		Idle:      30 * time.Second,
	}
}

// processBatch validates the next unvalidated assets after afterID, at most
// p.workers at a time. It returns the last id it looked at.
func (p *Processor) processBatch(ctx context.Context, afterID uint64) (lastID uint64, failed int64, err error) {
	assets, err := models.NextUnvalidated(p.db.WithContext(ctx), afterID, p.MinAge, p.workers*4)
	if err != nil || len(assets) == 0 {
		return 0, 0, err
	}
	var errCount atomic.Int64
	g := errgroup.Group{}
	g.SetLimit(p.workers)
	for i := range assets {
		asset := &assets[i]
		g.Go(func() error {
			if !p.processOne(ctx, asset) {
				errCount.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return assets[len(assets)-1].ID, errCount.Load(), nil
}

// processOne returns false when the asset could not be validated
func (p *Processor) processOne(ctx context.Context, asset *models.Asset) bool {
	start := time.Now()
	v, err := p.validator.ValidateAsset(ctx, asset, p.ConfigName)
	if err != nil && v != nil && v.Error == nil && ctx.Err() == nil {
		// the gates ran, storing or promoting did not go through
		p.log.Warn("retrying validation", "asset_id", asset.ID, "error", err)
		v, err = p.validator.ValidateAsset(ctx, asset, p.ConfigName)
	}
	timeConsumed := time.Since(start).Milliseconds()
	if err != nil {
		p.log.Error("validation failed", "asset_id", asset.ID, "path", asset.Path, "error", err, "ms", timeConsumed)
		return false
	}
	p.log.Info("asset validated", "asset_id", asset.ID, "character", asset.CharacterName,
		"status", v.Status, "score", v.Score, "ms", timeConsumed)
	return true
}

// Start keeps validating new uploads until ctx is cancelled. Assets whose run
// was aborted by an infrastructure error are stored as failed and not retried.
// A run whose gates completed but could not be stored or promoted is retried once.
func (p *Processor) Start(ctx context.Context) {
	lastProcessedID := uint64(0)
	for ctx.Err() == nil {
		last, failed, err := p.processBatch(ctx, lastProcessedID)
		if err != nil {
			p.log.Error("cannot select assets", "error", err)
		}
		if last == 0 || failed > 0 {
			// Nothing to process or something is wrong, wait a bit
			lastProcessedID = last
			p.sleep(ctx)
			continue
		}
		lastProcessedID = last
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.Idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
