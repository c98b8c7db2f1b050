// Package validation exposes the operations callers use: running the gate
// pipeline, quick identity checks, reference management, statistics and gate
// configuration.
package validation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"os"
	"strings"

	"assetgate/embedding"
	"assetgate/errs"
	"assetgate/gates"
	"assetgate/logger"
	"assetgate/models"
	"assetgate/references"
	"assetgate/similarity"
	"assetgate/storage"
	"assetgate/utils"

	"github.com/gabriel-vasile/mimetype"
	"github.com/m-mizutani/goerr/v2"
	"gorm.io/gorm"
)

type Service struct {
	db            *gorm.DB
	log           *logger.Logger
	pipeline      *gates.Pipeline
	curator       *references.Curator
	embedder      embedding.Embedder
	defaultConfig string
}

func NewService(db *gorm.DB, log *logger.Logger, embedder embedding.Embedder, defaultConfig string) *Service {
	curator := references.NewCurator(db, log)
	if defaultConfig == "" {
		defaultConfig = models.DefaultGateConfigName
	}
	return &Service{
		db:            db,
		log:           log.With("component", "validation"),
		pipeline:      gates.NewPipeline(log, gates.StorageLoader, embedder, curator, gates.DBStore{DB: db}),
		curator:       curator,
		embedder:      embedder,
		defaultConfig: defaultConfig,
	}
}

// Config returns the latest version of the named bundle. Unknown names fall
// back to the built-in default bundle.
func (s *Service) Config(ctx context.Context, name string) (models.GateConfig, error) {
	if name == "" {
		name = s.defaultConfig
	}
	cfg, err := models.GetGateConfig(s.db.WithContext(ctx), name)
	if errors.Is(err, errs.ErrConfigNotFound) {
		s.log.Warn("gate config not found, using built-in default", "name", name)
		return models.DefaultGateConfig(), nil
	}
	return cfg, err
}

func defaultStorage() (storage.StorageAPI, error) {
	st := storage.GetDefaultStorage()
	if st == nil {
		return nil, goerr.New("no storage bucket configured")
	}
	return st, nil
}

// RegisterAsset returns the asset stored at path in the default bucket,
// creating or refreshing its row. A missing file still gets a row so that the
// technical gate can record the failure against it.
func (s *Service) RegisterAsset(ctx context.Context, path, character, prompt string) (*models.Asset, []byte, error) {
	st, err := defaultStorage()
	if err != nil {
		return nil, nil, err
	}
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return nil, nil, goerr.Wrap(errs.ErrInvalidInput, "image path is required")
	}
	data, err := storage.ReadAll(st, path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, goerr.Wrap(err, "cannot read image", goerr.V("path", path))
	}

	asset := models.Asset{
		BucketID:      st.GetBucket().ID,
		Path:          path,
		CharacterName: character,
		Prompt:        prompt,
	}
	if data != nil {
		asset.Hash = utils.Sha256Hex(data)
		asset.Size = int64(len(data))
		asset.MimeType = mimetype.Detect(data).String()
		if conf, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			asset.Width, asset.Height = uint32(conf.Width), uint32(conf.Height)
		}
	}
	if err = models.CreateAsset(s.db.WithContext(ctx), &asset); err != nil {
		return nil, nil, goerr.Wrap(err, "cannot register asset", goerr.V("path", path))
	}
	asset.Bucket = *st.GetBucket()
	return &asset, data, nil
}

// StoreUpload saves the content in the default bucket and registers it as an
// unvalidated asset.
func (s *Service) StoreUpload(ctx context.Context, path, character, prompt string, content io.Reader) (*models.Asset, error) {
	st, err := defaultStorage()
	if err != nil {
		return nil, err
	}
	path = strings.TrimLeft(path, "/")
	if _, err = st.Save(path, content); err != nil {
		return nil, goerr.Wrap(err, "cannot save upload", goerr.V("path", path))
	}
	mime, err := mimetype.DetectFile(st.GetFullPath(path))
	if err != nil {
		return nil, goerr.Wrap(err, "cannot sniff upload", goerr.V("path", path))
	}
	if err = st.UpdateFile(path, mime.String()); err != nil {
		return nil, goerr.Wrap(err, "cannot upload to bucket", goerr.V("path", path))
	}
	asset, _, err := s.RegisterAsset(ctx, path, character, prompt)
	return asset, err
}

// RunPipeline validates the image at path against the named config
func (s *Service) RunPipeline(ctx context.Context, path, character, configName string) (*gates.Verdict, error) {
	asset, _, err := s.RegisterAsset(ctx, path, character, "")
	if err != nil {
		return nil, err
	}
	cfg, err := s.Config(ctx, configName)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Run(ctx, asset, strings.TrimSpace(character), cfg)
}

// ValidateAsset runs the pipeline for an already registered asset
func (s *Service) ValidateAsset(ctx context.Context, asset *models.Asset, configName string) (*gates.Verdict, error) {
	cfg, err := s.Config(ctx, configName)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Run(ctx, asset, asset.CharacterName, cfg)
}

type IdentityCheck struct {
	Passed    bool              `json:"passed"`
	Threshold float64           `json:"threshold"`
	Result    similarity.Result `json:"result"`
}

// IdentityScore scores the image against the character's references without
// storing anything.
func (s *Service) IdentityScore(ctx context.Context, path, character string, threshold float64) (IdentityCheck, error) {
	character = strings.TrimSpace(character)
	if character == "" {
		return IdentityCheck{}, goerr.Wrap(errs.ErrInvalidInput, "character is required")
	}
	st, err := defaultStorage()
	if err != nil {
		return IdentityCheck{}, err
	}
	data, err := storage.ReadAll(st, strings.TrimLeft(path, "/"))
	if errors.Is(err, os.ErrNotExist) {
		return IdentityCheck{}, goerr.Wrap(errs.ErrAssetNotFound, "no image at path", goerr.V("path", path))
	}
	if err != nil {
		return IdentityCheck{}, goerr.Wrap(err, "cannot read image", goerr.V("path", path))
	}
	cfg, err := s.Config(ctx, "")
	if err != nil {
		return IdentityCheck{}, err
	}
	if threshold <= 0 {
		threshold = cfg.MinCharacterConsistency
	}

	emb, err := s.embedder.Embed(ctx, data, cfg.EmbeddingModel)
	if err != nil {
		return IdentityCheck{}, err
	}
	active, err := s.curator.ActiveReferences(ctx, character, cfg.EmbeddingModel)
	if err != nil {
		return IdentityCheck{}, err
	}
	res, err := similarity.Consistency(emb.Vector, references.Similarity(active, references.IdentityTypes...), similarity.Method(cfg.AggregationMethod))
	if err != nil {
		return IdentityCheck{}, err
	}
	return IdentityCheck{
		Passed:    res.FirstReference || res.Score >= threshold,
		Threshold: threshold,
		Result:    res,
	}, nil
}

// QuickIdentityCheck tells whether the image looks like the character. A
// threshold of 0 uses the configured minimum consistency.
func (s *Service) QuickIdentityCheck(ctx context.Context, path, character string, threshold float64) (bool, error) {
	check, err := s.IdentityScore(ctx, path, character, threshold)
	return check.Passed, err
}

// AddReference embeds the image and adds it to the character's references.
// A weight of 0 or less uses the configured default weight.
func (s *Service) AddReference(ctx context.Context, path, character string, typ models.ReferenceType, weight float64, createdBy string) (bool, error) {
	character = strings.TrimSpace(character)
	if character == "" {
		return false, goerr.Wrap(errs.ErrInvalidInput, "character is required")
	}
	if !typ.Valid() {
		return false, goerr.Wrap(errs.ErrInvalidInput, "invalid reference type", goerr.V("type", typ))
	}
	asset, data, err := s.RegisterAsset(ctx, path, character, "")
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, goerr.Wrap(errs.ErrAssetNotFound, "no image at path", goerr.V("path", path))
	}
	cfg, err := s.Config(ctx, "")
	if err != nil {
		return false, err
	}
	if weight <= 0 {
		weight = cfg.DefaultReferenceWeight
	}
	emb, err := s.embedder.Embed(ctx, data, cfg.EmbeddingModel)
	if err != nil {
		return false, err
	}
	return s.curator.AddReference(ctx, references.NewReference{
		AssetID:    asset.ID,
		Character:  character,
		Model:      cfg.EmbeddingModel,
		Vector:     emb.Vector,
		Confidence: emb.Confidence,
		Type:       typ,
		Weight:     weight,
		CreatedBy:  createdBy,
		MaxAuto:    cfg.MaxAutoReferences,
	})
}

type CharacterStats struct {
	Character       string                         `json:"character"`
	References      map[models.ReferenceType]int64 `json:"references"`
	TotalReferences int64                          `json:"total_references"`
	Validations     int64                          `json:"validations"`
	Statuses        map[models.QualityStatus]int64 `json:"statuses"`
	Identity        models.ConsistencyHistory      `json:"identity"`
}

func (s *Service) CharacterStats(ctx context.Context, character string) (CharacterStats, error) {
	character = strings.TrimSpace(character)
	result := CharacterStats{Character: character, Statuses: map[models.QualityStatus]int64{}}
	counts, err := s.curator.CountsByType(ctx, character)
	if err != nil {
		return result, err
	}
	result.References = counts
	for _, c := range counts {
		result.TotalReferences += c
	}

	type row struct {
		QualityStatus models.QualityStatus
		Count         int64
	}
	var rows []row
	err = s.db.WithContext(ctx).Model(&models.Asset{}).
		Select("quality_status, COUNT(*) AS count").
		Where("character_name = ?", character).
		Group("quality_status").
		Scan(&rows).Error
	if err != nil {
		return result, err
	}
	for _, r := range rows {
		result.Statuses[r.QualityStatus] = r.Count
		if r.QualityStatus != models.StatusUnvalidated {
			result.Validations += r.Count
		}
	}

	result.Identity, err = models.IdentityHistory(s.db.WithContext(ctx), character, gates.GateIdentity)
	return result, err
}

// References lists the character's reference rows
func (s *Service) References(ctx context.Context, character string, includeInactive bool) ([]models.CharacterReference, error) {
	return s.curator.List(ctx, strings.TrimSpace(character), includeInactive)
}

// AssetStatus returns the asset and the results of its latest run
func (s *Service) AssetStatus(ctx context.Context, id uint64) (models.Asset, []models.GateResult, error) {
	asset, err := models.GetAsset(s.db.WithContext(ctx), id)
	if err != nil {
		return asset, nil, err
	}
	results, err := models.LatestResults(s.db.WithContext(ctx), id)
	return asset, results, err
}
