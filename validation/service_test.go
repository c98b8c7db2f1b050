package validation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"assetgate/db"
	"assetgate/embedding"
	"assetgate/errs"
	"assetgate/gates"
	"assetgate/logger"
	"assetgate/models"
	"assetgate/storage"
	"assetgate/utils"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type env struct {
	svc     *Service
	dir     string
	vectors map[string][]float32
}

func setup(t *testing.T) *env {
	dir := t.TempDir()
	conn := db.Init("", filepath.Join(dir, "test.db"))
	gt.NoError(t, models.Init(conn))
	gt.NoError(t, storage.Init(conn, filepath.Join(dir, "bucket")))

	e := &env{dir: filepath.Join(dir, "bucket"), vectors: map[string][]float32{}}
	embedder := embedding.EmbedderFunc(func(ctx context.Context, image []byte, model string) (embedding.Result, error) {
		v, ok := e.vectors[utils.Sha256Hex(image)]
		if !ok {
			return embedding.Result{}, goerr.Wrap(errs.ErrEncodingFailure, "unknown image")
		}
		return embedding.Result{Vector: v, Confidence: 1}, nil
	})
	e.svc = NewService(conn, logger.Nop(), embedder, "test")

	cfg := models.DefaultGateConfig()
	cfg.Name = "test"
	cfg.MinWidth, cfg.MinHeight = 64, 64
	gt.NoError(t, e.svc.SaveConfig(context.Background(), &cfg))
	return e
}

func (e *env) image(t *testing.T, path string, variant uint8, vector []float32) {
	cols := []color.RGBA{{200 - variant, 80, 60, 255}, {60, 140, 200, 255}, {230, 200, 90, 255}, {70, 160, 90, 255}}
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, cols[((x/8)+(y/8)*2)%4])
		}
	}
	var buf bytes.Buffer
	gt.NoError(t, png.Encode(&buf, img))
	full := filepath.Join(e.dir, path)
	gt.NoError(t, os.MkdirAll(filepath.Dir(full), 0777))
	gt.NoError(t, os.WriteFile(full, buf.Bytes(), 0644))
	if vector != nil {
		e.vectors[utils.Sha256Hex(buf.Bytes())] = vector
	}
}

func TestRunPipeline(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.image(t, "luigi/1.png", 0, []float32{1, 0, 0, 0})

	v, err := e.svc.RunPipeline(ctx, "luigi/1.png", "Luigi", "")
	gt.NoError(t, err)
	gt.Equal(t, v.Status, models.StatusPassed)
	gt.Equal(t, v.ConfigName, "test")
	gt.Equal(t, v.ConfigVersion, 1)
	gt.True(t, v.Promoted)

	asset, results, err := e.svc.AssetStatus(ctx, v.AssetID)
	gt.NoError(t, err)
	gt.Equal(t, asset.QualityStatus, models.StatusPassed)
	gt.Equal(t, asset.MimeType, "image/png")
	gt.Equal(t, asset.Width, uint32(64))
	gt.Equal(t, asset.CharacterName, "Luigi")
	gt.True(t, asset.Hash != "")
	gt.A(t, results).Length(4)
	gt.Equal(t, results[0].RunID, v.RunID)

	// the same path maps to the same asset
	again, err := e.svc.RunPipeline(ctx, "/luigi/1.png", "Luigi", "")
	gt.NoError(t, err)
	gt.Equal(t, again.AssetID, v.AssetID)
	gt.False(t, again.Promoted)

	// unknown bundles fall back to the built-in default, which wants 512px
	fallback, err := e.svc.RunPipeline(ctx, "luigi/1.png", "Luigi", "nope")
	gt.NoError(t, err)
	gt.Equal(t, fallback.ConfigName, models.DefaultGateConfigName)
	gt.Equal(t, fallback.Status, models.StatusFailed)
	gt.Equal(t, fallback.FailedGate, gates.GateTechnical)
}

func TestRunPipelineMissingImage(t *testing.T) {
	e := setup(t)
	v, err := e.svc.RunPipeline(context.Background(), "nowhere.png", "Luigi", "")
	gt.NoError(t, err)
	gt.Equal(t, v.Status, models.StatusFailed)
	gt.Equal(t, v.Results[0].Reason(), gates.ReasonFileMissing)
}

func TestQuickIdentityCheck(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.image(t, "ref.png", 0, []float32{1, 0, 0, 0})
	e.image(t, "candidate.png", 1, []float32{0.6, 0.8, 0, 0})

	// no references yet: the candidate would be the first one
	ok, err := e.svc.QuickIdentityCheck(ctx, "candidate.png", "Luigi", 0)
	gt.NoError(t, err)
	gt.True(t, ok)

	added, err := e.svc.AddReference(ctx, "ref.png", "Luigi", models.ReferenceManual, 0, "tester")
	gt.NoError(t, err)
	gt.True(t, added)

	ok, err = e.svc.QuickIdentityCheck(ctx, "candidate.png", "Luigi", 0)
	gt.NoError(t, err)
	gt.False(t, ok)

	ok, err = e.svc.QuickIdentityCheck(ctx, "candidate.png", "Luigi", 0.5)
	gt.NoError(t, err)
	gt.True(t, ok)

	_, err = e.svc.QuickIdentityCheck(ctx, "missing.png", "Luigi", 0)
	gt.True(t, errors.Is(err, errs.ErrAssetNotFound))

	// quick checks never store anything
	refs, err := e.svc.References(ctx, "Luigi", true)
	gt.NoError(t, err)
	gt.A(t, refs).Length(1)
	gt.Equal(t, refs[0].Weight, 1.0)
	gt.Equal(t, refs[0].CreatedBy, "tester")
}

func TestAddReferenceErrors(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.image(t, "ref.png", 0, []float32{1, 0, 0, 0})

	_, err := e.svc.AddReference(ctx, "ref.png", "", models.ReferenceManual, 1, "tester")
	gt.Error(t, err)
	_, err = e.svc.AddReference(ctx, "ref.png", "Luigi", "best", 1, "tester")
	gt.Error(t, err)
	_, err = e.svc.AddReference(ctx, "missing.png", "Luigi", models.ReferenceManual, 1, "tester")
	gt.True(t, errors.Is(err, errs.ErrAssetNotFound))

	e.image(t, "unknown.png", 9, nil)
	_, err = e.svc.AddReference(ctx, "unknown.png", "Luigi", models.ReferenceManual, 1, "tester")
	gt.True(t, errors.Is(err, errs.ErrEncodingFailure))
}

func TestCharacterStats(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.image(t, "1.png", 0, []float32{1, 0, 0, 0})
	e.image(t, "2.png", 1, []float32{0.6, 0.8, 0, 0})
	e.image(t, "style.png", 2, []float32{1, 0, 0, 0})

	_, err := e.svc.AddReference(ctx, "style.png", "Luigi", models.ReferenceStyleGuide, 1, "tester")
	gt.NoError(t, err)
	_, err = e.svc.RunPipeline(ctx, "1.png", "Luigi", "")
	gt.NoError(t, err)
	_, err = e.svc.RunPipeline(ctx, "2.png", "Luigi", "")
	gt.NoError(t, err)

	stats, err := e.svc.CharacterStats(ctx, "Luigi")
	gt.NoError(t, err)
	gt.Equal(t, stats.References[models.ReferenceAuto], int64(1))
	gt.Equal(t, stats.References[models.ReferenceStyleGuide], int64(1))
	gt.Equal(t, stats.TotalReferences, int64(2))
	gt.Equal(t, stats.Validations, int64(2))
	gt.Equal(t, stats.Statuses[models.StatusPassed], int64(1))
	gt.Equal(t, stats.Statuses[models.StatusFailed], int64(1))
	// the style guide asset was registered but never validated
	gt.Equal(t, stats.Statuses[models.StatusUnvalidated], int64(1))
	gt.Equal(t, stats.Identity.Runs, int64(2))
	gt.True(t, *stats.Identity.Max == 1)
	gt.True(t, *stats.Identity.Min < 0.61)

	empty, err := e.svc.CharacterStats(ctx, "Mario")
	gt.NoError(t, err)
	gt.Equal(t, empty.TotalReferences, int64(0))
	gt.Equal(t, empty.Identity.Runs, int64(0))
}

func TestStoreUpload(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.image(t, "src.png", 0, []float32{1, 0, 0, 0})
	data, err := os.ReadFile(filepath.Join(e.dir, "src.png"))
	gt.NoError(t, err)

	asset, err := e.svc.StoreUpload(ctx, "uploads/new.png", "Luigi", "a plumber", bytes.NewReader(data))
	gt.NoError(t, err)
	gt.Equal(t, asset.QualityStatus, models.StatusUnvalidated)
	gt.Equal(t, asset.Size, int64(len(data)))
	gt.Equal(t, asset.Prompt, "a plumber")

	v, err := e.svc.ValidateAsset(ctx, asset, "")
	gt.NoError(t, err)
	gt.Equal(t, v.Status, models.StatusPassed)
	gt.Equal(t, v.Character, "Luigi")
}

func TestConfigVersions(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	cfg, err := e.svc.GetConfig(ctx, "test", 0)
	gt.NoError(t, err)
	cfg.MinCharacterConsistency = 0.9
	gt.NoError(t, e.svc.SaveConfig(ctx, &cfg))
	gt.Equal(t, cfg.Version, 2)

	latest, err := e.svc.GetConfig(ctx, "test", 0)
	gt.NoError(t, err)
	gt.Equal(t, latest.Version, 2)
	gt.Equal(t, latest.MinCharacterConsistency, 0.9)

	first, err := e.svc.GetConfig(ctx, "test", 1)
	gt.NoError(t, err)
	gt.Equal(t, first.MinCharacterConsistency, 0.75)

	_, err = e.svc.GetConfig(ctx, "test", 7)
	gt.True(t, errors.Is(err, errs.ErrConfigNotFound))

	list, err := e.svc.ListConfigs(ctx)
	gt.NoError(t, err)
	gt.A(t, list).Length(1)
	gt.Equal(t, list[0].Version, 2)
}

func TestCheckConfig(t *testing.T) {
	valid := models.DefaultGateConfig()
	tests := []struct {
		name   string
		modify func(c *models.GateConfig)
		ok     bool
	}{
		{"default", func(c *models.GateConfig) {}, true},
		{"no name", func(c *models.GateConfig) { c.Name = "" }, false},
		{"unknown method", func(c *models.GateConfig) { c.AggregationMethod = "median" }, false},
		{"no model", func(c *models.GateConfig) { c.EmbeddingModel = "" }, false},
		{"threshold above one", func(c *models.GateConfig) { c.MinVisualQuality = 1.5 }, false},
		{"negative threshold", func(c *models.GateConfig) { c.MinStyleScore = -0.1 }, false},
		{"heavy default weight", func(c *models.GateConfig) { c.DefaultReferenceWeight = 3 }, false},
		{"negative cap", func(c *models.GateConfig) { c.MaxAutoReferences = -1 }, false},
		{"broken bands", func(c *models.GateConfig) { c.VisualBands = []byte(`{"brightness":{"low":0.9,"good_low":0.1}}`) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			err := CheckConfig(&cfg)
			if tt.ok {
				gt.NoError(t, err)
			} else {
				gt.Error(t, err)
			}
		})
	}
}
