package models

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"assetgate/db"
	"assetgate/errs"
	"assetgate/storage"

	"github.com/m-mizutani/gt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setup(t *testing.T) *gorm.DB {
	dir := t.TempDir()
	conn := db.Init("", filepath.Join(dir, "test.db"))
	gt.NoError(t, Init(conn))
	bucket := storage.Bucket{Name: "test", StorageType: storage.StorageTypeFile, Path: filepath.Join(dir, "bucket")}
	gt.NoError(t, bucket.Create(conn))
	return conn
}

func newAsset(t *testing.T, conn *gorm.DB, path string) Asset {
	a := Asset{BucketID: 1, Path: path, Hash: "h1", Size: 10, CharacterName: " alice "}
	gt.NoError(t, CreateAsset(conn, &a))
	return a
}

func TestGateConfigVersions(t *testing.T) {
	conn := setup(t)

	_, err := GetGateConfig(conn, "strict")
	gt.True(t, errors.Is(err, errs.ErrConfigNotFound))

	cfg := DefaultGateConfig()
	cfg.Name = "strict"
	gt.NoError(t, SaveGateConfig(conn, &cfg))
	gt.Equal(t, cfg.Version, 1)

	cfg.MinWidth = 1024
	gt.NoError(t, SaveGateConfig(conn, &cfg))
	gt.Equal(t, cfg.Version, 2)

	latest, err := GetGateConfig(conn, "strict")
	gt.NoError(t, err)
	gt.Equal(t, latest.Version, 2)
	gt.Equal(t, latest.MinWidth, uint32(1024))

	first, err := GetGateConfigVersion(conn, "strict", 1)
	gt.NoError(t, err)
	gt.Equal(t, first.MinWidth, uint32(512))

	_, err = GetGateConfigVersion(conn, "strict", 3)
	gt.True(t, errors.Is(err, errs.ErrConfigNotFound))

	empty := DefaultGateConfig()
	empty.Name = ""
	gt.True(t, errors.Is(SaveGateConfig(conn, &empty), errs.ErrInvalidInput))

	gt.NoError(t, SeedGateConfigs(conn, nil))
	list, err := ListGateConfigs(conn)
	gt.NoError(t, err)
	gt.A(t, list).Length(2)
	gt.Equal(t, list[0].Name, DefaultGateConfigName)
	gt.Equal(t, list[1].Version, 2)
}

func TestSeedGateConfigsIdempotent(t *testing.T) {
	conn := setup(t)
	bundles, err := ParseGateConfigs([]byte(`
configs:
  - name: painterly
    min_visual_quality: 0.4
`))
	gt.NoError(t, err)

	for i := 0; i < 3; i++ {
		seed := append([]GateConfig(nil), bundles...)
		gt.NoError(t, SeedGateConfigs(conn, seed))
	}
	cfg, err := GetGateConfig(conn, "painterly")
	gt.NoError(t, err)
	gt.Equal(t, cfg.Version, 1)

	bundles[0].MinVisualQuality = 0.5
	gt.NoError(t, SeedGateConfigs(conn, bundles))
	cfg, err = GetGateConfig(conn, "painterly")
	gt.NoError(t, err)
	gt.Equal(t, cfg.Version, 2)
	gt.Equal(t, cfg.MinVisualQuality, 0.5)
}

func TestParseGateConfigs(t *testing.T) {
	bundles, err := ParseGateConfigs([]byte(`
configs:
  - name: strict
    min_width: 1024
    min_height: 1024
    allowed_formats: [image/png]
    min_character_consistency: 0.85
    aggregation_method: min
    gate_weights:
      identity: 2
    visual:
      max_dimension: 256
  - name: loose
    auto_fail_on_threshold: false
`))
	gt.NoError(t, err)
	gt.A(t, bundles).Length(2)

	strict := bundles[0]
	gt.Equal(t, strict.MinWidth, uint32(1024))
	gt.Equal(t, strict.AllowedFormatList(), []string{"image/png"})
	gt.Equal(t, strict.MinCharacterConsistency, 0.85)
	gt.Equal(t, strict.AggregationMethod, "min")
	gt.Equal(t, strict.GateWeight("identity"), 2.0)
	gt.Equal(t, strict.GateWeight("visual"), 1.0)
	gt.Equal(t, strict.Visual().MaxDimension, uint(256))
	// untouched keys keep the defaults
	gt.Equal(t, strict.MinVisualQuality, 0.6)
	def := DefaultGateConfig()
	gt.Equal(t, strict.Visual().Sharpness, def.Visual().Sharpness)

	loose := bundles[1]
	gt.False(t, loose.AutoFailOnThreshold)
	gt.Equal(t, loose.MinWidth, uint32(512))

	_, err = ParseGateConfigs([]byte("configs:\n  - min_width: 10\n"))
	gt.Error(t, err)
	_, err = ParseGateConfigs([]byte("configs: ["))
	gt.Error(t, err)
}

func TestCreateAssetRefresh(t *testing.T) {
	conn := setup(t)
	a := newAsset(t, conn, "a.png")
	gt.Equal(t, a.CharacterName, "alice")
	gt.Equal(t, a.QualityStatus, StatusUnvalidated)

	again := Asset{BucketID: 1, Path: "a.png", Hash: "h2", Size: 20, Width: 64, Height: 64}
	gt.NoError(t, CreateAsset(conn, &again))
	gt.Equal(t, again.ID, a.ID)
	gt.Equal(t, again.Hash, "h2")
	gt.Equal(t, again.Size, int64(20))
	// an empty character keeps the registered one
	gt.Equal(t, again.CharacterName, "alice")

	_, err := GetAsset(conn, 999)
	gt.True(t, errors.Is(err, errs.ErrAssetNotFound))
	gt.True(t, errors.Is(UpdateAssetStatus(conn, 999, StatusPassed, Scores{}), errs.ErrAssetNotFound))
}

func TestEnsureEmbedding(t *testing.T) {
	conn := setup(t)
	a := newAsset(t, conn, "a.png")
	b := newAsset(t, conn, "b.png")

	e := NewEmbedding(a.ID, "alice", "m1", []float32{1, 0, 0}, 1.5)
	created, err := EnsureEmbedding(conn, &e)
	gt.NoError(t, err)
	gt.True(t, created)
	gt.Equal(t, e.Confidence, 1.0)

	dup := NewEmbedding(a.ID, "alice", "m1", []float32{0, 1, 0}, 0.5)
	created, err = EnsureEmbedding(conn, &dup)
	gt.NoError(t, err)
	gt.False(t, created)
	gt.Equal(t, dup.ID, e.ID)
	gt.Equal(t, dup.Floats(), []float32{1, 0, 0})

	short := NewEmbedding(b.ID, "alice", "m1", []float32{1, 0}, 1)
	_, err = EnsureEmbedding(conn, &short)
	gt.True(t, errors.Is(err, errs.ErrDimensionMismatch))

	// another model may use another size
	other := NewEmbedding(b.ID, "alice", "m2", []float32{1, 0}, 0)
	created, err = EnsureEmbedding(conn, &other)
	gt.NoError(t, err)
	gt.True(t, created)

	// a zero confidence survives the round trip
	var stored Embedding
	gt.NoError(t, conn.First(&stored, other.ID).Error)
	gt.Equal(t, stored.Confidence, 0.0)
}

func TestSaveRun(t *testing.T) {
	conn := setup(t)
	a := newAsset(t, conn, "a.png")

	none, err := LatestResults(conn, a.ID)
	gt.NoError(t, err)
	gt.A(t, none).Length(0)

	run := func(id string, passed bool) {
		results := []GateResult{
			{RunID: id, AssetID: a.ID, GateName: "technical", ConfigName: "default", ConfigVersion: 1, Passed: true, Score: 1},
			{RunID: id, AssetID: a.ID, GateName: "identity", ConfigName: "default", ConfigVersion: 1, Passed: passed, Score: 0.8},
		}
		tech, cons := 1.0, 0.8
		status := StatusPassed
		if !passed {
			status = StatusFailed
		}
		gt.NoError(t, SaveRun(conn, a.ID, results, status, Scores{Technical: &tech, Consistency: &cons}))
	}
	run("run-1", true)
	run("run-2", false)

	latest, err := LatestResults(conn, a.ID)
	gt.NoError(t, err)
	gt.A(t, latest).Length(2)
	gt.Equal(t, latest[0].RunID, "run-2")
	gt.Equal(t, latest[0].GateName, "technical")
	gt.False(t, latest[1].Passed)

	stored, err := GetAsset(conn, a.ID)
	gt.NoError(t, err)
	gt.Equal(t, stored.QualityStatus, StatusFailed)
	gt.NotNil(t, stored.ValidatedAt)
	gt.Equal(t, *stored.ConsistencyScore, 0.8)
	gt.True(t, stored.VisualScore == nil)

	h, err := IdentityHistory(conn, "alice", "identity")
	gt.NoError(t, err)
	gt.Equal(t, h.Runs, int64(2))

	// unknown asset rolls the rows back
	err = SaveRun(conn, 999, []GateResult{{RunID: "run-3", AssetID: a.ID, GateName: "technical"}}, StatusPassed, Scores{})
	gt.True(t, errors.Is(err, errs.ErrAssetNotFound))
	rows, err := RunResults(conn, "run-3")
	gt.NoError(t, err)
	gt.A(t, rows).Length(0)
}

// queryErrors records the errors gorm reports to its logger
type queryErrors struct {
	errs []error
}

func (q *queryErrors) LogMode(gormlogger.LogLevel) gormlogger.Interface { return q }
func (q *queryErrors) Info(context.Context, string, ...interface{}) {}
func (q *queryErrors) Warn(context.Context, string, ...interface{}) {}
func (q *queryErrors) Error(context.Context, string, ...interface{}) {}
func (q *queryErrors) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if err != nil {
		q.errs = append(q.errs, err)
	}
}

func TestExpectedMissesAreNotLogged(t *testing.T) {
	conn := setup(t)
	q := &queryErrors{}
	quiet := conn.Session(&gorm.Session{Logger: q})

	a := Asset{BucketID: 1, Path: "new.png", Hash: "h"}
	gt.NoError(t, CreateAsset(quiet, &a))
	_, err := GetGateConfig(quiet, "missing")
	gt.True(t, errors.Is(err, errs.ErrConfigNotFound))
	_, err = GetAssetByPath(quiet, 1, "other.png")
	gt.True(t, errors.Is(err, errs.ErrAssetNotFound))
	e := NewEmbedding(a.ID, "alice", "m1", []float32{1}, 1)
	_, err = EnsureEmbedding(quiet, &e)
	gt.NoError(t, err)

	gt.A(t, q.errs).Length(0)
}
