package references

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"assetgate/db"
	"assetgate/errs"
	"assetgate/logger"
	"assetgate/models"
	"assetgate/similarity"
	"assetgate/storage"

	"github.com/m-mizutani/gt"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *Curator) {
	dir := t.TempDir()
	conn := db.Init("", filepath.Join(dir, "test.db"))
	gt.NoError(t, models.Init(conn))
	bucket := storage.Bucket{Name: "test", StorageType: storage.StorageTypeFile, Path: filepath.Join(dir, "bucket")}
	gt.NoError(t, bucket.Create(conn))
	return conn, NewCurator(conn, logger.Nop())
}

func newAssets(t *testing.T, conn *gorm.DB, n int) []uint64 {
	ids := make([]uint64, n)
	for i := range ids {
		a := models.Asset{BucketID: 1, Path: fmt.Sprintf("img-%d.png", i), CharacterName: "alice"}
		gt.NoError(t, models.CreateAsset(conn, &a))
		ids[i] = a.ID
	}
	return ids
}

func ref(assetID uint64, t models.ReferenceType) NewReference {
	return NewReference{
		AssetID:    assetID,
		Character:  "alice",
		Model:      "m1",
		Vector:     []float32{1, float32(assetID), 0, 0},
		Confidence: 1,
		Type:       t,
		Weight:     1,
		CreatedBy:  "test",
		MaxAuto:    10,
	}
}

func activeIDs(t *testing.T, c *Curator) map[uint64]models.ReferenceType {
	rows, err := c.List(context.Background(), "alice", false)
	gt.NoError(t, err)
	result := map[uint64]models.ReferenceType{}
	for _, r := range rows {
		result[r.AssetID] = r.ReferenceType
	}
	return result
}

func TestAutoReferencesAreCapped(t *testing.T) {
	conn, c := setup(t)
	ids := newAssets(t, conn, 15)
	for _, id := range ids {
		added, err := c.AddReference(context.Background(), ref(id, models.ReferenceAuto))
		gt.NoError(t, err)
		gt.True(t, added)
	}

	active := activeIDs(t, c)
	gt.Equal(t, len(active), 10)
	for _, id := range ids[5:] {
		_, ok := active[id]
		gt.True(t, ok)
	}

	all, err := c.List(context.Background(), "alice", true)
	gt.NoError(t, err)
	gt.A(t, all).Length(15)

	counts, err := c.CountsByType(context.Background(), "alice")
	gt.NoError(t, err)
	gt.Equal(t, counts[models.ReferenceAuto], int64(10))
	gt.Equal(t, counts[models.ReferenceManual], int64(0))
}

func TestCleanupNeverTouchesManualReferences(t *testing.T) {
	conn, c := setup(t)
	ids := newAssets(t, conn, 22)
	for _, id := range ids[:20] {
		_, err := c.AddReference(context.Background(), ref(id, models.ReferenceManual))
		gt.NoError(t, err)
	}
	for _, id := range ids[20:] {
		_, err := c.AddReference(context.Background(), ref(id, models.ReferenceAuto))
		gt.NoError(t, err)
	}

	deactivated, err := c.Cleanup(context.Background(), "alice", 5)
	gt.NoError(t, err)
	gt.Equal(t, deactivated, 0)

	deactivated, err = c.Cleanup(context.Background(), "alice", 0)
	gt.NoError(t, err)
	gt.Equal(t, deactivated, 2)

	active := activeIDs(t, c)
	gt.Equal(t, len(active), 20)
	for _, typ := range active {
		gt.Equal(t, typ, models.ReferenceManual)
	}
}

func TestReactivation(t *testing.T) {
	conn, c := setup(t)
	ids := newAssets(t, conn, 2)

	first := ref(ids[0], models.ReferenceAuto)
	first.MaxAuto = 1
	_, err := c.AddReference(context.Background(), first)
	gt.NoError(t, err)
	second := ref(ids[1], models.ReferenceAuto)
	second.MaxAuto = 1
	_, err = c.AddReference(context.Background(), second)
	gt.NoError(t, err)

	active := activeIDs(t, c)
	gt.Equal(t, len(active), 1)
	_, ok := active[ids[1]]
	gt.True(t, ok)

	// a manual add brings the evicted asset back with its new type
	added, err := c.AddReference(context.Background(), ref(ids[0], models.ReferenceManual))
	gt.NoError(t, err)
	gt.True(t, added)
	active = activeIDs(t, c)
	gt.Equal(t, active[ids[0]], models.ReferenceManual)

	added, err = c.AddReference(context.Background(), ref(ids[0], models.ReferenceManual))
	gt.NoError(t, err)
	gt.False(t, added)

	var count int64
	gt.NoError(t, conn.Model(&models.CharacterReference{}).Count(&count).Error)
	gt.Equal(t, count, int64(2))
}

func TestActiveReferencesOrderAndModel(t *testing.T) {
	conn, c := setup(t)
	ids := newAssets(t, conn, 3)

	light := ref(ids[0], models.ReferenceManual)
	light.Weight = 0.5
	heavy := ref(ids[1], models.ReferenceCanonical)
	heavy.Weight = 5 // clamped to 2
	heavy.Confidence = 0.5
	normal := ref(ids[2], models.ReferenceAuto)
	for _, r := range []NewReference{light, heavy, normal} {
		_, err := c.AddReference(context.Background(), r)
		gt.NoError(t, err)
	}

	refs, err := c.ActiveReferences(context.Background(), "alice", "m1")
	gt.NoError(t, err)
	gt.A(t, refs).Length(3)
	gt.Equal(t, refs[0].AssetID, ids[1])
	gt.Equal(t, refs[0].Weight, 2.0)
	gt.Equal(t, refs[1].AssetID, ids[2])
	gt.Equal(t, refs[2].AssetID, ids[0])
	gt.Equal(t, refs[0].Vector, []float32{1, float32(ids[1]), 0, 0})

	sim := Similarity(refs)
	gt.A(t, sim).Length(3)
	gt.Equal(t, sim[0].Weight, 1.0)

	gt.A(t, Similarity(refs, models.ReferenceAuto)).Length(1)

	other, err := c.ActiveReferences(context.Background(), "alice", "m2")
	gt.NoError(t, err)
	gt.A(t, other).Length(0)

	none, err := c.ActiveReferences(context.Background(), "bob", "m1")
	gt.NoError(t, err)
	gt.A(t, none).Length(0)
}

func TestDimensionMismatchRollsBack(t *testing.T) {
	conn, c := setup(t)
	ids := newAssets(t, conn, 2)
	_, err := c.AddReference(context.Background(), ref(ids[0], models.ReferenceManual))
	gt.NoError(t, err)

	bad := ref(ids[1], models.ReferenceManual)
	bad.Vector = []float32{1, 2, 3}
	_, err = c.AddReference(context.Background(), bad)
	gt.True(t, errors.Is(err, errs.ErrDimensionMismatch))

	gt.Equal(t, len(activeIDs(t, c)), 1)
}

func TestInvalidReference(t *testing.T) {
	conn, c := setup(t)
	ids := newAssets(t, conn, 1)

	r := ref(ids[0], "favourite")
	_, err := c.AddReference(context.Background(), r)
	gt.Error(t, err)

	r = ref(ids[0], models.ReferenceManual)
	r.Character = "  "
	_, err = c.AddReference(context.Background(), r)
	gt.Error(t, err)
}

func TestConcurrentAutoPromotion(t *testing.T) {
	conn, c := setup(t)
	ids := newAssets(t, conn, 30)

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := c.AddReference(context.Background(), ref(id, models.ReferenceAuto))
			return err
		})
	}
	gt.NoError(t, g.Wait())
	gt.Equal(t, len(activeIDs(t, c)), 10)
}

func TestOnlyIfFirst(t *testing.T) {
	conn, c := setup(t)
	ids := newAssets(t, conn, 10)

	var g errgroup.Group
	added := make([]bool, len(ids))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			r := ref(id, models.ReferenceAuto)
			r.OnlyIfFirst = true
			ok, err := c.AddReference(context.Background(), r)
			added[i] = ok
			return err
		})
	}
	gt.NoError(t, g.Wait())

	n := 0
	for _, ok := range added {
		if ok {
			n++
		}
	}
	gt.Equal(t, n, 1)
	gt.Equal(t, len(activeIDs(t, c)), 1)

	// references without an embedding under the model do not count
	fresh := models.Asset{BucketID: 1, Path: "fresh.png", CharacterName: "alice"}
	gt.NoError(t, models.CreateAsset(conn, &fresh))
	r := ref(fresh.ID, models.ReferenceAuto)
	r.Model, r.OnlyIfFirst = "m2", true
	ok, err := c.AddReference(context.Background(), r)
	gt.NoError(t, err)
	gt.True(t, ok)
}

func TestShouldPromote(t *testing.T) {
	gt.True(t, ShouldPromote(similarity.Result{Score: 1, FirstReference: true}, 0.8))
	gt.True(t, ShouldPromote(similarity.Result{Score: 0.8}, 0.8))
	gt.False(t, ShouldPromote(similarity.Result{Score: 0.79}, 0.8))
}
