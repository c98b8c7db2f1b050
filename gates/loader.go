package gates

import (
	"context"

	"assetgate/models"
	"assetgate/storage"

	"github.com/m-mizutani/goerr/v2"
)

// Loader returns the bytes of an asset. A missing file must be reported with
// an error matching os.ErrNotExist.
type Loader interface {
	Load(ctx context.Context, asset *models.Asset) ([]byte, error)
}

type LoaderFunc func(ctx context.Context, asset *models.Asset) ([]byte, error)

func (f LoaderFunc) Load(ctx context.Context, asset *models.Asset) ([]byte, error) {
	return f(ctx, asset)
}

// StorageLoader reads assets from their bucket
var StorageLoader = LoaderFunc(func(ctx context.Context, asset *models.Asset) ([]byte, error) {
	s := storage.StorageFrom(&asset.Bucket)
	if s == nil {
		var err error
		if s, err = storage.New(&asset.Bucket); err != nil {
			return nil, goerr.Wrap(err, "no storage for asset", goerr.V("asset_id", asset.ID))
		}
	}
	return storage.ReadAll(s, asset.Path)
})
