package docstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/config"
)

const (
	// DefaultCollection is the collection holding all documents.
	DefaultCollection = config.DefaultCollection

	// DefaultIDField is the document field used as the stored id.
	DefaultIDField = config.DefaultIDField
)

// NewStore creates the Store selected by cfg.Store.Provider:
//   - "chromem" (default): embedded store under cfg.Store.Path
//   - "qdrant": remote Qdrant at cfg.Store.URL
//
// When cfg.Store.LookupRate is positive the store is wrapped in RateLimited.
// The caller owns the returned store and must Close it.
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Store.Provider {
	case "chromem", "":
		store, err = NewChromemStore(ChromemConfig{
			Path:       cfg.Store.Path,
			Compress:   cfg.Store.Compress,
			Collection: cfg.Store.Collection,
			VectorSize: cfg.Store.VectorSize,
			IDField:    cfg.Merge.IDField,
		}, logger)

	case "qdrant":
		host, port, parseErr := ParseQdrantURL(cfg.Store.URL)
		if parseErr != nil {
			return nil, parseErr
		}
		store, err = NewQdrantStore(ctx, QdrantConfig{
			Host:       host,
			Port:       port,
			APIKey:     cfg.Store.APIKey.Value(),
			UseTLS:     cfg.Store.UseTLS,
			Collection: cfg.Store.Collection,
			VectorSize: cfg.Store.VectorSize,
			IDField:    cfg.Merge.IDField,
			MaxRetries: cfg.Store.MaxRetries,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported store provider: %s (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Store.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Store.LookupRate > 0 {
		store = NewRateLimited(store, cfg.Store.LookupRate, cfg.Store.LookupBurst)
	}
	return store, nil
}
