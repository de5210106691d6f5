// Package vectorutils builds a vector.Driver from configuration.
package vectorutils

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/scout/pkg/vector"
	"github.com/papercomputeco/scout/pkg/vector/chroma"
	"github.com/papercomputeco/scout/pkg/vector/chromem"
	"github.com/papercomputeco/scout/pkg/vector/qdrant"
	"github.com/papercomputeco/scout/pkg/vector/sqlitevec"
)

type NewVectorDriverOpts struct {
	// ProviderType is one of "chromem", "chroma", "qdrant" or "sqlite".
	ProviderType string

	// Target is the server URL for chroma and qdrant, and a path for
	// chromem (directory) and sqlite (database file).
	Target     string
	Collection string
	Dimensions uint
	Logger     *slog.Logger
}

func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.Driver, error) {
	switch o.ProviderType {
	case "chromem":
		return chromem.NewDriver(chromem.Config{
			Path:           o.Target,
			CollectionName: o.Collection,
		}, o.Logger)
	case "chroma":
		return chroma.NewDriver(chroma.Config{
			URL:            o.Target,
			CollectionName: o.Collection,
		}, o.Logger)
	case "qdrant":
		return qdrant.NewDriver(ctx, qdrant.Config{
			URL:            o.Target,
			CollectionName: o.Collection,
			Dimensions:     o.Dimensions,
		}, o.Logger)
	case "sqlite":
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.Target,
			Dimensions: o.Dimensions,
		}, o.Logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
