package routestore

import (
	"context"
	"errors"
	"time"

	"github.com/theoremus-urban-solutions/departures/model"
)

// ErrRouteNotFound is returned for unknown route ids.
var ErrRouteNotFound = errors.New("route not found")

// Repository is the engine's view of route storage.
type Repository interface {
	List(ctx context.Context) ([]model.Route, error)
	Get(ctx context.Context, id string) (model.Route, error)
	// IncrementUsage atomically bumps the usage counter of id, stamps
	// LastUsedAt and returns the updated route.
	IncrementUsage(ctx context.Context, id string, at time.Time) (model.Route, error)
}
