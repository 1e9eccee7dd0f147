// Package provider supplies the gate's routing catalogue. A Snapshot is an
// immutable view of the configuration; callers fetch a fresh one per request
// and never observe partial updates.
package provider

import (
	"context"
	"errors"

	"github.com/l0p7/authgate/internal/policy"
)

var (
	// ErrNotSupported marks mutations on backends without write support.
	ErrNotSupported = errors.New("provider: operation not supported")
	// ErrNotFound marks lookups and mutations of routes that do not exist.
	ErrNotFound = errors.New("provider: route not found")
	// ErrUnavailable means the backing store cannot be reached and no
	// previously loaded snapshot exists to fall back on.
	ErrUnavailable = errors.New("provider: configuration unavailable")
)

// Snapshot is one consistent view of the service configuration. The slice
// and its elements must be treated as read-only.
type Snapshot struct {
	SessionURL    string
	LoginRedirect string
	CookieName    string
	Routes        []policy.RouteDef
}

// Provider exposes the configuration snapshot plus route management. File
// backends return ErrNotSupported for every mutation.
type Provider interface {
	Current(ctx context.Context) (*Snapshot, error)
	ListRoutes(ctx context.Context) ([]policy.RouteDef, error)
	GetRoute(ctx context.Context, id string) (policy.RouteDef, error)
	CreateRoute(ctx context.Context, route policy.RouteDef) (policy.RouteDef, error)
	UpdateRoute(ctx context.Context, route policy.RouteDef) (policy.RouteDef, error)
	DeleteRoute(ctx context.Context, id string) error
	Close(ctx context.Context) error
}
