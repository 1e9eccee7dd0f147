package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/l0p7/authgate/internal/policy"
)

// querier is the read slice of a pool or transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// db is the slice of pgxpool.Pool the provider uses.
type db interface {
	querier
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// Postgres serves configuration from a database and supports route
// management. Snapshots are cached and rebuilt lazily after a mutation
// marks them stale.
type Postgres struct {
	db     db
	logger *slog.Logger

	rebuildMu sync.Mutex
	snapshot  atomic.Pointer[Snapshot]
	stale     atomic.Bool
}

// NewPostgres connects to the database and loads the initial snapshot. A
// failure to load at startup is fatal.
func NewPostgres(ctx context.Context, logger *slog.Logger, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("provider: database url required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("provider: connect postgres: %w", err)
	}
	p, err := newPostgres(ctx, logger, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func newPostgres(ctx context.Context, logger *slog.Logger, d db) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Postgres{
		db:     d,
		logger: logger.With(slog.String("agent", "config_postgres")),
	}
	snap, err := p.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	p.snapshot.Store(snap)
	return p, nil
}

func (p *Postgres) loadSnapshot(ctx context.Context) (*Snapshot, error) {
	// Both reads run in one repeatable-read transaction so a concurrent
	// writer cannot land between them and skew the snapshot.
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("provider: begin snapshot read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sessionURL, loginRedirect, cookieName string
	// Multiple rows are an operator mistake; the lowest id wins so behavior
	// stays stable across restarts.
	row := tx.QueryRow(ctx,
		`SELECT session_url, login_redirect, COALESCE(cookie_name, '') FROM auth_config ORDER BY id LIMIT 1`)
	if err := row.Scan(&sessionURL, &loginRedirect, &cookieName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("provider: auth_config table is empty: %w", ErrUnavailable)
		}
		return nil, fmt.Errorf("provider: load auth_config: %w", err)
	}

	routes, err := queryRoutes(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("provider: commit snapshot read: %w", err)
	}
	return buildSnapshot(sessionURL, loginRedirect, cookieName, routes)
}

func queryRoutes(ctx context.Context, q querier) ([]policy.RouteDef, error) {
	rows, err := q.Query(ctx, `SELECT id, host, path, require FROM routes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("provider: query routes: %w", err)
	}
	defer rows.Close()

	var routes []policy.RouteDef
	for rows.Next() {
		var (
			id         int64
			host, path string
			require    []byte
		)
		if err := rows.Scan(&id, &host, &path, &require); err != nil {
			return nil, fmt.Errorf("provider: scan route: %w", err)
		}
		block, err := policy.ParseRequire(require, false)
		if err != nil {
			return nil, fmt.Errorf("provider: route %d require: %w", id, err)
		}
		routes = append(routes, policy.RouteDef{
			ID:      strconv.FormatInt(id, 10),
			Host:    host,
			Path:    path,
			Require: block,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provider: iterate routes: %w", err)
	}
	return routes, nil
}

// Current returns the cached snapshot, rebuilding it first when a mutation
// marked it stale. A rebuild failure falls back to the last good snapshot.
func (p *Postgres) Current(ctx context.Context) (*Snapshot, error) {
	if p.stale.Load() {
		p.rebuildMu.Lock()
		if p.stale.Load() {
			snap, err := p.loadSnapshot(ctx)
			if err != nil {
				p.rebuildMu.Unlock()
				if last := p.snapshot.Load(); last != nil {
					p.logger.Warn("snapshot rebuild failed, serving last known good", slog.Any("error", err))
					return last, nil
				}
				return nil, fmt.Errorf("provider: rebuild snapshot: %w", errors.Join(err, ErrUnavailable))
			}
			p.snapshot.Store(snap)
			p.stale.Store(false)
		}
		p.rebuildMu.Unlock()
	}
	if snap := p.snapshot.Load(); snap != nil {
		return snap, nil
	}
	return nil, ErrUnavailable
}

// ListRoutes reads the routes table directly so the admin view is never
// behind a stale snapshot.
func (p *Postgres) ListRoutes(ctx context.Context) ([]policy.RouteDef, error) {
	return queryRoutes(ctx, p.db)
}

func (p *Postgres) GetRoute(ctx context.Context, id string) (policy.RouteDef, error) {
	numeric, err := parseRouteID(id)
	if err != nil {
		return policy.RouteDef{}, err
	}
	var (
		host, path string
		require    []byte
	)
	row := p.db.QueryRow(ctx, `SELECT host, path, require FROM routes WHERE id = $1`, numeric)
	if err := row.Scan(&host, &path, &require); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return policy.RouteDef{}, ErrNotFound
		}
		return policy.RouteDef{}, fmt.Errorf("provider: get route: %w", err)
	}
	block, err := policy.ParseRequire(require, false)
	if err != nil {
		return policy.RouteDef{}, fmt.Errorf("provider: route %s require: %w", id, err)
	}
	return policy.RouteDef{ID: id, Host: host, Path: path, Require: block}, nil
}

func (p *Postgres) CreateRoute(ctx context.Context, route policy.RouteDef) (policy.RouteDef, error) {
	require, err := json.Marshal(route.Require)
	if err != nil {
		return policy.RouteDef{}, fmt.Errorf("provider: encode require: %w", err)
	}
	var id int64
	row := p.db.QueryRow(ctx,
		`INSERT INTO routes (host, path, require, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now()) RETURNING id`,
		route.Host, route.Path, require)
	if err := row.Scan(&id); err != nil {
		return policy.RouteDef{}, fmt.Errorf("provider: create route: %w", err)
	}
	p.stale.Store(true)
	route.ID = strconv.FormatInt(id, 10)
	return route, nil
}

func (p *Postgres) UpdateRoute(ctx context.Context, route policy.RouteDef) (policy.RouteDef, error) {
	numeric, err := parseRouteID(route.ID)
	if err != nil {
		return policy.RouteDef{}, err
	}
	require, err := json.Marshal(route.Require)
	if err != nil {
		return policy.RouteDef{}, fmt.Errorf("provider: encode require: %w", err)
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE routes SET host = $1, path = $2, require = $3, updated_at = now() WHERE id = $4`,
		route.Host, route.Path, require, numeric)
	if err != nil {
		return policy.RouteDef{}, fmt.Errorf("provider: update route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return policy.RouteDef{}, ErrNotFound
	}
	p.stale.Store(true)
	return route, nil
}

func (p *Postgres) DeleteRoute(ctx context.Context, id string) error {
	numeric, err := parseRouteID(id)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx, `DELETE FROM routes WHERE id = $1`, numeric)
	if err != nil {
		return fmt.Errorf("provider: delete route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	p.stale.Store(true)
	return nil
}

func (p *Postgres) Close(context.Context) error {
	p.db.Close()
	return nil
}

// parseRouteID maps a malformed id to ErrNotFound so callers need not
// distinguish "bad id" from "absent id".
func parseRouteID(id string) (int64, error) {
	numeric, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("provider: route id %q: %w", id, ErrNotFound)
	}
	return numeric, nil
}
