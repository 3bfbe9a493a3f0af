package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	_ "modernc.org/sqlite"
)

const (
	RouteStatusNotStarted = "NOT_STARTED"
	RouteStatusPending    = "PENDING"
	RouteStatusHalted     = "ACTION_REQUIRED"
	RouteStatusFailed     = "FAILED"
	RouteStatusDone       = "DONE"
)

// Store persists route snapshots so execution can resume across processes.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create route store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create route lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open route sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS routes (
			route_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			from_chain_id INTEGER NOT NULL,
			to_chain_id INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_routes_status_updated ON routes(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init route schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath), now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts a route snapshot. It is safe to use as an UpdateCallback sink.
func (s *Store) Save(route Route) error {
	if strings.TrimSpace(route.ID) == "" {
		return fmt.Errorf("save route: missing route id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock route store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock route store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}
	now := s.now().UnixNano()
	_, err = s.db.Exec(`
		INSERT INTO routes (route_id, status, from_chain_id, to_chain_id, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(route_id) DO UPDATE SET
			status=excluded.status,
			from_chain_id=excluded.from_chain_id,
			to_chain_id=excluded.to_chain_id,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, route.ID, RouteStatus(route), route.FromChainID, route.ToChainID, now, now, payload)
	if err != nil {
		return fmt.Errorf("save route: %w", err)
	}
	return nil
}

func (s *Store) Get(routeID string) (Route, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM routes WHERE route_id = ?", routeID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Route{}, clierr.New(clierr.CodeNotFound, fmt.Sprintf("route not found: %s", routeID))
		}
		return Route{}, fmt.Errorf("read route: %w", err)
	}
	var route Route
	if err := json.Unmarshal(payload, &route); err != nil {
		return Route{}, fmt.Errorf("decode route payload: %w", err)
	}
	return route, nil
}

func (s *Store) List(status string, limit int) ([]Route, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.Query("SELECT payload FROM routes ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM routes WHERE status = ? ORDER BY updated_at DESC LIMIT ?", strings.ToUpper(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	routes := make([]Route, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan route row: %w", err)
		}
		var route Route
		if err := json.Unmarshal(payload, &route); err != nil {
			return nil, fmt.Errorf("decode route row: %w", err)
		}
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route rows: %w", err)
	}
	return routes, nil
}

// RouteStatus summarises a route from its steps' executions.
func RouteStatus(route Route) string {
	started, done := false, 0
	for _, step := range route.Steps {
		if step.Execution == nil {
			continue
		}
		started = true
		switch step.Execution.Status {
		case StatusFailed:
			return RouteStatusFailed
		case StatusActionRequired:
			return RouteStatusHalted
		case StatusDone:
			done++
		}
	}
	switch {
	case len(route.Steps) > 0 && done == len(route.Steps):
		return RouteStatusDone
	case started:
		return RouteStatusPending
	default:
		return RouteStatusNotStarted
	}
}
