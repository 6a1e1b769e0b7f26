// Package registry implements the mapping registry: a persisted,
// concurrently queried table of forward_key -> (dest_addr, dest_passwd?),
// backed by SQLite via uptrace/bun the same way manager/internal/database
// backs its admin repositories.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/santazhang/vncproxy/internal/desvnc"
	"github.com/santazhang/vncproxy/internal/metrics"
)

// InsertResult is the outcome of an Insert call.
type InsertResult int

const (
	// Ok means the mapping was stored.
	Ok InsertResult = iota
	// DuplicateKey means forward_key collides, after normalization, with
	// an existing mapping.
	DuplicateKey
	// InvalidName means forward_key's length is outside [1, 8].
	InvalidName
)

func (r InsertResult) String() string {
	switch r {
	case Ok:
		return "ok"
	case DuplicateKey:
		return "duplicate_key"
	case InvalidName:
		return "invalid_name"
	default:
		return "unknown"
	}
}

// Mapping is one forward_key -> destination record.
type Mapping struct {
	ForwardKey []byte
	DestAddr   string
	DestPasswd []byte // nil when the upstream requires no VNC auth
}

// Store is the registry contract the session handler and the cleanup task
// consume, and the admin CLI mutates.
type Store interface {
	Lookup(ctx context.Context, forwardKey []byte) (*Mapping, error)
	Insert(ctx context.Context, m Mapping) (InsertResult, error)
	Remove(ctx context.Context, forwardKey []byte) (int, error)
	RemoveByDest(ctx context.Context, host string, port int) (int, error)
	Snapshot(ctx context.Context) ([]Mapping, error)
	Close() error
}

// row is the Bun-mapped table row. forward_key, dest_host and dest_port are
// stored separately from the logical "host:port" address so RemoveByDest can
// filter in SQL.
type row struct {
	bun.BaseModel `bun:"table:mappings,alias:m"`

	ForwardKey []byte `bun:"forward_key,pk"`
	DestHost   string `bun:"dest_host,notnull"`
	DestPort   int    `bun:"dest_port,notnull"`
	DestPasswd []byte `bun:"dest_passwd"`
}

func (r *row) mapping() Mapping {
	return Mapping{
		ForwardKey: append([]byte(nil), r.ForwardKey...),
		DestAddr:   net.JoinHostPort(r.DestHost, strconv.Itoa(r.DestPort)),
		DestPasswd: r.DestPasswd,
	}
}

// SQLiteStore is the SQLite-backed Store implementation. Mutating calls
// (Insert/Remove/RemoveByDest) hold mu for their full duration so the
// normalized-duplicate check in Insert sees a consistent table; Snapshot only
// takes mu long enough to run the query, never across caller I/O, and Lookup
// does not take mu at all.
type SQLiteStore struct {
	db *bun.DB
	mu sync.Mutex
}

// Open creates or attaches to a SQLite-backed registry at dsn (a file path,
// or ":memory:" for tests) and ensures the mappings table exists.
func Open(ctx context.Context, dsn string) (*SQLiteStore, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", dsn, err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())

	if _, err := db.NewCreateTable().Model((*row)(nil)).IfNotExists().Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Lookup returns the mapping whose forward_key is byte-identical to
// forwardKey, or nil if none exists.
func (s *SQLiteStore) Lookup(ctx context.Context, forwardKey []byte) (*Mapping, error) {
	var r row
	err := s.db.NewSelect().Model(&r).Where("forward_key = ?", forwardKey).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: lookup: %w", err)
	}
	m := r.mapping()
	return &m, nil
}

// Insert validates forward_key's normalized uniqueness before its length:
// a too-long forward_key that collides with an existing key once truncated
// to 8 bytes is reported as DuplicateKey rather than InvalidName, since the
// two would be indistinguishable to the auth scan regardless. Persistence
// is flushed synchronously (SQLite commits inline on this driver); there is
// no separate flush step.
func (s *SQLiteStore) Insert(ctx context.Context, m Mapping) (InsertResult, error) {
	if len(m.ForwardKey) < 1 {
		metrics.RegistryMutationsTotal.WithLabelValues("insert", InvalidName.String()).Inc()
		return InvalidName, nil
	}

	host, portStr, err := net.SplitHostPort(m.DestAddr)
	if err != nil {
		return Ok, fmt.Errorf("registry: invalid dest_addr %q: %w", m.DestAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Ok, fmt.Errorf("registry: invalid dest_addr port %q: %w", m.DestAddr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.snapshotLocked(ctx)
	if err != nil {
		return Ok, err
	}

	normNew := desvnc.Pad8(m.ForwardKey)
	for _, e := range existing {
		if desvnc.Pad8(e.ForwardKey) == normNew {
			metrics.RegistryMutationsTotal.WithLabelValues("insert", DuplicateKey.String()).Inc()
			return DuplicateKey, nil
		}
	}

	if len(m.ForwardKey) > 8 {
		metrics.RegistryMutationsTotal.WithLabelValues("insert", InvalidName.String()).Inc()
		return InvalidName, nil
	}

	r := &row{
		ForwardKey: m.ForwardKey,
		DestHost:   host,
		DestPort:   port,
		DestPasswd: m.DestPasswd,
	}
	if _, err := s.db.NewInsert().Model(r).Exec(ctx); err != nil {
		metrics.RegistryMutationsTotal.WithLabelValues("insert", "error").Inc()
		return Ok, fmt.Errorf("registry: insert: %w", err)
	}
	metrics.RegistryMutationsTotal.WithLabelValues("insert", Ok.String()).Inc()
	return Ok, nil
}

// Remove deletes the mapping whose forward_key is byte-identical to
// forwardKey and returns the number of rows removed (0 or 1).
func (s *SQLiteStore) Remove(ctx context.Context, forwardKey []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.NewDelete().Model((*row)(nil)).Where("forward_key = ?", forwardKey).Exec(ctx)
	if err != nil {
		metrics.RegistryMutationsTotal.WithLabelValues("remove", "error").Inc()
		return 0, fmt.Errorf("registry: remove: %w", err)
	}
	n, _ := res.RowsAffected()
	metrics.RegistryMutationsTotal.WithLabelValues("remove", Ok.String()).Inc()
	return int(n), nil
}

// RemoveByDest deletes every mapping pointing at host (and, when port != 0,
// that exact port) and returns the number of rows removed.
func (s *SQLiteStore) RemoveByDest(ctx context.Context, host string, port int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.db.NewDelete().Model((*row)(nil)).Where("dest_host = ?", host)
	if port != 0 {
		q = q.Where("dest_port = ?", port)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		metrics.RegistryMutationsTotal.WithLabelValues("remove_by_dest", "error").Inc()
		return 0, fmt.Errorf("registry: remove by dest: %w", err)
	}
	n, _ := res.RowsAffected()
	metrics.RegistryMutationsTotal.WithLabelValues("remove_by_dest", Ok.String()).Inc()
	return int(n), nil
}

// Snapshot returns a point-in-time consistent copy of every mapping. The
// session handler's auth scan takes one of these per session
// before doing any network I/O, so the scan never holds the registry lock
// across a socket operation.
func (s *SQLiteStore) Snapshot(ctx context.Context) ([]Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(ctx)
}

func (s *SQLiteStore) snapshotLocked(ctx context.Context) ([]Mapping, error) {
	var rows []row
	if err := s.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("registry: snapshot: %w", err)
	}
	out := make([]Mapping, len(rows))
	for i := range rows {
		out[i] = rows[i].mapping()
	}
	return out, nil
}
