package topology

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netman-network/netman/pkg/util"
)

// snapshotLayout names snapshot files to second precision.
const snapshotLayout = "2006-01-02_15-04-05"

// Store persists topology generations: nodes and links in sqlite (nodes
// upserted by id, links replaced wholesale per generation) plus a
// timestamped JSON snapshot per build.
type Store struct {
	conn    *sql.DB
	path    string
	snapDir string
}

// OpenStore opens the topology database at dbPath and ensures the
// snapshot directory exists.
func OpenStore(ctx context.Context, dbPath, snapDir string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &util.StorageError{Path: dbPath, Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, &util.StorageError{Path: dbPath, Err: err}
	}
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		conn.Close()
		return nil, &util.StorageError{Path: snapDir, Err: err}
	}

	s := &Store{conn: conn, path: dbPath, snapDir: snapDir}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			router_id TEXT,
			country TEXT,
			platform TEXT,
			type TEXT NOT NULL DEFAULT 'router',
			status TEXT NOT NULL DEFAULT 'active',
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS links (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			cost INTEGER NOT NULL,
			cost_source TEXT,
			source_interface TEXT NOT NULL,
			target_interface TEXT,
			status TEXT NOT NULL DEFAULT 'up',
			UNIQUE(source, target, source_interface)
		)`,
		`CREATE TABLE IF NOT EXISTS physical_links (
			id TEXT PRIMARY KEY,
			router_a TEXT NOT NULL,
			router_b TEXT NOT NULL,
			cost_a_to_b INTEGER,
			cost_b_to_a INTEGER,
			interface_a TEXT,
			interface_b TEXT,
			cost_source_a TEXT,
			cost_source_b TEXT,
			is_asymmetric INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'up',
			UNIQUE(router_a, router_b, interface_a)
		)`,
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	defer tx.Rollback()
	for _, m := range migrations {
		if _, err := tx.ExecContext(ctx, m); err != nil {
			return &util.StorageError{Path: s.path, Err: fmt.Errorf("migration: %w", err)}
		}
	}
	return tx.Commit()
}

// SaveGeneration upserts the snapshot's nodes, replaces the link set, and
// writes the timestamped JSON file.
func (s *Store) SaveGeneration(ctx context.Context, snap *Snapshot) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, n := range snap.Nodes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, name, router_id, country, platform, type, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, router_id = excluded.router_id,
				country = excluded.country, platform = excluded.platform,
				type = excluded.type, status = excluded.status,
				updated_at = excluded.updated_at`,
			n.ID, n.Name, n.RouterID, n.Country, n.Platform, n.Type, n.Status, now)
		if err != nil {
			return &util.StorageError{Path: s.path, Err: err}
		}
	}

	// Links do not survive generations: stale adjacencies must vanish.
	if _, err := tx.ExecContext(ctx, `DELETE FROM links`); err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	for _, l := range snap.Links {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO links (id, source, target, cost, cost_source,
				source_interface, target_interface, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.Source, l.Target, l.Cost, l.CostSource,
			l.SourceInterface, l.TargetInterface, l.Status)
		if err != nil {
			return &util.StorageError{Path: s.path, Err: err}
		}
	}
	// Physical links follow the same lifecycle as directional links.
	if _, err := tx.ExecContext(ctx, `DELETE FROM physical_links`); err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}
	for _, pl := range snap.PhysicalLinks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO physical_links (id, router_a, router_b,
				cost_a_to_b, cost_b_to_a, interface_a, interface_b,
				cost_source_a, cost_source_b, is_asymmetric, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pl.ID, pl.RouterA, pl.RouterB,
			nullableInt(pl.CostAToB), nullableInt(pl.CostBToA),
			pl.InterfaceA, pl.InterfaceB,
			pl.CostSourceA, pl.CostSourceB, pl.IsAsymmetric, pl.Status)
		if err != nil {
			return &util.StorageError{Path: s.path, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &util.StorageError{Path: s.path, Err: err}
	}

	return s.writeSnapshot(snap)
}

func (s *Store) writeSnapshot(snap *Snapshot) error {
	name := "network_topology_" + snap.Metadata.GeneratedAt.Format(snapshotLayout) + ".json"
	path := filepath.Join(s.snapDir, name)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &util.StorageError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(s.snapDir, ".tmp-*")
	if err != nil {
		return &util.StorageError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &util.StorageError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &util.StorageError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &util.StorageError{Path: path, Err: err}
	}
	return nil
}

// Latest loads the most recent JSON snapshot, or ErrNotFound when no
// build has run yet.
func (s *Store) Latest() (*Snapshot, error) {
	entries, err := os.ReadDir(s.snapDir)
	if err != nil {
		return nil, &util.StorageError{Path: s.snapDir, Err: err}
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "network_topology_") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no topology snapshot: %w", util.ErrNotFound)
	}
	sort.Strings(names) // timestamped names sort chronologically

	data, err := os.ReadFile(filepath.Join(s.snapDir, names[len(names)-1]))
	if err != nil {
		return nil, &util.StorageError{Path: names[len(names)-1], Err: err}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &util.StorageError{Path: names[len(names)-1], Err: err}
	}
	return &snap, nil
}

// PhysicalLinks returns the persisted consolidated link set, ordered by
// id.
func (s *Store) PhysicalLinks(ctx context.Context) ([]PhysicalLink, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, router_a, router_b, cost_a_to_b, cost_b_to_a,
			COALESCE(interface_a, ''), COALESCE(interface_b, ''),
			COALESCE(cost_source_a, ''), COALESCE(cost_source_b, ''),
			is_asymmetric, status
		FROM physical_links ORDER BY id`)
	if err != nil {
		return nil, &util.StorageError{Path: s.path, Err: err}
	}
	defer rows.Close()

	var out []PhysicalLink
	for rows.Next() {
		var pl PhysicalLink
		var costA, costB sql.NullInt64
		if err := rows.Scan(&pl.ID, &pl.RouterA, &pl.RouterB, &costA, &costB,
			&pl.InterfaceA, &pl.InterfaceB, &pl.CostSourceA, &pl.CostSourceB,
			&pl.IsAsymmetric, &pl.Status); err != nil {
			return nil, &util.StorageError{Path: s.path, Err: err}
		}
		if costA.Valid {
			v := int(costA.Int64)
			pl.CostAToB = &v
		}
		if costB.Valid {
			v := int(costB.Int64)
			pl.CostBToA = &v
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// Nodes returns the persisted node set, ordered by id.
func (s *Store) Nodes(ctx context.Context) ([]Node, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, COALESCE(router_id, ''), COALESCE(country, ''),
			COALESCE(platform, ''), type, status
		FROM nodes ORDER BY id`)
	if err != nil {
		return nil, &util.StorageError{Path: s.path, Err: err}
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Name, &n.RouterID, &n.Country, &n.Platform, &n.Type, &n.Status); err != nil {
			return nil, &util.StorageError{Path: s.path, Err: err}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Links returns the persisted link set, ordered by id.
func (s *Store) Links(ctx context.Context) ([]Link, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, source, target, cost, COALESCE(cost_source, ''),
			source_interface, COALESCE(target_interface, ''), status
		FROM links ORDER BY id`)
	if err != nil {
		return nil, &util.StorageError{Path: s.path, Err: err}
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.Source, &l.Target, &l.Cost, &l.CostSource,
			&l.SourceInterface, &l.TargetInterface, &l.Status); err != nil {
			return nil, &util.StorageError{Path: s.path, Err: err}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
