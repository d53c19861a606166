package sqlite

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pointfield/internal/field/engine"
	"github.com/banshee-data/pointfield/internal/field/geom"
	"github.com/banshee-data/pointfield/internal/timeutil"
)

// ErrNotFound is returned when a snapshot id does not exist.
var ErrNotFound = errors.New("snapshot not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Store persists engine snapshots in a SQLite database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (creating if needed) the database at path, applies pragmas and
// runs pending migrations.
func Open(path string) (*Store, error) {
	return OpenWithClock(path, timeutil.RealClock{})
}

// OpenWithClock is Open with an injected clock for snapshot timestamps.
func OpenWithClock(path string, clock timeutil.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", p, err)
		}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, clock: clock}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SnapshotInfo describes a stored snapshot without its anchor positions.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Levels    int       `json:"levels"`
	Anchors   int       `json:"anchors"`
	AABB      geom.AABB `json:"aabb"`
}

// resolution is the JSON form of one level's local range and dims.
type resolution struct {
	LocalRange [3]float64 `json:"local_range"`
	LocalDims  [3]int     `json:"local_dims"`
}

type aabbJSON struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// SaveSnapshot stores s and returns its generated id.
func (s *Store) SaveSnapshot(ctx context.Context, snap *engine.Snapshot, label string) (string, error) {
	if snap == nil || len(snap.Levels) == 0 {
		return "", fmt.Errorf("%w: empty snapshot", engine.ErrConfiguration)
	}
	positions := make([][]geom.Vec, len(snap.Levels))
	res := make([]resolution, len(snap.Levels))
	anchors := 0
	for l, ls := range snap.Levels {
		positions[l] = ls.Positions
		res[l] = resolution{LocalRange: geom.Array(ls.LocalRange), LocalDims: ls.LocalDims}
		anchors += len(ls.Positions)
	}
	blob, err := encodePositions(positions)
	if err != nil {
		return "", fmt.Errorf("encode positions: %w", err)
	}
	resJSON, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal resolutions: %w", err)
	}
	boxJSON, err := json.Marshal(aabbJSON{Min: geom.Array(snap.AABB.Min), Max: geom.Array(snap.AABB.Max)})
	if err != nil {
		return "", fmt.Errorf("marshal aabb: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO field_snapshots (
			snapshot_id, label, created_at, level_count, anchor_count,
			aabb_json, resolutions_json, positions_blob
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, nullString(label), s.clock.Now().UnixNano(), len(snap.Levels), anchors,
		string(boxJSON), string(resJSON), blob)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// LoadSnapshot returns the snapshot with the given id.
func (s *Store) LoadSnapshot(ctx context.Context, id string) (*engine.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT aabb_json, resolutions_json, positions_blob
		FROM field_snapshots WHERE snapshot_id = ?
	`, id)
	return scanSnapshot(row, id)
}

// LatestSnapshot returns the most recently saved snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*engine.Snapshot, string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id FROM field_snapshots
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("query latest snapshot: %w", err)
	}
	snap, err := s.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return snap, id, nil
}

// ListSnapshots returns stored snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, label, created_at, level_count, anchor_count, aabb_json
		FROM field_snapshots
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info    SnapshotInfo
			label   sql.NullString
			created int64
			boxJSON string
		)
		if err := rows.Scan(&info.ID, &label, &created, &info.Levels, &info.Anchors, &boxJSON); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		info.Label = label.String
		info.CreatedAt = time.Unix(0, created)
		if info.AABB, err = decodeAABB(boxJSON); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes a snapshot.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM field_snapshots WHERE snapshot_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSnapshot(row *sql.Row, id string) (*engine.Snapshot, error) {
	var (
		boxJSON, resJSON string
		blob             []byte
	)
	err := row.Scan(&boxJSON, &resJSON, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", id, err)
	}

	box, err := decodeAABB(boxJSON)
	if err != nil {
		return nil, err
	}
	var res []resolution
	if err := json.Unmarshal([]byte(resJSON), &res); err != nil {
		return nil, fmt.Errorf("unmarshal resolutions: %w", err)
	}
	positions, err := decodePositions(blob)
	if err != nil {
		return nil, err
	}
	if len(positions) != len(res) {
		return nil, fmt.Errorf("%w: snapshot %s has %d position levels and %d resolutions",
			engine.ErrInvariantViolation, id, len(positions), len(res))
	}

	snap := &engine.Snapshot{AABB: box, Levels: make([]engine.LevelSnapshot, len(res))}
	for l, r := range res {
		snap.Levels[l] = engine.LevelSnapshot{
			Positions:  positions[l],
			LocalRange: geom.FromArray(r.LocalRange),
			LocalDims:  r.LocalDims,
		}
	}
	return snap, nil
}

func decodeAABB(s string) (geom.AABB, error) {
	var b aabbJSON
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return geom.AABB{}, fmt.Errorf("unmarshal aabb: %w", err)
	}
	return geom.AABB{Min: geom.FromArray(b.Min), Max: geom.FromArray(b.Max)}, nil
}

// encodePositions compresses per-level anchor positions with gob and gzip.
func encodePositions(positions [][]geom.Vec) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(positions); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodePositions reverses encodePositions.
func decodePositions(blob []byte) ([][]geom.Vec, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty positions blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var positions [][]geom.Vec
	if err := gob.NewDecoder(gz).Decode(&positions); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}
	return positions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
