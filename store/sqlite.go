// Package store provides SQLite-backed persistence for the versioning
// engine: content-addressed object records, named refs with an audit
// history, and commit metadata with a branch/timestamp index.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"github.com/myayush/temporal-db/cas"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrRefNotFound    = errors.New("ref not found")
	ErrCommitNotFound = errors.New("commit not found")
)

// Commit is an immutable commit record. Parent is empty for a root
// commit. Branch names the branch the commit was created on; it is not
// re-attributed when the commit is merged elsewhere.
type Commit struct {
	Hash      string `json:"hash"`
	Parent    string `json:"parent,omitempty"`
	Branch    string `json:"branch"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	RootHash  string `json:"rootHash"`
}

// Ref is a named pointer to a commit hash.
type Ref struct {
	Name      string
	Target    string
	UpdatedAt int64
}

// RefUpdate is one entry of the hash-chained ref audit log.
type RefUpdate struct {
	ID     []byte
	Parent []byte
	Time   int64
	Ref    string
	Old    string
	New    string
}

// DB wraps a SQLite connection holding one database's objects, refs
// and commits.
type DB struct {
	conn *sql.DB
	path string
}

// OpenDir opens or creates the database for name under the given data
// directory.
func OpenDir(dir, name string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return Open(filepath.Join(dir, name+".db"))
}

// Open opens a database at the given path, applying pragmas and schema.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}

// ----- Objects -----

// PutObject stores an object record under its hash key. Re-storing an
// existing hash is a no-op.
func (db *DB) PutObject(tx *sql.Tx, hash string, data []byte) error {
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO objects (hash, data, created_at) VALUES (?, ?, ?)`,
		hash, data, cas.NowMs(),
	)
	if err != nil {
		return fmt.Errorf("inserting object: %w", err)
	}
	return nil
}

// GetObject reads an object record by hash.
func (db *DB) GetObject(hash string) ([]byte, error) {
	var data []byte
	err := db.conn.QueryRow(`SELECT data FROM objects WHERE hash = ?`, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("querying object: %w", err)
	}
	return data, nil
}

// HasObject reports whether an object record exists.
func (db *DB) HasObject(hash string) (bool, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM objects WHERE hash = ?`, hash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking object: %w", err)
	}
	return count > 0, nil
}

// ----- Refs -----

// SaveRef creates or updates a ref and appends a hash-chained entry to
// the ref audit log.
func (db *DB) SaveRef(tx *sql.Tx, name, target string) error {
	ts := cas.NowMs()

	var current sql.NullString
	err := tx.QueryRow(`SELECT target FROM refs WHERE name = ?`, name).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("checking current ref: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO refs (name, target, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET target=excluded.target, updated_at=excluded.updated_at`,
		name, target, ts,
	)
	if err != nil {
		return fmt.Errorf("upserting ref: %w", err)
	}

	return db.appendRefHistory(tx, name, current.String, target, ts)
}

// appendRefHistory chains a new audit entry onto the previous one for
// the same ref. Entry IDs are BLAKE3 hashes of the entry content, so
// tampering with a stored entry breaks the chain.
func (db *DB) appendRefHistory(tx *sql.Tx, name, old, new string, ts int64) error {
	var parentID []byte
	err := tx.QueryRow(
		`SELECT id FROM ref_history WHERE ref = ? ORDER BY seq DESC LIMIT 1`, name,
	).Scan(&parentID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("getting parent history: %w", err)
	}

	entry := map[string]interface{}{
		"time": ts,
		"ref":  name,
		"old":  old,
		"new":  new,
	}
	if parentID != nil {
		entry["parent"] = cas.BytesToHex(parentID)
	}

	entryJSON, err := cas.CanonicalJSON(entry)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}
	sum := blake3.Sum256(entryJSON)

	_, err = tx.Exec(
		`INSERT INTO ref_history (id, parent, time, ref, old, new, meta) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum[:], parentID, ts, name, old, new, string(entryJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting ref history: %w", err)
	}
	return nil
}

// GetRef returns the target of a ref.
func (db *DB) GetRef(name string) (string, error) {
	var target string
	err := db.conn.QueryRow(`SELECT target FROM refs WHERE name = ?`, name).Scan(&target)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrRefNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("querying ref: %w", err)
	}
	return target, nil
}

// HasRef reports whether a ref exists.
func (db *DB) HasRef(name string) (bool, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM refs WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking ref: %w", err)
	}
	return count > 0, nil
}

// DeleteRef removes a ref. The audit history is retained.
func (db *DB) DeleteRef(name string) error {
	result, err := db.conn.Exec(`DELETE FROM refs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting ref: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRefNotFound, name)
	}
	return nil
}

// ListRefs returns all refs with the given name prefix, ordered by name.
func (db *DB) ListRefs(prefix string) ([]Ref, error) {
	rows, err := db.conn.Query(
		`SELECT name, target, updated_at FROM refs WHERE name LIKE ? ORDER BY name`,
		prefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("querying refs: %w", err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var ref Ref
		if err := rows.Scan(&ref.Name, &ref.Target, &ref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// RefHistory returns the newest audit entries for a ref, most recent
// first. A limit of 0 returns all entries.
func (db *DB) RefHistory(name string, limit int) ([]RefUpdate, error) {
	query := `SELECT id, parent, time, ref, old, new FROM ref_history WHERE ref = ? ORDER BY seq DESC`
	args := []interface{}{name}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ref history: %w", err)
	}
	defer rows.Close()

	var updates []RefUpdate
	for rows.Next() {
		var u RefUpdate
		var old sql.NullString
		if err := rows.Scan(&u.ID, &u.Parent, &u.Time, &u.Ref, &old, &u.New); err != nil {
			return nil, fmt.Errorf("scanning ref history: %w", err)
		}
		u.Old = old.String
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// ----- Commits -----

// SaveCommit stores a commit record.
func (db *DB) SaveCommit(tx *sql.Tx, c *Commit) error {
	var parent interface{}
	if c.Parent != "" {
		parent = c.Parent
	}
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO commits (hash, parent, branch, message, ts, root_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Hash, parent, c.Branch, c.Message, c.Timestamp, c.RootHash,
	)
	if err != nil {
		return fmt.Errorf("inserting commit: %w", err)
	}
	return nil
}

// GetCommit retrieves a commit record by hash.
func (db *DB) GetCommit(hash string) (*Commit, error) {
	row := db.conn.QueryRow(
		`SELECT hash, parent, branch, message, ts, root_hash FROM commits WHERE hash = ?`, hash,
	)
	c, err := scanCommit(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("querying commit: %w", err)
	}
	return c, nil
}

// CommitsForBranch returns all commits attributed to a branch, newest
// first.
func (db *DB) CommitsForBranch(branch string) ([]*Commit, error) {
	return db.queryCommits(
		`SELECT hash, parent, branch, message, ts, root_hash FROM commits
		 WHERE branch = ? ORDER BY ts DESC, hash`, branch,
	)
}

// CommitsAfterDate returns the branch's commits with a timestamp at or
// after ts, newest first.
func (db *DB) CommitsAfterDate(branch string, ts int64) ([]*Commit, error) {
	return db.queryCommits(
		`SELECT hash, parent, branch, message, ts, root_hash FROM commits
		 WHERE branch = ? AND ts >= ? ORDER BY ts DESC, hash`, branch, ts,
	)
}

func (db *DB) queryCommits(query string, args ...interface{}) ([]*Commit, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var commits []*Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCommit(row rowScanner) (*Commit, error) {
	var c Commit
	var parent sql.NullString
	if err := row.Scan(&c.Hash, &parent, &c.Branch, &c.Message, &c.Timestamp, &c.RootHash); err != nil {
		return nil, err
	}
	c.Parent = parent.String
	return &c, nil
}
