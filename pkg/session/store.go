package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hakoda-dev/scrollns/pkg/crypto"
)

// DBFileName is the key store database inside the vault directory.
const DBFileName = "vault.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS vault_keys (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	master_salt BLOB NOT NULL,
	pin_salt BLOB NOT NULL,
	wrapped_master BLOB NOT NULL,
	kdf_memory INTEGER NOT NULL,
	kdf_time INTEGER NOT NULL,
	kdf_threads INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS lock_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	failed_attempts INTEGER NOT NULL,
	locked_until TEXT NOT NULL,
	last_failure TEXT NOT NULL
);
`

// keyRecord is the persisted root of the key hierarchy: both salts, the
// PIN-wrapped master key, and the KDF costs it was derived with. The
// master key and the PIN are never stored.
type keyRecord struct {
	MasterSalt    []byte
	PINSalt       []byte
	WrappedMaster []byte
	KDF           crypto.KDFParams
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// store persists the key record and lock state in a local SQLite
// database with owner-only permissions.
type store struct {
	db   *sql.DB
	path string
}

func openStore(dir string) (*store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("session: create vault dir: %w", err)
	}
	path := filepath.Join(dir, DBFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open key store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: init schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: restrict key store permissions: %w", err)
	}
	return &store{db: db, path: path}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

func (s *store) loadKeys() (*keyRecord, error) {
	row := s.db.QueryRow(`SELECT master_salt, pin_salt, wrapped_master,
		kdf_memory, kdf_time, kdf_threads, created_at, updated_at
		FROM vault_keys WHERE id = 1`)
	var rec keyRecord
	var created, updated string
	err := row.Scan(&rec.MasterSalt, &rec.PINSalt, &rec.WrappedMaster,
		&rec.KDF.Memory, &rec.KDF.Time, &rec.KDF.Threads, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("session: load keys: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("session: load keys: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("session: load keys: %w", err)
	}
	return &rec, nil
}

func (s *store) saveKeys(rec *keyRecord) error {
	_, err := s.db.Exec(`INSERT INTO vault_keys
		(id, master_salt, pin_salt, wrapped_master, kdf_memory, kdf_time, kdf_threads, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			master_salt = excluded.master_salt,
			pin_salt = excluded.pin_salt,
			wrapped_master = excluded.wrapped_master,
			kdf_memory = excluded.kdf_memory,
			kdf_time = excluded.kdf_time,
			kdf_threads = excluded.kdf_threads,
			updated_at = excluded.updated_at`,
		rec.MasterSalt, rec.PINSalt, rec.WrappedMaster,
		rec.KDF.Memory, rec.KDF.Time, rec.KDF.Threads,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("session: save keys: %w", err)
	}
	return nil
}

func (s *store) loadLockState() (*LockState, error) {
	row := s.db.QueryRow(`SELECT failed_attempts, locked_until, last_failure FROM lock_state WHERE id = 1`)
	var st LockState
	var until, last string
	err := row.Scan(&st.FailedAttempts, &until, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return &LockState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load lock state: %w", err)
	}
	if until != "" {
		if st.LockedUntil, err = time.Parse(time.RFC3339Nano, until); err != nil {
			return nil, fmt.Errorf("session: load lock state: %w", err)
		}
	}
	if last != "" {
		if st.LastFailure, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return nil, fmt.Errorf("session: load lock state: %w", err)
		}
	}
	return &st, nil
}

func (s *store) saveLockState(st *LockState) error {
	until, last := "", ""
	if !st.LockedUntil.IsZero() {
		until = st.LockedUntil.Format(time.RFC3339Nano)
	}
	if !st.LastFailure.IsZero() {
		last = st.LastFailure.Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(`INSERT INTO lock_state (id, failed_attempts, locked_until, last_failure)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			failed_attempts = excluded.failed_attempts,
			locked_until = excluded.locked_until,
			last_failure = excluded.last_failure`,
		st.FailedAttempts, until, last)
	if err != nil {
		return fmt.Errorf("session: save lock state: %w", err)
	}
	return nil
}

// destroy wipes all persisted records. Used by Reset.
func (s *store) destroy() error {
	if _, err := s.db.Exec(`DELETE FROM vault_keys`); err != nil {
		return fmt.Errorf("session: reset: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM lock_state`); err != nil {
		return fmt.Errorf("session: reset: %w", err)
	}
	return nil
}
