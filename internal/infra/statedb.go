package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

const (
	stateDBName = "state.db"
)

// StateDB is the durable store shared by the CLI and both daemons.
// It implements domain.KeyValueStore (block/pause state, schedules, deferred tasks)
// and domain.DaemonRegistry on one SQLCipher encrypted database.
type StateDB struct {
	db             *sql.DB
	dbPath         string
	processManager domain.ProcessManager
	clock          domain.Clock
}

// OpenStateDB opens (or creates) the encrypted state database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func OpenStateDB(dataDir string, key []byte, pm domain.ProcessManager) (*StateDB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000",
		dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// A wrong key surfaces here, not at Open.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to state database: %w", err)
	}

	s := &StateDB{
		db:             db,
		dbPath:         dbPath,
		processManager: pm,
		clock:          domain.SystemClock{},
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *StateDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daemon_state (
		role TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		app_version TEXT DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.KeyValueStore implementation ---

// Get returns the value and whether the key exists.
func (s *StateDB) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set writes a single key.
func (s *StateDB) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany writes all keys in one transaction.
func (s *StateDB) SetMany(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	now := s.clock.Now().UnixMilli()
	for k, v := range values {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
			k, v, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Delete removes keys.
func (s *StateDB) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := s.db.Exec(`DELETE FROM kv WHERE key IN (`+placeholders+`)`, args...)
	return err
}

// Keys lists keys with prefix, sorted.
func (s *StateDB) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CompareAndSwap sets key to newValue only if it currently holds oldValue.
// The conditional UPDATE is atomic across processes sharing the database file.
func (s *StateDB) CompareAndSwap(key, oldValue, newValue string) (bool, error) {
	now := s.clock.Now().UnixMilli()

	if oldValue == "" {
		// Missing compares equal to "", so the insert path must also win.
		res, err := s.db.Exec(`INSERT OR IGNORE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
			key, newValue, now)
		if err != nil {
			return false, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return true, nil
		}
	}

	res, err := s.db.Exec(`UPDATE kv SET value = ?, updated_at = ? WHERE key = ? AND value = ?`,
		newValue, now, key, oldValue)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompareAndSwapWith swaps key and writes values in one transaction.
// Nothing is written when the swap loses.
func (s *StateDB) CompareAndSwapWith(key, oldValue, newValue string, values map[string]string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := s.clock.Now().UnixMilli()
	var n int64
	if oldValue == "" {
		res, err := tx.Exec(`INSERT OR IGNORE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
			key, newValue, now)
		if err != nil {
			return false, err
		}
		n, _ = res.RowsAffected()
	}
	if n == 0 {
		res, err := tx.Exec(`UPDATE kv SET value = ?, updated_at = ? WHERE key = ? AND value = ?`,
			newValue, now, key, oldValue)
		if err != nil {
			return false, err
		}
		if n, err = res.RowsAffected(); err != nil {
			return false, err
		}
	}
	if n != 1 {
		return false, nil
	}

	for k, v := range values {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
			k, v, now); err != nil {
			return false, fmt.Errorf("write %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// --- domain.DaemonRegistry implementation ---

// Register saves the daemon's PID under its role.
func (s *StateDB) Register(daemon domain.Daemon) error {
	now := s.clock.Now()
	started := daemon.StartedAt
	if started.IsZero() {
		started = now
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_state (role, pid, started_at, last_heartbeat, app_version)
		VALUES (?, ?, ?, ?, ?)`,
		string(daemon.Role), daemon.PID, started.Unix(), now.Unix(), daemon.AppVersion,
	)
	return err
}

// Unregister removes role if it is still owned by pid.
// A replacement daemon that registered in the meantime is left alone.
func (s *StateDB) Unregister(role domain.DaemonRole, pid int) error {
	_, err := s.db.Exec(`DELETE FROM daemon_state WHERE role = ? AND pid = ?`, string(role), pid)
	return err
}

// Lookup returns the daemon registered for role.
func (s *StateDB) Lookup(role domain.DaemonRole) (*domain.Daemon, error) {
	var pid int
	var started int64
	var version string
	err := s.db.QueryRow(`SELECT pid, started_at, app_version FROM daemon_state WHERE role = ?`,
		string(role)).Scan(&pid, &started, &version)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && pid == 0) {
		return nil, fmt.Errorf("daemon %s not registered", role)
	}
	if err != nil {
		return nil, err
	}
	return &domain.Daemon{
		PID:        pid,
		Role:       role,
		StartedAt:  time.Unix(started, 0),
		AppVersion: version,
	}, nil
}

// UpdateHeartbeat updates timestamp for liveness check.
func (s *StateDB) UpdateHeartbeat(role domain.DaemonRole) error {
	result, err := s.db.Exec(`UPDATE daemon_state SET last_heartbeat = ? WHERE role = ?`,
		s.clock.Now().Unix(), string(role))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("daemon %s not registered", role)
	}
	return nil
}

// IsAlive checks if the daemon registered for role is running via PID.
func (s *StateDB) IsAlive(role domain.DaemonRole) (bool, error) {
	d, err := s.Lookup(role)
	if err != nil {
		return false, nil // not registered = not alive
	}
	return s.processManager.IsRunning(d.PID), nil
}

// GetAll returns both daemons' state (for status command), or nil if none registered.
func (s *StateDB) GetAll() (*domain.RegistryEntry, error) {
	rows, err := s.db.Query(`SELECT role, pid, last_heartbeat, app_version FROM daemon_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entry := &domain.RegistryEntry{}
	found := false
	for rows.Next() {
		var role, version string
		var pid int
		var heartbeat int64
		if err := rows.Scan(&role, &pid, &heartbeat, &version); err != nil {
			return nil, err
		}
		found = true
		switch domain.DaemonRole(role) {
		case domain.RoleBlocker:
			entry.BlockerPID = pid
		case domain.RoleMonitor:
			entry.MonitorPID = pid
		}
		if version != "" {
			entry.AppVersion = version
		}
		if heartbeat > entry.LastHeartbeat {
			entry.LastHeartbeat = heartbeat
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return entry, nil
}

// Path returns the database file path.
func (s *StateDB) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *StateDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure StateDB implements both interfaces.
var _ domain.KeyValueStore = (*StateDB)(nil)
var _ domain.DaemonRegistry = (*StateDB)(nil)
