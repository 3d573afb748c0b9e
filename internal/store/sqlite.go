// Package store persists account aggregates in SQLite so CLI invocations
// and server restarts observe the same state. It is a storage primitive
// for a single-writer host, not a concurrency layer.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/sessionguard/internal/account"
	"github.com/ppiankov/sessionguard/internal/config"
	"github.com/ppiankov/sessionguard/internal/credential"
	"github.com/ppiankov/sessionguard/internal/model"
	"github.com/ppiankov/sessionguard/internal/spend"
)

// ErrAccountNotFound is returned when loading an account with no row.
var ErrAccountNotFound = errors.New("account not found")

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	owner_key TEXT NOT NULL,
	mode INTEGER NOT NULL,
	nonce INTEGER NOT NULL,
	epoch INTEGER NOT NULL,
	upgrade_logic_id TEXT NOT NULL DEFAULT '',
	upgrade_eta INTEGER NOT NULL DEFAULT 0,
	upgrade_scheduled INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS credentials (
	account_id TEXT NOT NULL,
	id TEXT NOT NULL,
	owner TEXT NOT NULL,
	valid_after INTEGER NOT NULL,
	valid_until INTEGER NOT NULL,
	max_calls INTEGER NOT NULL,
	calls_used INTEGER NOT NULL,
	allowed_targets TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	PRIMARY KEY (account_id, id)
);
CREATE TABLE IF NOT EXISTS policies (
	account_id TEXT NOT NULL,
	credential_id TEXT NOT NULL,
	asset TEXT NOT NULL,
	state TEXT NOT NULL,
	max_per_call INTEGER NOT NULL,
	max_per_window INTEGER NOT NULL,
	window_seconds INTEGER NOT NULL,
	spent_in_window INTEGER NOT NULL,
	window_start INTEGER NOT NULL,
	PRIMARY KEY (account_id, credential_id, asset)
);
`

// DB wraps the SQLite handle.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the state database and applies the schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{sql: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.sql.Close()
}

// SaveAccount writes the full aggregate in one transaction: account row
// upserted, credentials and policies replaced wholesale. The aggregate
// is small enough that rewriting beats row diffing.
func (d *DB) SaveAccount(a *account.Account) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO accounts (id, owner_key, mode, nonce, epoch, upgrade_logic_id, upgrade_eta, upgrade_scheduled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_key=excluded.owner_key, mode=excluded.mode, nonce=excluded.nonce,
			epoch=excluded.epoch, upgrade_logic_id=excluded.upgrade_logic_id,
			upgrade_eta=excluded.upgrade_eta, upgrade_scheduled=excluded.upgrade_scheduled`,
		a.ID, a.OwnerKey, uint8(a.Mode), a.Nonce, a.Credentials.Epoch(),
		a.Upgrade.PendingLogicID, a.Upgrade.ETA, boolInt(a.Upgrade.Scheduled))
	if err != nil {
		return fmt.Errorf("store: save account %s: %w", a.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM credentials WHERE account_id = ?`, a.ID); err != nil {
		return fmt.Errorf("store: clear credentials: %w", err)
	}
	for _, c := range a.Credentials.List() {
		targets, err := json.Marshal(c.AllowedTargets)
		if err != nil {
			return fmt.Errorf("store: encode targets: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO credentials
			(account_id, id, owner, valid_after, valid_until, max_calls, calls_used, allowed_targets, epoch)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, c.ID, c.Owner, c.ValidAfter, c.ValidUntil, c.MaxCalls, c.CallsUsed, string(targets), c.Epoch); err != nil {
			return fmt.Errorf("store: save credential %s: %w", c.ID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM policies WHERE account_id = ?`, a.ID); err != nil {
		return fmt.Errorf("store: clear policies: %w", err)
	}
	for _, p := range a.Policies.Snapshots("") {
		if _, err := tx.Exec(`INSERT INTO policies
			(account_id, credential_id, asset, state, max_per_call, max_per_window, window_seconds, spent_in_window, window_start)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, p.CredentialID, p.Asset, p.State, p.MaxPerCall, p.MaxPerWindow,
			p.WindowSeconds, p.SpentInWindow, p.WindowStart); err != nil {
			return fmt.Errorf("store: save policy %s/%s: %w", p.CredentialID, p.Asset, err)
		}
	}

	return tx.Commit()
}

// LoadAccount rebuilds an aggregate from its rows.
func (d *DB) LoadAccount(id string, cfg *config.Config) (*account.Account, error) {
	var (
		ownerKey  string
		mode      uint8
		nonce     uint64
		epoch     uint64
		upLogic   string
		upETA     int64
		upSched   int
	)
	err := d.sql.QueryRow(`SELECT owner_key, mode, nonce, epoch, upgrade_logic_id, upgrade_eta, upgrade_scheduled
		FROM accounts WHERE id = ?`, id).
		Scan(&ownerKey, &mode, &nonce, &epoch, &upLogic, &upETA, &upSched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: load %s: %w", id, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", id, err)
	}

	creds, err := d.loadCredentials(id, epoch)
	if err != nil {
		return nil, err
	}
	policies, err := d.loadPolicies(id)
	if err != nil {
		return nil, err
	}

	upgrade := model.UpgradeSchedule{
		PendingLogicID: upLogic,
		ETA:            upETA,
		Scheduled:      upSched != 0,
	}
	return account.Restore(id, ownerKey, mode, nonce, upgrade, creds, policies, cfg)
}

func (d *DB) loadCredentials(accountID string, epoch uint64) (*credential.Store, error) {
	rows, err := d.sql.Query(`SELECT id, owner, valid_after, valid_until, max_calls, calls_used, allowed_targets, epoch
		FROM credentials WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: load credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		var c model.Credential
		var targets string
		if err := rows.Scan(&c.ID, &c.Owner, &c.ValidAfter, &c.ValidUntil,
			&c.MaxCalls, &c.CallsUsed, &targets, &c.Epoch); err != nil {
			return nil, fmt.Errorf("store: scan credential: %w", err)
		}
		if err := json.Unmarshal([]byte(targets), &c.AllowedTargets); err != nil {
			return nil, fmt.Errorf("store: decode targets for %s: %w", c.ID, err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate credentials: %w", err)
	}
	return credential.Restore(creds, epoch), nil
}

func (d *DB) loadPolicies(accountID string) (*spend.Store, error) {
	rows, err := d.sql.Query(`SELECT credential_id, asset, state, max_per_call, max_per_window, window_seconds, spent_in_window, window_start
		FROM policies WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: load policies: %w", err)
	}
	defer rows.Close()

	s := spend.NewStore()
	for rows.Next() {
		var (
			credID, asset, state string
			p                    spend.Policy
		)
		if err := rows.Scan(&credID, &asset, &state, &p.MaxPerCall, &p.MaxPerWindow,
			&p.WindowSeconds, &p.SpentInWindow, &p.WindowStart); err != nil {
			return nil, fmt.Errorf("store: scan policy: %w", err)
		}
		st, err := spend.ParseEnforcement(state)
		if err != nil {
			return nil, fmt.Errorf("store: policy %s/%s: %w", credID, asset, err)
		}
		p.State = st
		s.RestorePolicy(credID, asset, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate policies: %w", err)
	}
	return s, nil
}

// ListAccounts returns every stored account ID.
func (d *DB) ListAccounts() ([]string, error) {
	rows, err := d.sql.Query(`SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
