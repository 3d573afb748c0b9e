package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ppiankov/sessionguard/internal/account"
	"github.com/ppiankov/sessionguard/internal/config"
	"github.com/ppiankov/sessionguard/internal/store"
)

// session is an opened account with its backing database. Commands that
// mutate state must call save before close.
type session struct {
	cfg  *config.Config
	hash string
	db   *store.DB
	acct *account.Account
}

func openSession() (*session, error) {
	if flagAccount == "" {
		return nil, fmt.Errorf("--account is required")
	}
	cfg, hash, err := config.LoadWithHash(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	acct, err := db.LoadAccount(flagAccount, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &session{cfg: cfg, hash: hash, db: db, acct: acct}, nil
}

func (s *session) save() error {
	return s.db.SaveAccount(s.acct)
}

func (s *session) close() {
	s.db.Close()
}

// owner returns the caller identity for administrative operations. The
// CLI runs on the owner's machine; possession of the state database is
// the authority boundary here, signatures guard the remote surface.
func (s *session) owner() string {
	return s.acct.OwnerKey
}

func loadConfigOnly() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func nowUnix() int64 {
	return time.Now().UTC().Unix()
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
