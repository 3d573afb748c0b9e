// Package mcp exposes the guard to an agent host over the Model Context
// Protocol on stdio. Only the validation and read-only surfaces are
// exported as tools — administrative operations stay owner-only behind
// the CLI, because the process on the other end of this transport is
// exactly the holder the guard exists to constrain.
package mcp

import (
	"context"
	"fmt"
	"os"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sessionguard/internal/account"
	"github.com/ppiankov/sessionguard/internal/audit"
	"github.com/ppiankov/sessionguard/internal/config"
	"github.com/ppiankov/sessionguard/internal/store"
)

// Config holds MCP server configuration.
type Config struct {
	AccountID  string
	ConfigPath string
}

// Server wraps the MCP SDK server around one account aggregate.
type Server struct {
	mcpServer  *mcpsdk.Server
	db         *store.DB
	acct       *account.Account
	auditLog   *audit.Log
	configHash string
	cfgPath    string
	mu         sync.Mutex
}

// New creates an MCP server with loaded config, account state, and audit
// log.
func New(cfg Config) (*Server, error) {
	guardCfg, hash, err := config.LoadWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(guardCfg.Database)
	if err != nil {
		return nil, err
	}

	acct, err := db.LoadAccount(cfg.AccountID, guardCfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	auditLog, err := audit.Open(guardCfg.AuditLog)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		db:         db,
		acct:       acct,
		auditLog:   auditLog,
		configHash: hash,
		cfgPath:    cfg.ConfigPath,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "sessionguard",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport, with the config file
// watched for hot-reload. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := s.watchConfig(watchCtx, s.cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "config watcher: %v\n", err)
		}
	}()

	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close persists account state and closes the audit log and database.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if err := s.db.SaveAccount(s.acct); err != nil {
		firstErr = err
	}
	if err := s.auditLog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ReloadConfig re-reads the guard config and swaps the account's view of
// it. Called by the fsnotify reloader. Window state and credentials are
// untouched; only classification and timelock parameters change.
func (s *Server) ReloadConfig() error {
	guardCfg, hash, err := config.LoadWithHash(s.cfgPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := account.Restore(s.acct.ID, s.acct.OwnerKey, uint8(s.acct.Mode), s.acct.Nonce,
		s.acct.Upgrade, s.acct.Credentials, s.acct.Policies, guardCfg)
	if err != nil {
		return err
	}
	s.acct = acct
	s.configHash = hash
	return nil
}

// registerTools adds the sessionguard tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sessionguard_validate",
		Description: "Validate and commit a signed batch under a session credential. Denied batches return the denial reason; committed batches debit the spending window.",
	}, s.handleValidate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sessionguard_check",
		Description: "Dry-run a signed batch: report whether it would be allowed without debiting any window or advancing any counter.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sessionguard_credential",
		Description: "Read a credential's validity snapshot: time bounds, call quota, allowlist.",
	}, s.handleCredential)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sessionguard_policy",
		Description: "Read the spending policy snapshots for a credential: ceilings, window, and spent amount.",
	}, s.handlePolicy)
}
