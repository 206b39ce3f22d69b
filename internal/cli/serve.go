// Package cli implements the banter subcommands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/banterhq/banter/internal/agent"
	"github.com/banterhq/banter/internal/agent/apiengine"
	"github.com/banterhq/banter/internal/agent/fakeengine"
	"github.com/banterhq/banter/internal/agent/streamengine"
	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/crypto"
	"github.com/banterhq/banter/internal/history"
	"github.com/banterhq/banter/internal/router"
	"github.com/banterhq/banter/internal/session"
	"github.com/banterhq/banter/internal/terminal"
	"github.com/banterhq/banter/internal/windows"
	"github.com/banterhq/banter/pkg/logger"
)

// ServeCommand runs the bridge daemon until interrupted.
func ServeCommand(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.BanterHome, 0700); err != nil {
		return fmt.Errorf("failed to create home dir: %w", err)
	}

	secret, err := crypto.GetOrCreateSecretKey(cfg.SecretKeyPath())
	if err != nil {
		return fmt.Errorf("failed to load secret key: %w", err)
	}

	store, err := history.Open(cfg.HistoryDBPath(), secret)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	table := session.NewTable()
	hub := windows.NewHub()

	rtr := router.New(table, store, engineFactory(cfg), hub, router.Defaults{
		Model:          cfg.Model,
		PermissionMode: cfg.PermissionMode,
	})

	terminals := terminal.NewManager([]string{cfg.AgentCommand[0]})
	defer terminals.CloseAll()
	rtr.AttachTerminals(terminals)

	hub.SetDispatcher(rtr)

	jwtManager := windows.NewJWTManager(secret)
	srv := windows.NewServer(cfg.ListenAddr, hub, jwtManager, store, table, cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("banter daemon starting (engine=%s)", cfg.Engine)
	return srv.Run(ctx)
}

func engineFactory(cfg *config.Config) agent.Factory {
	switch cfg.Engine {
	case config.EngineAPI:
		return func(requester agent.PermissionRequester) agent.Engine {
			return apiengine.New(os.Getenv("ANTHROPIC_API_KEY"), cfg.Model)
		}
	case config.EngineFake:
		return func(requester agent.PermissionRequester) agent.Engine {
			return fakeengine.New(requester)
		}
	default:
		return func(requester agent.PermissionRequester) agent.Engine {
			return streamengine.New(cfg.AgentCommand, requester, cfg.Debug)
		}
	}
}
