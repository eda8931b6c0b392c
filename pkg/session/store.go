// Copyright 2024-2026 Aiku AI

package session

import (
	"context"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// OpenStore opens the device store holding the paired session keys.
func OpenStore(ctx context.Context, cfg Config, log zerolog.Logger) (*sqlstore.Container, error) {
	cfg = cfg.WithDefaults()
	switch cfg.DatabaseDialect {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.DatabaseDialect)
	}
	if cfg.DatabaseURI == "" {
		return nil, fmt.Errorf("database_uri is required for %s", cfg.DatabaseDialect)
	}
	storeLog := log.With().Str("component", "wa_store").Logger()
	container, err := sqlstore.New(ctx, cfg.DatabaseDialect, cfg.DatabaseURI, waLog.Zerolog(storeLog))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	return container, nil
}
