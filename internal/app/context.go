package app

import (
	"context"
	"database/sql"
	"fmt"

	"agencyops/internal/catalog"
	"agencyops/internal/config"
	"agencyops/internal/db"
	"agencyops/internal/engine"
	"agencyops/internal/migrate"
)

// Options control how a workspace session is opened.
type Options struct {
	Workspace string
	// Dataset overrides the config dataset path.
	Dataset string
	ActorID string
}

// Session bundles the opened database with the engine bound to it.
type Session struct {
	DB      *sql.DB
	Config  *config.Config
	Catalog *catalog.Catalog
	Engine  engine.Engine
}

func (s *Session) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Open loads the workspace config and catalog, migrates the session store and
// seeds it from the catalog on first use.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	datasetPath := cfg.DatasetPath(opts.Workspace)
	if opts.Dataset != "" {
		datasetPath = opts.Dataset
	}
	cat, err := catalog.Load(datasetPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg, cat)
	actor := opts.ActorID
	if actor == "" {
		actor = "local-user"
	}
	if _, err := eng.Seed(ctx, actor); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed session: %w", err)
	}
	return &Session{DB: conn, Config: cfg, Catalog: cat, Engine: eng}, nil
}
