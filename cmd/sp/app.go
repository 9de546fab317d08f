package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/steveyegge/syncpoint/internal/resource"
	"github.com/steveyegge/syncpoint/internal/store"
	spsync "github.com/steveyegge/syncpoint/internal/sync"
	"github.com/steveyegge/syncpoint/internal/transport"
)

const userAgent = "syncpoint/sp"

// fatalf prints an error and exits. Deferred calls do not run.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	closeLogger()
	os.Exit(1)
}

// openStore opens the cache database, creating it and its directory if
// needed.
func openStore() *store.DB {
	if dir := filepath.Dir(cfg.Database); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fatalf("creating cache directory: %v", err)
		}
	}

	database, err := store.Open(cfg.Database)
	if err != nil {
		fatalf("opening cache database: %v", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		fatalf("initializing schema: %v", err)
	}
	return database
}

func loadManifest() *resource.Manifest {
	m, err := resource.LoadManifest(cfg.Manifest)
	if err != nil {
		fatalf("%v", err)
	}
	return m
}

// newCoordinator builds a coordinator that talks to the configured endpoint.
// Participants are registered by the caller.
func newCoordinator() *spsync.Coordinator {
	if err := cfg.Validate(); err != nil {
		fatalf("%v", err)
	}

	httpTransport, err := transport.NewHTTP(transport.HTTPConfig{
		Endpoint:  cfg.Endpoint,
		Client:    &http.Client{}, // bounded by the batch timeout
		UserAgent: userAgent,
		Logger:    logger,
	})
	if err != nil {
		fatalf("creating transport: %v", err)
	}

	batch := transport.NewBatch(httpTransport, transport.BatchConfig{
		Credential: cfg.Token,
		Timeout:    cfg.Timeout,
		Logger:     logger,
	})
	return spsync.New(batch, &spsync.Config{Logger: logger})
}

// registerManifest registers every manifest resource on coord.
func registerManifest(coord *spsync.Coordinator, m *resource.Manifest, database *store.DB) {
	participants, err := resource.Participants(m, database.Cursors(), database, logger)
	if err != nil {
		fatalf("%v", err)
	}
	for _, p := range participants {
		coord.Register(p)
	}
	logger.Debug("registered resources", zap.Strings("resources", m.Names()))
}
