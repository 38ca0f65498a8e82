// Package main is the willa command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/BerkeleyLibrary/willa/internal/config"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/cli"
	einoobs "github.com/BerkeleyLibrary/willa/internal/observability/eino"
	"github.com/BerkeleyLibrary/willa/internal/wire"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(Version, load)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func load(ctx context.Context) (*cli.Services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	// Logs go to stderr in text form so they do not mix with answers.
	logger.InitWithWriter(os.Stderr, cfg.Observability.Logging.Level, "text")
	einoobs.Init()

	core, cleanup, err := wire.InitializeAll(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return &cli.Services{
		Ingestor:     core.Ingestor,
		Conversation: core.Conversation,
		Catalog:      core.Catalog,
		Extractor:    core.Extractor,
		StorageDir:   cfg.Ingest.StorageDir,
	}, cleanup, nil
}
