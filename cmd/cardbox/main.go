package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/pflag"

	"github.com/conorfennell/cardbox/internal/config"
	"github.com/conorfennell/cardbox/internal/storage"
	"github.com/conorfennell/cardbox/internal/web"
)

func main() {
	flags := pflag.NewFlagSet("cardbox", pflag.ExitOnError)
	defaults := config.Default()
	configPath := flags.String("config", "config.yaml", "Path to the yaml config file")
	flags.String("db", defaults.DB, "Path to the SQLite database file")
	flags.String("listen", defaults.Listen, "HTTP listen address")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DB)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DB, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database opened", "path", cfg.DB)

	server := web.NewServer(db, cfg)
	slog.Info("Listening", "addr", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, server); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
