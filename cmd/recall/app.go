package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/recall/internal/config"
	"github.com/conorfennell/recall/internal/deck"
	"github.com/conorfennell/recall/internal/fsrs"
	"github.com/conorfennell/recall/internal/gitsource"
	"github.com/conorfennell/recall/internal/notesched"
	"github.com/conorfennell/recall/internal/parser"
	"github.com/conorfennell/recall/internal/storage"
	"github.com/conorfennell/recall/internal/vault"
)

// app holds everything a command needs. It is filled in by open before any
// subcommand runs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	store  storage.Store
	vault  *vault.Vault
	memory *storage.Manager
	decks  *deck.Manager
	notes  *notesched.Scheduler
}

func (a *app) open(cmd *cobra.Command) error {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(config.Options{File: configFile, EnvFile: envFile, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.Log, cmd.ErrOrStderr())
	if a.now == nil {
		a.now = time.Now
	}

	root := cfg.Vault
	if cfg.Git.URL != "" {
		if root, err = a.checkout(cmd); err != nil {
			return err
		}
	}

	a.vault, err = vault.New(root, vault.Options{
		MemoryDir: cfg.MemoryDir,
		DryRun:    cfg.DryRun,
		Logger:    a.logger.With("component", "vault"),
	})
	if err != nil {
		return err
	}

	switch cfg.Storage.Backend {
	case "sqlite":
		a.store, err = storage.Open(cfg.Storage.DSN)
	default:
		a.store, err = storage.NewFileStore(root, cfg.MemoryDir)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	a.memory = storage.NewManager(a.store, a.logger.With("component", "storage"))

	scheduler, err := fsrs.New(cfg.Scheduler.Params())
	if err != nil {
		return err
	}
	a.decks, err = deck.NewManager(a.memory, a.vault, deck.Options{
		Separators: parser.Separators{
			Inline:    cfg.InlineSeparator,
			Multiline: cfg.MultilineSeparator,
			MemoryDir: cfg.MemoryDir,
		},
		Scheduler: scheduler,
		DryRun:    cfg.DryRun,
		Logger:    a.logger.With("component", "deck"),
		Now:       a.now,
	})
	if err != nil {
		return err
	}
	if err := a.decks.PopulateDecks(cmd.Context()); err != nil {
		a.logger.Warn("Failed to load decks", "error", err)
	}

	// Notes are reviewed at most once a day, so they skip learning steps.
	noteParams := cfg.Scheduler.Params()
	noteParams.EnableShortTerm = false
	noteScheduler, err := fsrs.New(noteParams)
	if err != nil {
		return err
	}
	a.notes = notesched.New(a.vault, a.store, noteScheduler, notesched.Rules{
		ExcludedPaths: cfg.ExcludedPaths,
		IncludedPaths: cfg.IncludedPaths,
		AutoTrack:     cfg.AutoTrackNotes,
	}, a.logger.With("component", "notes"))
	return nil
}

// checkout maps the configured git URL to its local checkout, cloning it on
// first use and pulling it before a sync.
func (a *app) checkout(cmd *cobra.Command) (string, error) {
	root, err := gitsource.LocalPath(a.cfg.Git.Dir, a.cfg.Git.URL)
	if err != nil {
		return "", err
	}
	_, statErr := os.Stat(root)
	if cmd.Name() != "sync" && !errors.Is(statErr, os.ErrNotExist) {
		return root, nil
	}
	var progress io.Writer
	if a.cfg.Log.Level == "debug" {
		progress = cmd.ErrOrStderr()
	}
	if err := gitsource.Sync(cmd.Context(), a.cfg.Git.URL, root, progress, a.logger.With("component", "git")); err != nil {
		return "", err
	}
	return root, nil
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func newLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
