package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/recall/internal/watch"
	"github.com/conorfennell/recall/internal/web"
)

func NewServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve decks and note reviews over HTTP",
		Args:  cobra.NoArgs,
		RunE:  makeServeRunner(a),
	}

	cmd.Flags().String("addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().Bool("watch", false, "Sync whenever a note changes")
	return cmd
}

func makeServeRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		handler := web.NewServer(a.decks, a.notes, web.Options{
			CORSOrigins: a.cfg.HTTP.CORSOrigins,
			Logger:      a.logger.With("component", "web"),
			Now:         a.now,
		})
		srv := &http.Server{
			Addr:              a.cfg.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}

		if watchNotes, _ := cmd.Flags().GetBool("watch"); watchNotes {
			w := watch.New(a.vault, a.decks, a.notes, watch.Options{
				Debounce: a.cfg.Watch.Debounce,
				Logger:   a.logger.With("component", "watch"),
				Now:      a.now,
			})
			go func() {
				if err := w.Run(ctx); err != nil {
					a.logger.Error("Watcher stopped", "error", err)
				}
			}()
		}

		errc := make(chan error, 1)
		go func() {
			a.logger.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			return fmt.Errorf("serve: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
