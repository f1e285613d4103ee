package authservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dalang-app/dalang/internal/core"
)

// Start runs the credential service until ctx is cancelled.
func Start(ctx context.Context, cfg *core.Config, logger *logrus.Logger) error {
	db, err := core.OpenDatabase(cfg)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	handler, err := NewHandler(db, logger)
	if err != nil {
		return fmt.Errorf("error initializing credential service: %w", err)
	}

	srv := &http.Server{
		Addr:    cfg.AuthServiceAddress(),
		Handler: handler,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("[AUTH] credential service listening on %s", srv.Addr)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
