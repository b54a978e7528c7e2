package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/kode4food/wireflow"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/pkg/log"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flow-file]",
		Short: "Start the runtime and serve the admin API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadSettings(cmd, args)
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
			return serve(cmd.Context(), st, timeout)
		},
	}
	cmd.Flags().IntP("port", "p", config.DefaultUIPort, "port to listen on")
	cmd.Flags().Duration("shutdown-timeout", defaultShutdownTimeout,
		"how long in-flight messages may drain on shutdown",
	)
	return cmd
}

// serve runs the runtime until ctx is cancelled or the process receives an
// interrupt, then shuts the listener down and drains the flows
func serve(
	ctx context.Context, st *config.Settings, timeout time.Duration,
) error {
	gin.SetMode(gin.ReleaseMode)

	rt := wireflow.New()
	srv := &http.Server{
		Addr:              st.Addr(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if err := rt.Init(srv, st); err != nil {
		return err
	}
	logger := rt.Log()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("Failed to start runtime", log.Error(err))
		return errors.Join(err, rt.Close(context.Background()))
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", "addr", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var res error
	select {
	case <-ctx.Done():
	case res = <-serverErr:
		logger.Error("HTTP server error", log.Error(res))
	}

	logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("Shutdown failed", log.Error(err))
	}
	if err := rt.Close(sctx); err != nil {
		logger.Error("Runtime shutdown failed", log.Error(err))
		res = errors.Join(res, err)
	}

	logger.Info("Server exited")
	return res
}
