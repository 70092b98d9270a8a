package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/window-limiter/internal/container"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var injector *do.Injector

	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		if err := options.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}

		injector = do.New()
		container.ServerPackages(injector, options)

		logger := do.MustInvoke[*zap.Logger](injector)

		var server *http.Server

		hooks.OnStart(func() {
			router := do.MustInvoke[*chi.Mux](injector)

			// Invoke API to trigger route registration
			_ = do.MustInvoke[huma.API](injector)

			server = &http.Server{
				Addr:              fmt.Sprintf(":%d", options.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger.Info("server starting",
				zap.Int("port", options.Port),
				zap.String("backend", options.Backend),
				zap.String("instance", do.MustInvokeNamed[string](injector, container.InstanceName)),
			)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server failed", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if server != nil {
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("server shutdown error", zap.Error(err))
				}
			}

			if err := injector.Shutdown(); err != nil {
				logger.Error("service shutdown error", zap.Error(err))
			}

			logger.Info("shutdown complete")
			_ = logger.Sync()
		})
	})

	cli.Root().AddCommand(checkCommand(func() *do.Injector { return injector }))
	cli.Root().AddCommand(&cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI spec",
		Run: func(cmd *cobra.Command, _ []string) {
			api := do.MustInvoke[huma.API](injector)

			b, err := api.OpenAPI().YAML()
			if err != nil {
				cmd.PrintErrln(err)
				os.Exit(1)
			}

			cmd.Println(string(b))
		},
	})

	cli.Run()
}

// checkCommand records one event against the configured backend and prints
// the resulting quota state as JSON.
func checkCommand(injector func() *do.Injector) *cobra.Command {
	var (
		maxEvents  int64
		durationMs int64
		reset      bool
	)

	cmd := &cobra.Command{
		Use:   "check <identifier>",
		Short: "Record one event and print the quota state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i := injector()
			defer func() { _ = i.Shutdown() }()

			duration, err := ratelimit.DurationFromMillis(durationMs)
			if err != nil {
				return fmt.Errorf("--duration-ms: %w", err)
			}

			limiter := do.MustInvoke[*ratelimit.SlidingWindowLimiter](i)

			res, err := limiter.Check(cmd.Context(), ratelimit.CheckOptions{
				Identifier: args[0],
				Max:        maxEvents,
				Duration:   duration,
				WantReset:  reset,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(res)
		},
	}

	cmd.Flags().Int64Var(&maxEvents, "max", 0, "Events allowed in the window (default from options)")
	cmd.Flags().Int64Var(&durationMs, "duration-ms", 0, "Window length in milliseconds (default from options)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Include reset and resetMs")

	return cmd
}
