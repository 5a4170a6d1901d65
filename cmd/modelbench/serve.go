package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"modelbench/internal/config"
	"modelbench/internal/httpapi"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr            string
		corsOrigins     string
		maxBodyBytes    int64
		generateTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose status, download and generation over HTTP",
		Long: `Starts the HTTP API. On startup the artifact is loaded when complete, or
downloaded first when a token is configured; otherwise the server waits for
POST /artifact/download with a token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			if origins := splitCSV(corsOrigins); len(origins) > 0 {
				a.cfg.CORS.Enabled = true
				a.cfg.CORS.AllowedOrigins = origins
			}

			httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
			httpapi.SetMaxBodyBytes(maxBodyBytes)
			httpapi.SetGenerateTimeoutSeconds(int64(generateTimeout / time.Second))
			httpapi.SetCORSOptions(a.cfg.CORS.Enabled, a.cfg.CORS.AllowedOrigins, a.cfg.CORS.AllowedMethods, a.cfg.CORS.AllowedHeaders)
			httpapi.SetSampling(a.cfg.Sampling, a.cfg.AllPresets())

			ctx := cmd.Context()
			httpapi.SetBaseContext(ctx)

			token, err := a.token(opts.token)
			if err != nil {
				return err
			}
			mgr := a.newManager(token, true)
			defer mgr.Close()

			go func() {
				if err := mgr.Bootstrap(ctx); err != nil && ctx.Err() == nil {
					a.log.Error().Err(err).Msg("bootstrap failed")
				}
			}()

			var handler http.Handler = httpapi.NewMux(mgr)
			if a.cfg.Trace {
				handler = otelhttp.NewHandler(handler, config.AppName)
			}
			srv := &http.Server{
				Addr:              a.cfg.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", a.cfg.Addr).Str("artifact", a.store.Path()).Str("backend", a.cfg.Engine.Backend).Msg("modelbench listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Warn().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", ":8080", "HTTP listen address (overrides config)")
	fl.StringVar(&corsOrigins, "cors-origins", "", "comma-separated allowed CORS origins; enables CORS")
	fl.Int64Var(&maxBodyBytes, "max-body-bytes", 1<<20, "maximum JSON request body size")
	fl.DurationVar(&generateTimeout, "generate-timeout", 0, "upper bound for one /generate request (0 = none)")
	return cmd
}
