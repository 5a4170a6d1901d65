package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelbench/internal/artifact"
	"modelbench/internal/config"
	"modelbench/internal/engine"
	"modelbench/internal/generation"
	"modelbench/internal/manager"
	"modelbench/internal/telemetry"
)

// app holds the components every command builds from the config.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	store *artifact.Store
	dl    *artifact.Downloader

	stopTracer func(context.Context) error
}

func (o *globalOptions) newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	if cfg.Trace {
		if a.stopTracer, err = telemetry.InitTracer(config.AppName, cmd.ErrOrStderr(), log); err != nil {
			return nil, err
		}
	}
	dir, err := cfg.ModelsDir()
	if err != nil {
		return nil, err
	}
	dopts, err := cfg.DownloadOptions()
	if err != nil {
		return nil, err
	}
	dlog := log.With().Str("component", "download").Logger()
	dopts.Logger = &dlog
	a.store = artifact.NewStore(dir, cfg.Descriptor())
	a.dl = artifact.NewDownloader(a.store, dopts)
	return a, nil
}

// token resolves the access token. A missing token is not an error here; the
// downloader rejects it once a transfer is actually needed.
func (a *app) token(flag string) (string, error) {
	t, err := a.cfg.ResolveToken(flag)
	if errors.Is(err, config.ErrNoToken) {
		return "", nil
	}
	return t, err
}

// loader opens the artifact with the configured backend.
func (a *app) loader() manager.Loader {
	ec := a.cfg.Engine
	elog := a.log.With().Str("component", "engine").Str("backend", ec.Backend).Logger()
	if ec.Backend == config.BackendServer {
		return func(ctx context.Context, _ string) (engine.Model, error) {
			srv := engine.NewServer(engine.ServerOptions{
				BaseURL:        ec.ServerURL,
				APIKey:         ec.ServerAPIKey,
				Model:          ec.ServerModel,
				RequestTimeout: ec.RequestTimeout.Duration,
				ConnectTimeout: a.cfg.Download.ConnectTimeout.Duration,
				Traced:         a.cfg.Trace,
				Logger:         &elog,
			})
			if err := srv.Ping(ctx); err != nil {
				return nil, err
			}
			return srv, nil
		}
	}
	return func(_ context.Context, path string) (engine.Model, error) {
		return engine.LoadLlama(path, engine.LlamaOptions{
			ContextSize: ec.ContextSize,
			Threads:     ec.Threads,
			GPULayers:   ec.GPULayers,
			Logger:      &elog,
		})
	}
}

// newManager wires the lifecycle manager. autoLoad loads the engine as soon
// as a download requested over HTTP completes.
func (a *app) newManager(token string, autoLoad bool) *manager.Manager {
	mlog := a.log.With().Str("component", "manager").Logger()
	glog := a.log.With().Str("component", "generation").Logger()
	return manager.NewWithConfig(manager.ManagerConfig{
		Downloader: a.dl,
		Retry:      a.cfg.RetryPolicy(),
		Loader:     a.loader(),
		Token:      token,
		Session: generation.Options{
			Logger:      &glog,
			EventBuffer: a.cfg.Generation.EventBuffer,
		},
		MaxWait:   a.cfg.Generation.MaxWait.Duration,
		Preempt:   a.cfg.Generation.Preempt,
		AutoLoad:  autoLoad,
		Publisher: manager.LogPublisher{Log: mlog},
		Logger:    &mlog,
	})
}

// close flushes pending spans.
func (a *app) close() {
	if a.stopTracer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.stopTracer(ctx); err != nil {
		a.log.Warn().Err(err).Msg("tracer shutdown failed")
	}
}
