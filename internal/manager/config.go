package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"modelbench/internal/artifact"
	"modelbench/internal/generation"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxWait = 30 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Downloader fetches the artifact into its Store. Required.
	Downloader *artifact.Downloader
	Retry      artifact.RetryPolicy
	// Loader opens the downloaded artifact. Required for LoadEngine.
	Loader Loader
	// Token is the default access token used when callers pass none.
	Token string
	// Session is passed to every generation.Session the manager creates.
	// OnFinish, when set, runs after the manager's own bookkeeping.
	Session generation.Options
	// MaxWait bounds how long Submit waits for the running generation.
	MaxWait time.Duration
	// Preempt cancels the running generation instead of waiting for it.
	Preempt bool
	// AutoLoad loads the engine in the background once EnsureArtifact
	// completes a download.
	AutoLoad  bool
	Publisher EventPublisher
	Logger    *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:      StateInitializing,
		downloader: cfg.Downloader,
		store:      cfg.Downloader.Store(),
		retry:      cfg.Retry,
		loader:     cfg.Loader,
		token:      cfg.Token,
		sessOpts:   cfg.Session,
		maxWait:    cfg.MaxWait,
		preempt:    cfg.Preempt,
		autoLoad:   cfg.AutoLoad,
		publisher:  cfg.Publisher,
		genCh:      make(chan struct{}, 1),
		log:        zerolog.Nop(),
	}
	if m.maxWait <= 0 {
		m.maxWait = defaultMaxWait
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.startTime = time.Now()
	return m
}
