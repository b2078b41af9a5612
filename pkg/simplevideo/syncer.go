package simplevideo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// SyncerConfig configures the distribution cycle
type SyncerConfig struct {
	Selector        TagSelector
	Namespace       string
	WebRoot         string
	ServerService   string
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollMaxAttempts int
}

// DefaultSyncerConfig returns the polling and layout defaults
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		Selector:        TagSelector{Key: "Name", Value: "video-server"},
		Namespace:       "videos",
		WebRoot:         "/var/www/html",
		ServerService:   "nginx",
		PollInterval:    5 * time.Second,
		PollMaxInterval: 30 * time.Second,
		PollMaxAttempts: 40,
	}
}

// syncStepTimeout bounds each single controller call of a cycle
const syncStepTimeout = time.Minute

func (c SyncerConfig) withDefaults() SyncerConfig {
	defaults := DefaultSyncerConfig()
	if c.Selector.Key == "" {
		c.Selector = defaults.Selector
	}
	if c.Namespace == "" {
		c.Namespace = defaults.Namespace
	}
	if c.WebRoot == "" {
		c.WebRoot = defaults.WebRoot
	}
	if c.ServerService == "" {
		c.ServerService = defaults.ServerService
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = defaults.PollMaxAttempts
	}
	return c
}

// MaxAwait is the longest await-stopped sleeps between its polls
func (c SyncerConfig) MaxAwait() time.Duration {
	c = c.withDefaults()
	var total time.Duration
	delay := c.PollInterval
	for i := 1; i < c.PollMaxAttempts; i++ {
		total += delay
		if c.PollMaxInterval > c.PollInterval {
			delay = min(2*delay, c.PollMaxInterval)
		}
	}
	return total
}

// CycleBound is the longest one cycle runs once it holds the lease: the
// polling budget plus one step timeout for each controller call, including
// the restart attempted after an aborted cycle.
func (c SyncerConfig) CycleBound() time.Duration {
	return c.MaxAwait() + 7*syncStepTimeout
}

// SyncerOption configures a Syncer
type SyncerOption func(*Syncer)

// WithSyncLocker adds a cross-process lease around each cycle
func WithSyncLocker(locker Locker) SyncerOption {
	return func(s *Syncer) {
		s.locker = locker
	}
}

// WithSyncLogger sets the syncer logger
func WithSyncLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// Syncer republishes assets by cycling the serving host: describe, stop,
// await stopped, write the boot script, start.
type Syncer struct {
	controller InstanceController
	cfg        SyncerConfig
	locker     Locker
	logger     *slog.Logger
	// cycles on one host must not interleave
	sem chan struct{}
}

var errNotYetStopped = errors.New("instance not yet stopped")

// NewSyncer creates a Syncer over controller. Zero config fields take defaults.
func NewSyncer(controller InstanceController, cfg SyncerConfig, opts ...SyncerOption) (*Syncer, error) {
	if controller == nil {
		return nil, fmt.Errorf("instance controller is required")
	}

	s := &Syncer{
		controller: controller,
		cfg:        cfg.withDefaults(),
		logger:     slog.Default(),
		sem:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sync runs one distribution cycle for target
func (s *Syncer) Sync(ctx context.Context, kind EventKind, target SyncTarget) (result *SyncResult, err error) {
	started := time.Now()
	defer func() {
		outcome := "succeeded"
		if err != nil {
			outcome = "failed"
			if errors.Is(err, ErrSyncTimeout) {
				outcome = "timeout"
			}
		}
		syncDuration.WithLabelValues(string(kind), outcome).Observe(time.Since(started).Seconds())
	}()

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, &SyncError{Step: "lock", Err: err}
	}
	defer release()

	logger := s.logger.With("event", kind, "key", target.Key, "selector", s.cfg.Selector.String())

	describeCtx, cancel := context.WithTimeout(ctx, syncStepTimeout)
	inst, err := s.controller.DescribeInstance(describeCtx, s.cfg.Selector)
	cancel()
	if err != nil {
		return nil, &SyncError{Step: "describe", Err: err}
	}
	logger = logger.With("instance_id", inst.ID)
	logger.Info("distribution cycle started", "state", inst.State, "address", inst.PublicAddress)

	if err := ctx.Err(); err != nil {
		return nil, &SyncError{Step: "stop", InstanceID: inst.ID, Err: err}
	}

	// Past this point caller cancellation is ignored: a stopped host must be started again.
	detached := context.WithoutCancel(ctx)
	stopCtx, cancel := context.WithTimeout(detached, syncStepTimeout)
	err = s.controller.StopInstance(stopCtx, inst.ID)
	cancel()
	if err != nil {
		return nil, &SyncError{Step: "stop", InstanceID: inst.ID, Err: err}
	}

	cycleCtx, cancelCycle := context.WithTimeout(detached, s.cfg.MaxAwait()+4*syncStepTimeout)
	defer cancelCycle()

	if err := s.awaitStopped(cycleCtx); err != nil {
		s.restart(detached, logger, inst.ID)
		return nil, &SyncError{Step: "await-stopped", InstanceID: inst.ID, Err: err}
	}

	script, err := renderBootScript(kind, target, s.cfg.WebRoot, s.cfg.Namespace, s.cfg.ServerService)
	if err == nil {
		err = s.controller.SetBootScript(cycleCtx, inst.ID, script)
	}
	if err != nil {
		s.restart(detached, logger, inst.ID)
		return nil, &SyncError{Step: "reconfigure", InstanceID: inst.ID, Err: err}
	}

	if err := s.controller.StartInstance(cycleCtx, inst.ID); err != nil {
		return nil, &SyncError{Step: "start", InstanceID: inst.ID, Err: err}
	}

	address := inst.PublicAddress
	if address == "" {
		// a host that was already stopped has no address until it starts
		if current, err := s.controller.DescribeInstance(cycleCtx, s.cfg.Selector); err == nil {
			address = current.PublicAddress
		}
	}

	result = &SyncResult{InstanceID: inst.ID, Address: address}
	if kind == EventCreated {
		if address == "" {
			return nil, &SyncError{Step: "start", InstanceID: inst.ID, Err: errors.New("instance has no public address")}
		}
		result.StreamingURL = s.StreamingURL(address, target.Filename)
	}

	logger.Info("distribution cycle finished", "address", address, "elapsed", time.Since(started))
	return result, nil
}

// restart brings the host back with its previous boot script after a cycle
// was aborted between stop and start
func (s *Syncer) restart(ctx context.Context, logger *slog.Logger, instanceID string) {
	ctx, cancel := context.WithTimeout(ctx, syncStepTimeout)
	defer cancel()
	if err := s.controller.StartInstance(ctx, instanceID); err != nil {
		logger.Error("failed to restart host after aborted cycle", "error", err)
		return
	}
	logger.Warn("host restarted with its previous boot script")
}

// StreamingURL returns the URL the serving host exposes filename under
func (s *Syncer) StreamingURL(address, filename string) string {
	return fmt.Sprintf("http://%s/%s/%s", address, s.cfg.Namespace, url.PathEscape(filename))
}

func (s *Syncer) acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if s.locker == nil {
		return func() { <-s.sem }, nil
	}

	unlock, err := s.locker.Lock(ctx, "sync:"+s.cfg.Selector.String())
	if err != nil {
		<-s.sem
		return nil, err
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release sync lock", "error", err)
		}
		<-s.sem
	}, nil
}

// awaitStopped polls the instance with bounded exponential backoff until it
// reports stopped. Exhausting the attempts yields ErrSyncTimeout; a describe
// failure is returned as is.
func (s *Syncer) awaitStopped(ctx context.Context) error {
	builder := retrypolicy.NewBuilder[*Instance]().
		HandleIf(func(_ *Instance, err error) bool {
			return errors.Is(err, errNotYetStopped)
		}).
		WithMaxRetries(s.cfg.PollMaxAttempts - 1)
	if s.cfg.PollMaxInterval > s.cfg.PollInterval {
		builder = builder.WithBackoff(s.cfg.PollInterval, s.cfg.PollMaxInterval)
	} else {
		builder = builder.WithDelay(s.cfg.PollInterval)
	}

	var (
		attempts    int
		lastState   InstanceState
		describeErr error
	)
	_, err := failsafe.With(builder.Build()).WithContext(ctx).Get(func() (*Instance, error) {
		attempts++
		inst, err := s.controller.DescribeInstance(ctx, s.cfg.Selector)
		if err != nil {
			describeErr = err
			return nil, err
		}
		lastState = inst.State
		if inst.State != InstanceStopped {
			return inst, errNotYetStopped
		}
		return inst, nil
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if describeErr != nil {
		return describeErr
	}
	return fmt.Errorf("%w: still %s after %d attempts", ErrSyncTimeout, lastState, attempts)
}
