package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/platesync/core/internal/models"
	"github.com/platesync/core/internal/platerr"
)

// Store is the slice of offline storage the coordinator drives: the queue
// plus the cross-process lease. It deliberately excludes the read caches.
type Store interface {
	Enqueue(ctx context.Context, t models.EntryType, payload any) (string, error)
	ListUnsynced(ctx context.Context) ([]*models.QueueEntry, error)
	MarkSynced(ctx context.Context, id string) error
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	DeleteEntry(ctx context.Context, id string) error
	AcquireLease(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, holder string) error
}

// Broadcaster pushes sync lifecycle events to listeners. A nil Broadcaster
// disables event delivery.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// Lifecycle events delivered through the Broadcaster.
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventEntrySynced   = "entry.synced"
	EventEntryEvicted  = "entry.evicted"
	EventConnectivity  = "connectivity.changed"
)

// Config holds coordinator tuning knobs.
type Config struct {
	AutoSyncInterval time.Duration // how often a pass runs when online
	EntryTimeout     time.Duration // per-entry bound on remote calls
	LeaseTTL         time.Duration // cross-process lease lifetime
	PhotoBucket      string        // remote bucket for photo blobs
	Holder           string        // lease holder id, defaults to a random one
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		AutoSyncInterval: 5 * time.Minute,
		EntryTimeout:     30 * time.Second,
		LeaseTTL:         2 * time.Minute,
		PhotoBucket:      "meal-photos",
	}
}

// Coordinator owns connectivity state, the single-flight guard and the
// periodic timer, and replays queued entries through the RemoteClient.
// Construct one per process and inject it; it has no package-level state.
type Coordinator struct {
	store  Store
	remote RemoteClient
	hub    Broadcaster
	logger *zap.Logger

	entryTimeout time.Duration
	leaseTTL     time.Duration
	photoBucket  string
	holder       string

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex

	isRunning      bool // periodic timer armed
	isOnline       bool
	syncInProgress bool
	autoInterval   time.Duration
	lastSyncTime   time.Time
	lastResult     *Result
	closed         bool
}

// NewCoordinator creates a new Coordinator. A nil config uses defaults;
// zero-valued config fields are filled from DefaultConfig.
func NewCoordinator(store Store, remote RemoteClient, hub Broadcaster, logger *zap.Logger, config *Config) *Coordinator {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.AutoSyncInterval <= 0 {
		config.AutoSyncInterval = def.AutoSyncInterval
	}
	if config.EntryTimeout <= 0 {
		config.EntryTimeout = def.EntryTimeout
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = def.LeaseTTL
	}
	if config.PhotoBucket == "" {
		config.PhotoBucket = def.PhotoBucket
	}
	if config.Holder == "" {
		config.Holder = uuid.New().String()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		store:        store,
		remote:       remote,
		hub:          hub,
		logger:       logger.Named("sync"),
		entryTimeout: config.EntryTimeout,
		leaseTTL:     config.LeaseTTL,
		photoBucket:  config.PhotoBucket,
		holder:       config.Holder,
		autoInterval: config.AutoSyncInterval,
		isOnline:     true, // assume online until the first signal says otherwise
	}
}

// StartAutoSync arms the periodic timer. Calling it while already armed is
// a no-op; an interval <= 0 keeps the previously configured one.
func (c *Coordinator) StartAutoSync(interval time.Duration) {
	c.mu.Lock()
	if c.closed || c.isRunning {
		c.mu.Unlock()
		return
	}
	if interval > 0 {
		c.autoInterval = interval
	}
	interval = c.autoInterval
	c.isRunning = true
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	c.wg.Add(1)
	go c.autoSyncLoop(stopCh, interval)

	c.logger.Info("auto sync armed", zap.Duration("interval", interval))
}

// StopAutoSync disarms the periodic timer. Safe to call when not armed.
// An in-flight pass is left to finish.
func (c *Coordinator) StopAutoSync() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	stopCh := c.stopCh
	c.mu.Unlock()

	close(stopCh)
	c.logger.Info("auto sync disarmed")
}

// autoSyncLoop fires a pass every interval while online. Each armed timer
// owns its stop channel, so stop/start cycles never cross wires.
func (c *Coordinator) autoSyncLoop(stopCh chan struct{}, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !c.IsOnline() {
				continue
			}

			c.mu.RLock()
			inFlight := c.syncInProgress
			c.mu.RUnlock()
			if inFlight {
				c.logger.Debug("sync already in progress, skipping tick")
				continue
			}

			c.spawnSync()
		}
	}
}

// spawnSync runs an opportunistic pass in the background, tracked so Close
// can wait for it.
func (c *Coordinator) spawnSync() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.SyncNow(context.Background()); err != nil {
			c.logger.Error("background sync failed", zap.Error(err))
		}
	}()
}

// SetOnline feeds the connectivity signal. Coming back online re-arms the
// timer and immediately drains whatever accumulated while down; going
// offline disarms the timer and lets in-flight work finish.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	was := c.isOnline
	c.isOnline = online
	c.mu.Unlock()

	if was == online {
		return
	}

	c.logger.Info("connectivity changed", zap.Bool("online", online))
	c.broadcast(EventConnectivity, map[string]any{"online": online})

	if online {
		c.StartAutoSync(0)
		c.spawnSync()
	} else {
		c.StopAutoSync()
	}
}

// SyncNow runs one sync pass. If a pass is already in flight, or the
// coordinator is offline, or another process holds the sync lease, it
// returns a zero Result immediately; the work is not queued for later.
func (c *Coordinator) SyncNow(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.syncInProgress {
		c.mu.Unlock()
		c.logger.Debug("sync already in progress, skipping")
		return Result{}, nil
	}
	if !c.isOnline {
		c.mu.Unlock()
		c.logger.Debug("offline, skipping sync")
		return Result{}, nil
	}
	c.syncInProgress = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.syncInProgress = false
		c.mu.Unlock()
	}()

	// The in-memory guard only covers this process. The lease lives in the
	// same store as the queue, so separate processes sharing one database
	// cannot run overlapping passes either.
	acquired, err := c.store.AcquireLease(ctx, c.holder, c.leaseTTL)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		c.logger.Debug("sync lease held elsewhere, skipping")
		return Result{}, nil
	}
	defer func() {
		if err := c.store.ReleaseLease(context.Background(), c.holder); err != nil {
			c.logger.Warn("failed to release sync lease", zap.Error(err))
		}
	}()

	renewStop := make(chan struct{})
	renewDone := make(chan struct{})
	go c.keepLeaseAlive(renewStop, renewDone)
	defer func() {
		close(renewStop)
		<-renewDone
	}()

	result, err := c.runPass(ctx)
	if err != nil {
		return result, err
	}

	c.mu.Lock()
	c.lastSyncTime = time.Now()
	c.lastResult = &result
	c.mu.Unlock()
	return result, nil
}

// runPass drains the unsynced entries sequentially. Per-entry failures are
// folded into the Result; only a queue listing failure aborts the pass.
func (c *Coordinator) runPass(ctx context.Context) (Result, error) {
	entries, err := c.store.ListUnsynced(ctx)
	if err != nil {
		c.logger.Error("failed to list unsynced entries", zap.Error(err))
		c.broadcast(EventSyncFailed, map[string]any{"error": err.Error()})
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{}, nil
	}

	c.logger.Info("sync pass started", zap.Int("pending", len(entries)))
	c.broadcast(EventSyncStarted, map[string]any{"pending": len(entries)})

	var result Result
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			c.logger.Warn("sync pass canceled", zap.Int("remaining", len(entries)-result.SuccessCount-result.FailedCount))
			return result, ctx.Err()
		default:
		}

		c.processEntry(ctx, entry, &result)
	}

	c.logger.Info("sync pass completed",
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailedCount))
	c.broadcast(EventSyncCompleted, result)
	return result, nil
}

// processEntry attempts one remote delivery and applies the retry/evict
// bookkeeping. Nothing it does can abort the pass.
func (c *Coordinator) processEntry(ctx context.Context, entry *models.QueueEntry, result *Result) {
	entryCtx, cancel := context.WithTimeout(ctx, c.entryTimeout)
	signedURL, err := c.syncEntry(entryCtx, entry)
	cancel()

	if err == nil {
		result.SuccessCount++
		// The remote write landed. A bookkeeping failure here must not
		// consume retry budget or the entry would be re-delivered.
		if err := c.store.MarkSynced(ctx, entry.ID); err != nil {
			c.logger.Warn("failed to mark entry synced",
				zap.String("id", entry.ID), zap.Error(err))
		}

		fields := []zap.Field{zap.String("id", entry.ID), zap.String("type", string(entry.Type))}
		event := map[string]any{"id": entry.ID, "type": string(entry.Type)}
		if signedURL != "" {
			fields = append(fields, zap.String("signed_url", signedURL))
			event["signed_url"] = signedURL
		}
		c.logger.Info("entry synced", fields...)
		c.broadcast(EventEntrySynced, event)
		return
	}

	c.logger.Warn("entry sync failed",
		zap.String("id", entry.ID),
		zap.Int("retry_count", entry.RetryCount),
		zap.Error(err))
	result.recordFailure(entry.ID, err)

	if entry.RetryCount >= models.MaxRetryAttempts {
		c.evict(ctx, entry.ID)
		return
	}

	if _, err := c.store.IncrementRetryCount(ctx, entry.ID); err != nil {
		switch {
		case platerr.Is(err, platerr.CodeMaxRetriesExceeded):
			c.evict(ctx, entry.ID)
		case platerr.Is(err, platerr.CodeEntryNotFound):
			c.logger.Debug("entry vanished during pass", zap.String("id", entry.ID))
		default:
			c.logger.Warn("failed to bump retry count",
				zap.String("id", entry.ID), zap.Error(err))
		}
	}
}

// evict drops a poison entry that exhausted its retry budget.
func (c *Coordinator) evict(ctx context.Context, id string) {
	if err := c.store.DeleteEntry(ctx, id); err != nil {
		c.logger.Warn("failed to evict entry", zap.String("id", id), zap.Error(err))
		return
	}
	c.logger.Warn("entry evicted after exhausting retries", zap.String("id", id))
	c.broadcast(EventEntryEvicted, map[string]any{"id": id})
}

// keepLeaseAlive renews the lease while a pass runs so slow passes are not
// mistaken for dead holders.
func (c *Coordinator) keepLeaseAlive(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ok, err := c.store.RenewLease(context.Background(), c.holder, c.leaseTTL)
			if err != nil {
				c.logger.Warn("failed to renew sync lease", zap.Error(err))
			} else if !ok {
				c.logger.Warn("sync lease lost mid-pass")
			}
		}
	}
}

// IsOnline returns the current connectivity flag.
func (c *Coordinator) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isOnline
}

// IsRunning returns whether the periodic timer is armed.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	AutoSyncArmed  bool       `json:"auto_sync_armed"`
	Online         bool       `json:"online"`
	SyncInProgress bool       `json:"sync_in_progress"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
	LastResult     *Result    `json:"last_result,omitempty"`
}

// GetStatus returns the current status of the coordinator.
func (c *Coordinator) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		AutoSyncArmed:  c.isRunning,
		Online:         c.isOnline,
		SyncInProgress: c.syncInProgress,
		LastResult:     c.lastResult,
	}
	if !c.lastSyncTime.IsZero() {
		t := c.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// Close disarms the timer and waits for in-flight work. The coordinator is
// unusable afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.StopAutoSync()
	c.wg.Wait()
	c.logger.Info("sync coordinator stopped")
}

func (c *Coordinator) broadcast(event string, data any) {
	if c.hub == nil {
		return
	}
	c.hub.Broadcast(event, data)
}
