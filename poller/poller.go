// Package poller runs one background polling loop per tracked message and
// resolves it on the first confirmed open or after a fixed number of polls.
package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailtracker/metrics"
	"mailtracker/models"
)

const (
	DefaultInterval = 5 * time.Second
	// DefaultMaxPolls at DefaultInterval is 24 minutes.
	DefaultMaxPolls = 288

	notifyTimeout = 30 * time.Second
)

type StatusFetcher interface {
	FetchStatus(ctx context.Context, trackingID string) (*models.TrackingStatus, error)
}

// OpenHandler receives the first confirmed open of a tracking id.
type OpenHandler interface {
	MarkOpened(ctx context.Context, trackingID string, openedAt time.Time) error
}

type State int

const (
	Idle State = iota
	Active
	Confirmed
	Expired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Confirmed:
		return "confirmed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

type instance struct {
	trackingID string
	maxPolls   int
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func (i *instance) cancel() {
	i.stopOnce.Do(func() { close(i.stop) })
}

type Scheduler struct {
	fetcher        StatusFetcher
	handler        OpenHandler
	logger         *zap.Logger
	interval       time.Duration
	maxPolls       int
	requestTimeout time.Duration
	newTicker      func(time.Duration) (<-chan time.Time, func())

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	active   map[string]*instance
	resolved map[string]State
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

func WithMaxPolls(n int) Option {
	return func(s *Scheduler) { s.maxPolls = n }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.requestTimeout = d }
}

func NewScheduler(fetcher StatusFetcher, handler OpenHandler, logger *zap.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		fetcher:        fetcher,
		handler:        handler,
		logger:         logger,
		interval:       DefaultInterval,
		maxPolls:       DefaultMaxPolls,
		requestTimeout: DefaultInterval,
		newTicker:      realTicker,
		ctx:            ctx,
		cancel:         cancel,
		active:         make(map[string]*instance),
		resolved:       make(map[string]State),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start begins polling trackingID. It returns false, doing nothing, when the
// id is already being polled or has already been resolved.
func (s *Scheduler) Start(trackingID string) bool {
	return s.StartWithBudget(trackingID, s.maxPolls)
}

// StartWithBudget is Start with at most maxPolls ticks before expiry, for
// ids resumed part way through their polling window. A budget above the
// scheduler's limit is capped; an empty one starts nothing.
func (s *Scheduler) StartWithBudget(trackingID string, maxPolls int) bool {
	if maxPolls <= 0 {
		return false
	}
	maxPolls = min(maxPolls, s.maxPolls)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	if _, ok := s.active[trackingID]; ok {
		s.logger.Debug("already polling", zap.String("tracking_id", trackingID))
		return false
	}
	if state, ok := s.resolved[trackingID]; ok {
		s.logger.Debug("tracking id already resolved",
			zap.String("tracking_id", trackingID), zap.Stringer("state", state))
		return false
	}

	inst := &instance{
		trackingID: trackingID,
		maxPolls:   maxPolls,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.active[trackingID] = inst
	metrics.ActivePollers.Inc()

	ticks, stopTicker := s.newTicker(s.interval)
	s.wg.Add(1)
	go s.run(inst, ticks, stopTicker)

	s.logger.Info("🔄 polling started", zap.String("tracking_id", trackingID),
		zap.Duration("interval", s.interval), zap.Int("max_polls", maxPolls))
	return true
}

// Cancel stops an active instance without resolving it, so the id may be
// started again later.
func (s *Scheduler) Cancel(trackingID string) bool {
	s.mu.Lock()
	inst, ok := s.active[trackingID]
	if ok {
		delete(s.active, trackingID)
		metrics.ActivePollers.Dec()
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	inst.cancel()
	metrics.PollOutcomes.WithLabelValues("cancelled").Inc()
	s.logger.Info("polling cancelled", zap.String("tracking_id", trackingID))
	return true
}

func (s *Scheduler) State(trackingID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[trackingID]; ok {
		return Active
	}
	if state, ok := s.resolved[trackingID]; ok {
		return state
	}
	return Idle
}

// Active lists the ids currently being polled.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done is closed once the instance for trackingID has stopped. It is
// already closed when no instance is running.
func (s *Scheduler) Done(trackingID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst, ok := s.active[trackingID]; ok {
		return inst.done
	}
	return closedChan
}

// Shutdown stops every instance and waits for them to exit or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	for id, inst := range s.active {
		delete(s.active, id)
		metrics.ActivePollers.Dec()
		inst.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(inst *instance, ticks <-chan time.Time, stopTicker func()) {
	defer s.wg.Done()
	defer close(inst.done)
	defer stopTicker()

	log := s.logger.With(zap.String("tracking_id", inst.trackingID))
	polls := 0

	for {
		select {
		case <-inst.stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticks:
		}

		polls++
		log.Debug("📊 poll", zap.Int("poll", polls))

		if openedAt, ok := s.poll(log, inst.trackingID); ok {
			if !s.resolve(inst, Confirmed) {
				return
			}
			log.Info("🎉 open confirmed", zap.Int("poll", polls), zap.Time("opened_at", openedAt))

			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			if err := s.handler.MarkOpened(ctx, inst.trackingID, openedAt); err != nil {
				log.Error("failed to resolve tracking record", zap.Error(err))
			}
			cancel()
			return
		}

		if polls >= inst.maxPolls {
			if s.resolve(inst, Expired) {
				log.Info("⏰ polling expired without an open", zap.Int("polls", polls))
			}
			return
		}
	}
}

// poll queries the status once. Failures are logged and retried on the next tick.
func (s *Scheduler) poll(log *zap.Logger, trackingID string) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
	defer cancel()

	status, err := s.fetcher.FetchStatus(ctx, trackingID)
	if err != nil {
		log.Warn("❌ status query failed", zap.Error(err))
		return time.Time{}, false
	}
	if !status.Opened {
		return time.Time{}, false
	}
	first, ok := status.FirstOpen()
	if !ok {
		return time.Time{}, false
	}
	return first.Timestamp, true
}

// resolve records the terminal state unless the instance was cancelled first.
func (s *Scheduler) resolve(inst *instance, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[inst.trackingID] != inst {
		return false
	}
	delete(s.active, inst.trackingID)
	s.resolved[inst.trackingID] = state
	metrics.ActivePollers.Dec()
	metrics.PollOutcomes.WithLabelValues(state.String()).Inc()
	return true
}
