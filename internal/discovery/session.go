// Package discovery runs cancellable device searches. A Session is the
// caller-owned handle of one search.
package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/groutine"
)

// Options configures a search
type Options struct {
	// Timeout ends the search as Completed; 0 runs until stopped or the transport completes.
	Timeout time.Duration
	// NamePrefix keeps only devices whose name starts with it when FilterByPrefix is set.
	NamePrefix     string
	FilterByPrefix bool
}

// DefaultOptions returns the vendor-filtered indefinite search
func DefaultOptions() *Options {
	return &Options{
		NamePrefix:     "Polar",
		FilterByPrefix: true,
	}
}

// Handlers receives the events of one session. Both are invoked sequentially
// and never after Stop returned; OnTerminate is invoked exactly once.
// OnDevice may call Stop; OnTerminate must not call back into the session.
type Handlers struct {
	OnDevice    func(sessionID string, d device.Descriptor)
	OnTerminate func(sessionID string, state device.SessionState, err error)
}

// Session is one running search
type Session struct {
	id      string
	opts    Options
	logger  *logrus.Logger
	handler Handlers
	barrier func()

	// deliveryMu is held while OnDevice runs and is taken before mu
	deliveryMu    sync.Mutex
	deliveringGID atomic.Uint64

	mu    sync.Mutex
	state device.SessionState
	err   error
	seen  *hashmap.Map[string, struct{}]

	cancel context.CancelFunc
	done   <-chan struct{}
}

// Option tweaks session construction
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBarrier installs a func that Stop calls after cancelling, used to wait
// for a downstream delivery of this session's events to finish.
func WithBarrier(barrier func()) Option {
	return func(s *Session) { s.barrier = barrier }
}

// Start begins a search and returns its handle immediately. The search runs
// on its own goroutine until ctx is done, the timeout expires, the transport
// completes or fails, or Stop is called.
func Start(ctx context.Context, searcher device.Searcher, opts *Options, handlers Handlers, options ...Option) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}

	s := &Session{
		id:      uuid.NewString(),
		opts:    *opts,
		logger:  logrus.New(),
		handler: handlers,
		state:   device.SessionActive,
		seen:    hashmap.New[string, struct{}](),
	}
	for _, o := range options {
		o(s)
	}

	var runCtx context.Context
	if s.opts.Timeout > 0 {
		runCtx, s.cancel = context.WithTimeout(ctx, s.opts.Timeout)
	} else {
		runCtx, s.cancel = context.WithCancel(ctx)
	}

	s.logger.WithFields(logrus.Fields{
		"session":  s.id,
		"timeout":  s.opts.Timeout,
		"prefix":   s.opts.NamePrefix,
		"filtered": s.opts.FilterByPrefix,
	}).Info("Starting device search...")

	s.done = groutine.Go(runCtx, "discovery-"+s.id[:8], func(ctx context.Context) {
		s.run(ctx, searcher)
	})
	return s
}

func (s *Session) run(ctx context.Context, searcher device.Searcher) {
	err := searcher.Search(ctx, s.handleDevice)

	s.deliveryMu.Lock()
	defer s.deliveryMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cancel()

	if s.state != device.SessionActive {
		return
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		// parent context went away, not the caller's Stop
		s.state = device.SessionCancelled
		s.err = device.NewError(device.KindCancelled, "search", "", ctx.Err())
		s.logger.WithField("session", s.id).Info("Device search cancelled")
	case err == nil, errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.state = device.SessionCompleted
		s.logger.WithFields(logrus.Fields{
			"session": s.id,
			"devices": s.seen.Len(),
		}).Info("Device search complete")
	default:
		s.state = device.SessionFailed
		s.err = device.FromContext("search", "", err)
		s.logger.WithFields(logrus.Fields{
			"session": s.id,
			"error":   err,
		}).Error("Device search failed")
	}

	if s.handler.OnTerminate != nil {
		s.handler.OnTerminate(s.id, s.state, s.err)
	}
}

func (s *Session) handleDevice(d device.Descriptor) {
	s.deliveryMu.Lock()
	defer s.deliveryMu.Unlock()

	if !s.admit(d) || s.handler.OnDevice == nil {
		return
	}
	s.deliveringGID.Store(groutine.GetGID())
	defer s.deliveringGID.Store(0)
	s.handler.OnDevice(s.id, d)
}

// admit filters and de-duplicates d, reporting whether it is a new find
func (s *Session) admit(d device.Descriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != device.SessionActive {
		return false
	}
	if s.opts.FilterByPrefix && !strings.HasPrefix(d.Name, s.opts.NamePrefix) {
		return false
	}

	key := d.ID
	if key == "" {
		key = d.Address
	}
	if _, dup := s.seen.GetOrInsert(key, struct{}{}); dup {
		return false
	}

	s.logger.WithFields(logrus.Fields{
		"session":     s.id,
		"id":          d.ID,
		"address":     d.Address,
		"rssi":        d.RSSI,
		"name":        d.Name,
		"connectable": d.Connectable,
	}).Info("Device found")
	return true
}

// Stop cancels the search. It is idempotent; once it returns no further
// device event is delivered through this session.
func (s *Session) Stop() {
	// from inside OnDevice the delivery lock is already ours
	if s.deliveringGID.Load() != groutine.GetGID() {
		s.deliveryMu.Lock()
		defer s.deliveryMu.Unlock()
	}

	s.mu.Lock()
	if s.state != device.SessionActive {
		s.mu.Unlock()
		return
	}
	s.state = device.SessionCancelled
	s.err = device.NewError(device.KindCancelled, "search", "", nil)
	s.logger.WithField("session", s.id).Info("Device search stopped")
	if s.handler.OnTerminate != nil {
		s.handler.OnTerminate(s.id, s.state, s.err)
	}
	s.mu.Unlock()

	s.cancel()
	if s.barrier != nil {
		s.barrier()
	}
}

// Wait blocks until the transport released the search
func (s *Session) Wait() {
	<-s.done
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Done is closed once the transport released the search
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state
func (s *Session) State() device.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session still delivers events
func (s *Session) Active() bool {
	return s.State() == device.SessionActive
}

// Err returns the terminal error: nil while active or after completion
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Found returns the number of distinct devices delivered so far
func (s *Session) Found() int {
	return s.seen.Len()
}
