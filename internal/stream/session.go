package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/groutine"
)

// Handlers receives the output of one stream session. OnState runs with the
// session lock held and must not call back into the session.
type Handlers struct {
	OnBatch func(batch device.SampleBatch)
	OnState func(state device.SessionState, err error)
}

// Session is the caller-owned handle of one measurement stream on one
// (device, feature) pair: Idle → Active → Completed | Failed | Cancelled.
type Session struct {
	id       string
	deviceID string
	feature  device.Feature
	manager  *Manager
	handlers Handlers
	logger   *logrus.Entry

	mu       sync.Mutex
	state    device.SessionState
	err      error
	cfg      device.Configuration
	cancel   context.CancelFunc
	done     <-chan struct{}
	watchdog *time.Timer

	deliveryMu  sync.Mutex // held while a batch is handed to OnBatch
	deliveryGID atomic.Uint64
	batches     atomic.Uint64
	samples     atomic.Uint64
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// DeviceID returns the streamed device
func (s *Session) DeviceID() string { return s.deviceID }

// Feature returns the streamed measurement
func (s *Session) Feature() device.Feature { return s.feature }

// State returns the current lifecycle state
func (s *Session) State() device.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether batches are still delivered
func (s *Session) Active() bool {
	return s.State() == device.SessionActive
}

// Err returns the terminal error, nil while running or after completion
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Config returns the configuration the stream was started with
func (s *Session) Config() device.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Stats returns the number of delivered batches and samples
func (s *Session) Stats() (batches, samples uint64) {
	return s.batches.Load(), s.samples.Load()
}

// Start opens the stream with cfg. Only an Idle session can be started.
func (s *Session) Start(ctx context.Context, cfg device.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != device.SessionIdle {
		return &device.Error{
			Kind:     device.KindBusy,
			Op:       "stream",
			DeviceID: s.deviceID,
			Msg:      fmt.Sprintf("%s session is %s", s.feature, s.state),
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cfg = cfg
	s.state = device.SessionActive
	s.logger.WithField("config", cfg).Info("Starting stream...")
	s.notify()

	if timeout := s.manager.startTimeout; timeout > 0 {
		s.watchdog = time.AfterFunc(timeout, func() {
			s.terminate(device.SessionFailed, &device.Error{
				Kind:     device.KindTimeout,
				Op:       "stream",
				DeviceID: s.deviceID,
				Msg:      fmt.Sprintf("no %s data within %s", s.feature, timeout),
			})
			cancel()
		})
	}

	s.done = groutine.Go(runCtx, fmt.Sprintf("stream-%s-%s", s.deviceID, s.feature), func(ctx context.Context) {
		err := s.manager.streamer.StartStreaming(ctx, s.deviceID, s.feature, cfg, s.deliver)
		s.finish(ctx, err)
	})
	return nil
}

func (s *Session) deliver(batch device.SampleBatch) {
	if !s.Active() {
		return
	}

	s.deliveryMu.Lock()
	defer s.deliveryMu.Unlock()
	s.deliveryGID.Store(groutine.GetGID())
	defer s.deliveryGID.Store(0)

	// re-check: Stop may have completed while we waited for the lock
	s.mu.Lock()
	active := s.state == device.SessionActive
	if active && s.watchdog != nil && s.batches.Load() == 0 {
		s.watchdog.Stop()
	}
	s.mu.Unlock()
	if !active {
		return
	}

	s.batches.Add(1)
	s.samples.Add(uint64(len(batch.Samples)))
	if s.handlers.OnBatch != nil {
		s.handlers.OnBatch(batch)
	}
}

func (s *Session) finish(ctx context.Context, err error) {
	switch {
	case err == nil:
		s.terminate(device.SessionCompleted, nil)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		s.terminate(device.SessionCancelled, device.NewError(device.KindCancelled, "stream", s.deviceID, err))
	default:
		s.terminate(device.SessionFailed, device.FromContext("stream", s.deviceID, err))
	}
}

// terminate moves a non-terminal session to state and releases its slot.
// It reports whether this call made the transition.
func (s *Session) terminate(state device.SessionState, err error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.err = err
	if s.watchdog != nil {
		s.watchdog.Stop()
	}

	batches, samples := s.Stats()
	log := s.logger.WithFields(logrus.Fields{
		"state":   state,
		"batches": batches,
		"samples": samples,
	})
	if state == device.SessionFailed {
		log.WithField("error", err).Error("Stream failed")
	} else {
		log.Info("Stream ended")
	}
	s.notify()
	s.mu.Unlock()

	s.manager.release(s)
	return true
}

func (s *Session) notify() {
	if s.handlers.OnState != nil {
		s.handlers.OnState(s.state, s.err)
	}
}

// Fail terminates a session that was never started, e.g. when negotiation
// failed. It has no effect on an Active or terminal session.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	idle := s.state == device.SessionIdle
	s.mu.Unlock()
	if idle {
		s.terminate(device.SessionFailed, err)
	}
}

// Stop cancels the stream. It is idempotent; once it returns no further batch
// is delivered.
func (s *Session) Stop() {
	if !s.terminate(device.SessionCancelled, device.NewError(device.KindCancelled, "stream", s.deviceID, nil)) {
		return
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if s.deliveryGID.Load() != groutine.GetGID() {
		s.deliveryMu.Lock()
		//nolint:staticcheck // waits out an in-flight delivery
		s.deliveryMu.Unlock()
	}
	if s.manager.barrier != nil {
		s.manager.barrier()
	}
}

// Wait blocks until the transport released the stream. It returns
// immediately for a session that was never started.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}
