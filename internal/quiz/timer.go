package quiz

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type timerHandle struct {
	cancel context.CancelFunc
}

// TimerScheduler drives at most one countdown loop per session. Handles
// are owned exclusively by the scheduler; arming a session atomically
// cancels any loop already running for it, so two loops can never race to
// decrement the same state.
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[string]*timerHandle
	tick    time.Duration
	logger  zerolog.Logger
}

// NewTimerScheduler creates a scheduler with the given tick period.
func NewTimerScheduler(tick time.Duration, logger zerolog.Logger) *TimerScheduler {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &TimerScheduler{
		timers: make(map[string]*timerHandle),
		tick:   tick,
		logger: logger,
	}
}

// TickPeriod returns the configured tick period.
func (s *TimerScheduler) TickPeriod() time.Duration { return s.tick }

// Arm starts a countdown loop for the session, replacing any running one.
// fn is invoked once per tick and returns false to stop the loop (timer
// reached zero or the state is no longer tickable).
func (s *TimerScheduler) Arm(sessionID string, fn func(ctx context.Context) bool) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &timerHandle{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.timers[sessionID]; ok {
		prev.cancel()
		s.logger.Debug().Str("session_id", sessionID).Msg("timer loop replaced")
	}
	s.timers[sessionID] = handle
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !fn(ctx) {
					s.release(sessionID, handle)
					return
				}
			}
		}
	}()
}

// Disarm stops the session's countdown loop, if any.
func (s *TimerScheduler) Disarm(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle, ok := s.timers[sessionID]; ok {
		handle.cancel()
		delete(s.timers, sessionID)
	}
}

// Active reports whether a loop is currently armed for the session.
func (s *TimerScheduler) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

// StopAll cancels every running loop; used during shutdown.
func (s *TimerScheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) > 0 {
		s.logger.Info().Int("loops", len(s.timers)).Msg("stopping timer loops")
	}
	for id, handle := range s.timers {
		handle.cancel()
		delete(s.timers, id)
	}
}

// release drops the handle only if it still belongs to this loop; a newer
// Arm may already have replaced it.
func (s *TimerScheduler) release(sessionID string, handle *timerHandle) {
	handle.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers[sessionID] == handle {
		delete(s.timers, sessionID)
	}
}
