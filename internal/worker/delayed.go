package worker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs delayed auto-replies. One task is pending per key at a
// time: scheduling over an existing key cancels the earlier task, so a
// chat only ever has its latest delayed reply in flight. Pending tasks
// are abandoned on shutdown; the reply is best-effort by design of the
// delay feature, not a durable obligation.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	log    *zap.Logger
}

// NewScheduler creates a new Scheduler
func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer), log: log}
}

// Schedule queues fn to run after delay, replacing any pending task with
// the same key
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if timer, ok := s.timers[key]; ok {
		timer.Stop()
	}

	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in delayed task", zap.String("key", key), zap.Any("panic", r))
			}
		}()
		fn()
	})
}

// Cancel drops the pending task for a key; safe when nothing is pending
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

// Stop cancels every pending task and rejects new ones
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
