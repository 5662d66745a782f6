package arq

import (
	"sync"
	"time"
)

// timerEntry is a single armed timer. The generation tells a firing that
// raced with a restart of the same sequence number apart from the current
// one.
type timerEntry struct {
	timer *time.Timer
	gen   uint64
}

// timerService keeps at most one pending retransmission timer per sequence
// number. Expired timers are removed before the expiry callback runs; the
// service never restarts a timer on its own.
type timerService struct {
	onExpire func(seq SeqNum)

	timers  map[SeqNum]*timerEntry
	gen     uint64
	stopped bool

	// wg tracks expiry callbacks that are currently running.
	wg sync.WaitGroup
	mu sync.Mutex
}

// newTimerService creates a timer service that calls onExpire whenever a
// timer fires.
func newTimerService(onExpire func(seq SeqNum)) *timerService {
	return &timerService{
		onExpire: onExpire,
		timers:   make(map[SeqNum]*timerEntry),
	}
}

// start arms the timer for seq, replacing any timer that is already pending
// for it.
func (s *timerService) start(seq SeqNum, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if old, ok := s.timers[seq]; ok {
		old.timer.Stop()
	}

	s.gen++
	gen := s.gen
	s.timers[seq] = &timerEntry{
		timer: time.AfterFunc(d, func() {
			s.fire(seq, gen)
		}),
		gen: gen,
	}
}

// cancel disarms the timer for seq. Cancelling a timer that does not exist
// is a no-op.
func (s *timerService) cancel(seq SeqNum) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.timers[seq]; ok {
		entry.timer.Stop()
		delete(s.timers, seq)
	}
}

// cancelAll disarms every pending timer.
func (s *timerService) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelAllUnsafe()
}

// cancelAllUnsafe disarms every pending timer.
//
// NOTE: the caller must hold the mutex.
func (s *timerService) cancelAllUnsafe() {
	for seq, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, seq)
	}
}

// stop disarms every timer, refuses new ones and waits until expiry
// callbacks that already started have returned. It must not be called while
// holding a lock that the expiry callback acquires.
func (s *timerService) stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelAllUnsafe()
	s.mu.Unlock()

	s.wg.Wait()
}

// active returns the number of armed timers.
func (s *timerService) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

// isActive reports whether a timer is armed for seq.
func (s *timerService) isActive(seq SeqNum) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[seq]
	return ok
}

// fire is run by the runtime timer of a single entry.
func (s *timerService) fire(seq SeqNum, gen uint64) {
	s.mu.Lock()
	entry, ok := s.timers[seq]
	if s.stopped || !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, seq)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	s.onExpire(seq)
}
