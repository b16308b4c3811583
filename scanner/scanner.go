// Package scanner provides the reusable periodic task abstraction from
// spec §4.6: a ticker that, on each tick, fetches a collection (which may
// atomically swap the collection out of the thing being scanned) and
// invokes a per-entry callback. cmd/routerd runs the peer pruner and peer
// reaper as instances of this one abstraction (its service purger and
// stats emitter are plain ticker loops), following the same
// maintenance-ticker shape the teacher's RelayManager uses for its own
// background upkeep loop.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/omgolab/go-commons/pkg/log"
)

// Entry is one (key, value) pair handed to Each during a tick.
type Entry struct {
	Key   string
	Value any
}

// Collection is returned by GetCollection for one tick.
type Collection []Entry

// RunBeginListener is notified with the tick's key set before Each is
// invoked for any entry, matching §4.6's `runBegin({keys})` event.
type RunBeginListener func(keys []string)

// Scanner runs GetCollection/Each on a fixed interval until stopped.
// Interval can be changed at runtime; setting it to 0 disables the
// scanner without tearing down its goroutine.
type Scanner struct {
	name          string
	log           glog.Logger
	getCollection func() Collection
	each          func(key string, value any, now time.Time)
	onRunBegin    RunBeginListener

	mu       sync.Mutex
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Scanner. getCollection is called once per tick and may
// mutate/swap out the underlying collection (peerstate's RotateReap and
// RotatePrune are both of this shape). each is invoked once per entry
// returned.
func New(name string, log glog.Logger, interval time.Duration, getCollection func() Collection, each func(key string, value any, now time.Time)) *Scanner {
	return &Scanner{
		name:          name,
		log:           log,
		getCollection: getCollection,
		each:          each,
		interval:      interval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// OnRunBegin registers the runBegin listener. Must be called before Start.
func (s *Scanner) OnRunBegin(l RunBeginListener) {
	s.onRunBegin = l
}

// SetInterval changes the tick period; 0 disables scanning until a
// subsequent positive SetInterval call.
func (s *Scanner) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

func (s *Scanner) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start runs the scan loop until ctx is done or Stop is called. Panics
// inside a single tick's Each callback are recovered and logged so one bad
// entry cannot kill the scanner, mirroring the teacher's maintenance
// goroutine restart-on-panic behavior.
func (s *Scanner) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)

	for {
		interval := s.currentInterval()
		if interval <= 0 {
			interval = time.Second
		}
		timer := time.NewTimer(interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			if s.currentInterval() > 0 {
				s.tick()
			}
		}
	}
}

func (s *Scanner) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Sprintf("%s scanner tick panicked", s.name), fmt.Errorf("%v", r))
		}
	}()

	now := time.Now()
	collection := s.getCollection()

	if s.onRunBegin != nil {
		keys := make([]string, len(collection))
		for i, e := range collection {
			keys[i] = e.Key
		}
		s.onRunBegin(keys)
	}

	for _, e := range collection {
		s.runEach(e, now)
	}
}

func (s *Scanner) runEach(e Entry, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Sprintf("%s scanner entry %q panicked", s.name, e.Key), fmt.Errorf("%v", r))
		}
	}()
	s.each(e.Key, e.Value, now)
}

// Stop halts the scan loop and waits for the in-flight tick, if any, to
// finish.
func (s *Scanner) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
