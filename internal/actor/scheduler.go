// Atlaswire - Open Data Integration Framework for Live Geospatial Feeds
// Copyright 2026 The Atlaswire Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/atlaswire/atlaswire

package actor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/atlaswire/atlaswire/internal/metrics"
)

// Token identifies a scheduled message for cancellation.
type Token uint64

// schedEntry is one pending schedule. fire delivers the payload via
// try-send; a false return means the delivery was dropped (receiver gone
// or mailbox full), which is counted but never retried.
type schedEntry struct {
	deadline time.Time
	seq      uint64 // FIFO tie-break for equal deadlines
	token    Token
	interval time.Duration // zero for one-shot
	canceled bool
	fire     func(missed int) bool
	index    int
}

type schedHeap []*schedEntry

func (h schedHeap) Len() int { return len(h) }
func (h schedHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h schedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *schedHeap) Push(x any) {
	e := x.(*schedEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *schedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler is the process-wide timer service owned by an actor system.
// It delivers messages to actor handles at or after a deadline, ordered by
// deadline with FIFO tie-break on insertion.
//
// The scheduler is an ambient component of the system, not an actor:
// making it an actor would let schedules reentrantly schedule into their
// own delivery path.
type Scheduler struct {
	granularity time.Duration

	mu      sync.Mutex
	queue   schedHeap
	tokens  map[Token]*schedEntry
	nextTok Token
	nextSeq uint64

	wake chan struct{}
	done chan struct{}
	stop1 sync.Once
}

func newScheduler(granularity time.Duration) *Scheduler {
	s := &Scheduler{
		granularity: granularity,
		tokens:      make(map[Token]*schedEntry),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// ScheduleOnce delivers msg to h once, delay from now.
func ScheduleOnce[M any](s *Scheduler, h *Handle[M], msg M, delay time.Duration) Token {
	return s.add(time.Now().Add(delay), 0, func(int) bool {
		return h.TrySend(msg) == nil
	})
}

// ScheduleRepeating delivers msg to h after initial, then every interval.
// A schedule that has fallen behind by k intervals fires once, not k
// times; the collapse is recorded in metrics.
func ScheduleRepeating[M any](s *Scheduler, h *Handle[M], msg M, initial, interval time.Duration) Token {
	return ScheduleRepeatingFunc(s, h, func(int) M { return msg }, initial, interval)
}

// ScheduleRepeatingFunc is ScheduleRepeating with a payload builder that
// receives the number of missed intervals coalesced into this fire
// (zero when on time).
func ScheduleRepeatingFunc[M any](s *Scheduler, h *Handle[M], build func(missed int) M, initial, interval time.Duration) Token {
	if interval <= 0 {
		interval = s.granularity
	}
	return s.add(time.Now().Add(initial), interval, func(missed int) bool {
		return h.TrySend(build(missed)) == nil
	})
}

func (s *Scheduler) add(deadline time.Time, interval time.Duration, fire func(int) bool) Token {
	s.mu.Lock()
	s.nextTok++
	s.nextSeq++
	e := &schedEntry{
		deadline: deadline,
		seq:      s.nextSeq,
		token:    s.nextTok,
		interval: interval,
		fire:     fire,
	}
	heap.Push(&s.queue, e)
	s.tokens[e.token] = e
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return e.token
}

// Cancel prevents future deliveries for t. O(1): the entry is tombstoned
// and skipped at fire time. Canceling an already-fired one-shot or an
// unknown token is a no-op.
func (s *Scheduler) Cancel(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tokens[t]; ok {
		e.canceled = true
		delete(s.tokens, t)
	}
}

// Pending returns the number of live schedules.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Scheduler) stop() {
	s.stop1.Do(func() { close(s.done) })
}

// run drains the deadline queue. Uses the process monotonic clock
// (time.Time comparisons in Go are monotonic); wall-clock drift is
// irrelevant.
func (s *Scheduler) run() {
	timer := time.NewTimer(s.granularity)
	defer timer.Stop()

	for {
		now := time.Now()
		fires, next := s.collect(now)

		for _, f := range fires {
			if !f.fire(f.missed) {
				metrics.SchedulerDroppedFires.Inc()
			}
		}

		wait := s.granularity
		if !next.IsZero() {
			if until := time.Until(next); until > wait {
				wait = until
			}
		} else if len(fires) == 0 {
			// Idle: sleep until a new schedule arrives.
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

type pendingFire struct {
	fire   func(int) bool
	missed int
}

// collect pops every due entry, requeues repeating ones with missed
// intervals coalesced, and returns the next deadline.
func (s *Scheduler) collect(now time.Time) ([]pendingFire, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fires []pendingFire
	for len(s.queue) > 0 && !s.queue[0].deadline.After(now) {
		e := heap.Pop(&s.queue).(*schedEntry)
		if e.canceled {
			continue
		}
		if e.interval <= 0 {
			delete(s.tokens, e.token)
			fires = append(fires, pendingFire{fire: e.fire})
			continue
		}

		// Repeating: advance past now, collapsing missed intervals into
		// one fire to prevent storms after a stall.
		missed := 0
		next := e.deadline.Add(e.interval)
		for !next.After(now) {
			next = next.Add(e.interval)
			missed++
		}
		if missed > 0 {
			metrics.SchedulerCoalescedFires.Add(float64(missed))
		}
		e.deadline = next
		s.nextSeq++
		e.seq = s.nextSeq
		heap.Push(&s.queue, e)
		fires = append(fires, pendingFire{fire: e.fire, missed: missed})
	}

	var next time.Time
	if len(s.queue) > 0 {
		next = s.queue[0].deadline
	}
	return fires, next
}
