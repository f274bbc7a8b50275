// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of status-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package valuestore provides segment.go: the pooled, append-only segment
// chain backing the "recent" in-memory tier of a ValueStore.
//
// Adapted from the teacher's pkg/metricstore/buffer.go linked-buffer-chain
// design: fixed-capacity segments are linked oldest (tail, via prev) to
// newest (head), pulled from a mutex-guarded free list (capped at
// maxPoolSize idle segments), and returned to the pool whole once evicted. Unlike the teacher's buffer, a segment here
// holds arbitrary (boxed) timestamped values rather than fixed-frequency
// floats, so there is no slot-index arithmetic: entries are appended in
// arrival order and looked up by binary search.
package valuestore

import (
	"sort"
	"sync"

	"github.com/hereon-wpi/status-server/pkg/tstime"
)

// SegmentCap bounds how many entries a single pooled segment holds before
// a new segment becomes the head of the chain.
const SegmentCap = 1024

// maxPoolSize caps how many idle segments are retained for reuse.
const maxPoolSize = 4096

var segmentPool = &pooledSegments{}

type pooledSegments struct {
	mu   sync.Mutex
	free []*segment
}

func (p *pooledSegments) get() *segment {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return &segment{entries: make([]entry, 0, SegmentCap)}
	}

	s := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return s
}

func (p *pooledSegments) put(s *segment) {
	s.entries = s.entries[:0]
	s.prev = nil
	s.next = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= maxPoolSize {
		return
	}
	p.free = append(p.free, s)
}

// entry is one accepted value keyed by its read timestamp.
type entry struct {
	ts    tstime.Timestamp
	value Value
}

// segment is a fixed-capacity, append-only run of entries. Segments form a
// doubly-linked chain ordered by time: prev points to the older segment,
// next to the newer one. Entries within a segment, and segments within the
// chain, are both monotonically increasing by timestamp (writers only ever
// append values with read_ts >= every value already stored for the
// attribute -- see the engine-level ordering guarantee in spec §5).
type segment struct {
	prev, next *segment
	entries    []entry
}

func newSegment() *segment {
	s := segmentPool.get()
	return s
}

// append adds e to the chain whose newest segment is head, returning the
// (possibly new) head.
func (head *segment) append(e entry) *segment {
	if head == nil {
		s := newSegment()
		s.entries = append(s.entries, e)
		return s
	}
	if len(head.entries) >= cap(head.entries) {
		s := newSegment()
		s.prev = head
		head.next = s
		return s.append(e)
	}
	head.entries = append(head.entries, e)
	return head
}

// first returns the oldest entry reachable from head (walks to the tail).
func (head *segment) first() (entry, bool) {
	s := head
	for s != nil && len(s.entries) == 0 {
		s = s.prev
	}
	if s == nil {
		return entry{}, false
	}
	for s.prev != nil && len(s.prev.entries) > 0 {
		s = s.prev
	}
	if len(s.entries) == 0 {
		return entry{}, false
	}
	return s.entries[0], true
}

// floor returns the greatest entry with ts <= t reachable from head.
func (head *segment) floor(t tstime.Timestamp) (entry, bool) {
	s := head
	for s != nil {
		if len(s.entries) == 0 {
			s = s.prev
			continue
		}
		if s.entries[0].ts <= t {
			idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].ts > t })
			if idx == 0 {
				// every entry in s is > t; the floor (if any) is in an older segment
				s = s.prev
				continue
			}
			return s.entries[idx-1], true
		}
		s = s.prev
	}
	return entry{}, false
}

// ceiling returns the smallest entry with ts >= t reachable from head.
func (head *segment) ceiling(t tstime.Timestamp) (entry, bool) {
	// Walk back to the segment that could contain the ceiling, then scan forward.
	s := head
	var candidate *segment
	for s != nil {
		if len(s.entries) == 0 {
			s = s.prev
			continue
		}
		if s.entries[0].ts >= t {
			candidate = s
			s = s.prev
			continue
		}
		idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].ts >= t })
		if idx < len(s.entries) {
			return s.entries[idx], true
		}
		break
	}
	if candidate != nil {
		return candidate.entries[0], true
	}
	return entry{}, false
}

// sinceInclusive invokes yield for every entry with ts >= t, oldest first.
func (head *segment) sinceInclusive(t tstime.Timestamp, yield func(entry)) {
	var all []*segment
	for s := head; s != nil; s = s.prev {
		all = append(all, s)
	}
	for i := len(all) - 1; i >= 0; i-- {
		s := all[i]
		idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].ts >= t })
		for ; idx < len(s.entries); idx++ {
			yield(s.entries[idx])
		}
	}
}

// all invokes yield for every entry reachable from head, oldest first.
func (head *segment) all(yield func(entry)) {
	head.sinceInclusive(tstime.Timestamp(minInt64), yield)
}

const minInt64 = -1 << 63

// lastTimestamp returns the newest entry's timestamp, or false if empty.
func (head *segment) lastTimestamp() (tstime.Timestamp, bool) {
	s := head
	for s != nil && len(s.entries) == 0 {
		s = s.prev
	}
	if s == nil {
		return 0, false
	}
	return s.entries[len(s.entries)-1].ts, true
}

// cutBefore splits the chain at cut: entries with ts < cut are detached and
// returned (oldest first) for handoff to the persistent tier; the
// remaining chain (ts >= cut) becomes the new head. Fully-drained segments
// are returned to the pool. Returns (newHead, evicted); newHead is nil if
// every entry in the chain was below cut.
func cutBefore(head *segment, cut tstime.Timestamp) (*segment, []entry) {
	if head == nil {
		return nil, nil
	}

	var evicted []entry
	// Walk from the tail forward, detaching whole segments that are
	// entirely below the cut, then splitting the one segment straddling it.
	var chain []*segment
	for s := head; s != nil; s = s.prev {
		chain = append(chain, s)
	}
	// chain is newest->oldest; reverse to oldest->newest.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	var newHead *segment
	for _, s := range chain {
		last := s.entries[len(s.entries)-1].ts
		if last < cut {
			evicted = append(evicted, s.entries...)
			s.prev = nil
			s.next = nil
			segmentPool.put(s)
			continue
		}
		idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].ts >= cut })
		if idx > 0 {
			evicted = append(evicted, s.entries[:idx]...)
			s.entries = append([]entry(nil), s.entries[idx:]...)
		}
		if newHead == nil {
			s.prev = nil
			newHead = s
		} else {
			s.prev = newHead
			newHead.next = s
			newHead = s
		}
	}

	return newHead, evicted
}

// count returns the number of entries reachable from head.
func (head *segment) count() int {
	n := 0
	for s := head; s != nil; s = s.prev {
		n += len(s.entries)
	}
	return n
}
