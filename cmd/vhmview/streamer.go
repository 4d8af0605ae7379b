package main

import (
	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/gammazero/deque"
)

// pageStreamer consumes collection feedback and maps the requested pages into a ring of
// physical pages, a bounded number per frame. Slots below reserved hold the pages mapped at
// startup and are never reused.
type pageStreamer struct {
	pageTable *heightfield.MemoryPageTable
	pending   deque.Deque[uint32]
	queued    map[uint32]struct{}
	owners    map[uint32]uint32
	perSide   uint32
	reserved  uint32
	budget    int
	next      uint32
}

func newPageStreamer(pt *heightfield.MemoryPageTable, physicalPagesPerSide, reserved uint32, budget int) *pageStreamer {
	perSide := max(physicalPagesPerSide, 1)
	return &pageStreamer{
		pageTable: pt,
		queued:    make(map[uint32]struct{}),
		owners:    make(map[uint32]uint32),
		perSide:   perSide,
		reserved:  min(reserved, perSide*perSide-1),
		budget:    max(budget, 1),
	}
}

func (s *pageStreamer) SubmitFeedback(_ heightfield.SurfaceID, _ view.ViewID, fb cull.Feedback) {
	for _, req := range fb.Requests {
		if _, ok := s.queued[req]; ok {
			continue
		}
		level, x, y := cull.UnpackFeedback(req)
		if e := s.pageTable.Lookup(level, x, y); e.Resident && e.Level == level {
			continue
		}
		s.queued[req] = struct{}{}
		s.pending.PushBack(req)
	}
}

// Pump maps up to the per-frame budget of pending pages and returns how many were mapped.
// Physical slots are reused round robin and the previous page of a reused slot is unmapped.
func (s *pageStreamer) Pump() int {
	n := 0
	for n < s.budget && s.pending.Len() > 0 {
		req := s.pending.PopFront()
		delete(s.queued, req)
		level, x, y := cull.UnpackFeedback(req)
		slot := s.reserved + s.next%(s.perSide*s.perSide-s.reserved)
		if prev, ok := s.owners[slot]; ok {
			pl, px, py := cull.UnpackFeedback(prev)
			s.pageTable.UnmapPage(pl, px, py)
		}
		s.owners[slot] = req
		s.pageTable.MapPage(level, x, y, slot%s.perSide, slot/s.perSide)
		s.next++
		n++
	}
	if n > 0 {
		logs.WithTag("mapped", n).
			WithTag("pending", s.pending.Len()).
			Debug("streamed pages")
	}
	return n
}

// Pending returns the number of requests waiting to be mapped.
func (s *pageStreamer) Pending() int {
	return s.pending.Len()
}
