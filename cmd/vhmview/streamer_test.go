package main

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vhm/engine/cull"
	"github.com/Carmen-Shannon/oxy-vhm/engine/heightfield"
	"github.com/Carmen-Shannon/oxy-vhm/engine/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageStreamerQueuesMissingPages(t *testing.T) {
	pt := heightfield.NewMemoryPageTable(8, 8)
	pt.MapLevel(3, 4)
	s := newPageStreamer(pt, 4, 1, 8)

	fb := cull.Feedback{Requests: []uint32{
		cull.PackFeedback(0, 1, 2),
		cull.PackFeedback(0, 1, 2),
		cull.PackFeedback(3, 0, 0),
	}}
	s.SubmitFeedback(heightfield.SurfaceID{}, view.ViewID{}, fb)
	assert.Equal(t, 1, s.Pending(), "duplicates and resident pages are skipped")

	require.Equal(t, 1, s.Pump())
	e := pt.Lookup(0, 1, 2)
	assert.True(t, e.Resident)
	assert.Equal(t, uint32(0), e.Level)
	assert.Equal(t, [2]uint32{1, 0}, [2]uint32{e.PhysX, e.PhysY}, "the first streamed page skips the reserved slot")

	s.SubmitFeedback(heightfield.SurfaceID{}, view.ViewID{}, fb)
	assert.Equal(t, 0, s.Pending(), "mapped pages are not requested again")
}

func TestPageStreamerBudget(t *testing.T) {
	pt := heightfield.NewMemoryPageTable(8, 8)
	s := newPageStreamer(pt, 4, 0, 2)

	var fb cull.Feedback
	for x := range uint32(5) {
		fb.Requests = append(fb.Requests, cull.PackFeedback(0, x, 0))
	}
	s.SubmitFeedback(heightfield.SurfaceID{}, view.ViewID{}, fb)

	assert.Equal(t, 2, s.Pump())
	assert.Equal(t, 2, s.Pump())
	assert.Equal(t, 1, s.Pump())
	assert.Equal(t, 0, s.Pump())
}

func TestPageStreamerEvictsReusedSlots(t *testing.T) {
	pt := heightfield.NewMemoryPageTable(8, 8)
	// a 1x1 physical texture with nothing reserved has a single slot
	s := newPageStreamer(pt, 1, 0, 4)

	s.SubmitFeedback(heightfield.SurfaceID{}, view.ViewID{}, cull.Feedback{Requests: []uint32{
		cull.PackFeedback(0, 0, 0),
		cull.PackFeedback(0, 5, 5),
	}})
	require.Equal(t, 2, s.Pump())

	assert.False(t, pt.Lookup(0, 0, 0).Resident, "the first page lost its slot")
	assert.True(t, pt.Lookup(0, 5, 5).Resident)
}
