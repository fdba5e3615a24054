package main

import (
	"time"

	"github.com/pkarls/portfwd/internal/state"
	"github.com/pkarls/portfwd/internal/web"
)

// statsView is the JSON shape served by /api/state.
type statsView struct {
	state.Stats
	Now string `json:"now"`
}

func collectStats(s state.Store) statsView {
	return statsView{Stats: s.Stats(), Now: time.Now().UTC().Format(time.RFC3339)}
}

// dashboard converts the stats into the dashboard page's view.
func (s statsView) dashboard() web.Dashboard {
	return web.Dashboard{
		Active:    s.ActiveRelays,
		Total:     s.TotalRelays,
		Rejected:  s.Rejected,
		BytesSent: s.BytesSent,
		BytesRecv: s.BytesRecv,
	}
}
