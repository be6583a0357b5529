package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/zone"
)

// sseHeartbeatInterval is how often a quiet stream sends a comment so
// proxies and load balancers do not time the connection out.
const sseHeartbeatInterval = 15 * time.Second

// streamEvent is one SSE payload.
type streamEvent struct {
	ZoneID    string         `json:"zone_id"`
	Direction zone.Direction `json:"direction"`
	MemberID  zone.MemberID  `json:"member_id"`
}

// handleEventsStream issues Server-Sent Events for zone transitions as
// they are emitted. Zones registered after the stream opens are not
// included.
// Query params:
//
//	zone_id (optional; defaults to all currently registered zones)
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	var zoneIDs []string
	if zoneID := r.URL.Query().Get("zone_id"); zoneID != "" {
		zoneIDs = []string{zoneID}
	} else {
		for _, z := range s.registry.Zones() {
			zoneIDs = append(zoneIDs, z.ID)
		}
	}

	// Transitions are pushed from reconciliation passes; a slow client
	// must never stall those, so the bridge channel drops when full.
	events := make(chan streamEvent, 64)
	push := func(zoneID string, dir zone.Direction) zone.Callback {
		return func(member zone.MemberID) {
			select {
			case events <- streamEvent{ZoneID: zoneID, Direction: dir, MemberID: member}:
			default:
			}
		}
	}

	var subs []zone.Subscription
	defer func() {
		for _, sub := range subs {
			s.registry.Unsubscribe(sub)
		}
	}()

	for _, zoneID := range zoneIDs {
		entered, err := s.registry.OnEntered(zoneID, push(zoneID, zone.Entered))
		if err != nil {
			httputil.NotFound(w, fmt.Sprintf("zone %s not registered", zoneID))
			return
		}
		subs = append(subs, entered)

		left, err := s.registry.OnLeft(zoneID, push(zoneID, zone.Left))
		if err != nil {
			httputil.NotFound(w, fmt.Sprintf("zone %s not registered", zoneID))
			return
		}
		subs = append(subs, left)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	heartbeat := s.clock.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C():
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
