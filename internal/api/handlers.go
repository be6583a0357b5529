package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/zone"
	"github.com/banshee-data/occupancy.report/internal/zonedb"
)

// zoneInfo is the /api/zones row: static zone identity plus the
// current occupant count.
type zoneInfo struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Regions []zone.RegionID `json:"regions"`
	Count   int             `json:"count"`
}

// membersResponse externalizes one zone's membership set. Members maps
// member ID to true, and Count always equals the number of keys.
type membersResponse struct {
	ZoneID  string         `json:"zone_id"`
	Count   int            `json:"count"`
	Members zone.MemberSet `json:"members"`
}

// handleZones returns every registered zone with its occupant count.
func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	zones := s.registry.Zones()
	infos := make([]zoneInfo, 0, len(zones))
	for _, z := range zones {
		count, err := s.registry.Count(z.ID)
		if err != nil {
			// Disposed between listing and counting; skip it.
			continue
		}
		infos = append(infos, zoneInfo{
			ID:      z.ID,
			Name:    z.Name,
			Regions: z.Regions,
			Count:   count,
		})
	}

	httputil.WriteJSONOK(w, infos)
}

// handleZoneMembers returns one zone's membership set in map form.
// Query params:
//
//	zone_id (required)
func (s *Server) handleZoneMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	zoneID := r.URL.Query().Get("zone_id")
	if zoneID == "" {
		httputil.BadRequest(w, "missing 'zone_id' parameter")
		return
	}

	members, err := s.registry.Members(zoneID)
	if err != nil {
		if errors.Is(err, zone.ErrZoneNotRegistered) {
			httputil.NotFound(w, fmt.Sprintf("zone %s not registered", zoneID))
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}

	httputil.WriteJSONOK(w, membersResponse{
		ZoneID:  zoneID,
		Count:   len(members),
		Members: zone.NewMemberSet(members...),
	})
}

// handleZoneSummary returns one zone's occupancy statistics.
// Query params:
//
//	zone_id (required)
func (s *Server) handleZoneSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	zoneID := r.URL.Query().Get("zone_id")
	if zoneID == "" {
		httputil.BadRequest(w, "missing 'zone_id' parameter")
		return
	}

	summary, err := s.registry.Summary(zoneID)
	if err != nil {
		if errors.Is(err, zone.ErrZoneNotRegistered) {
			httputil.NotFound(w, fmt.Sprintf("zone %s not registered", zoneID))
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}

	httputil.WriteJSONOK(w, summary)
}

// handleReconcile forces an immediate reconciliation pass, bypassing
// the debounce gate, and returns the resulting delta.
// Query params:
//
//	zone_id (required)
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	zoneID := r.URL.Query().Get("zone_id")
	if zoneID == "" {
		httputil.BadRequest(w, "missing 'zone_id' parameter")
		return
	}

	delta, err := s.registry.ReconcileNow(zoneID)
	if err != nil {
		if errors.Is(err, zone.ErrZoneNotRegistered) {
			httputil.NotFound(w, fmt.Sprintf("zone %s not registered", zoneID))
			return
		}
		httputil.BadGateway(w, fmt.Sprintf("reconcile: %v", err))
		return
	}

	httputil.WriteJSONOK(w, delta)
}

// handleEvents returns journalled transition events, newest first.
// Query params:
//
//	zone_id (optional)
//	direction (optional, "entered" or "left")
//	since (optional, RFC3339)
//	limit (optional, default 100, max 1000)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "event journal not configured")
		return
	}

	q := zonedb.EventQuery{ZoneID: r.URL.Query().Get("zone_id")}

	if dir := r.URL.Query().Get("direction"); dir != "" {
		if dir != string(zone.Entered) && dir != string(zone.Left) {
			httputil.BadRequest(w, fmt.Sprintf("invalid direction %q", dir))
			return
		}
		q.Direction = zone.Direction(dir)
	}

	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'since' timestamp: %v", err))
			return
		}
		q.Since = ts
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'limit' %q", limit))
			return
		}
		q.Limit = n
	}

	events, err := s.db.ListEvents(q)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list events: %v", err))
		return
	}
	if events == nil {
		events = []zonedb.TransitionEvent{}
	}

	httputil.WriteJSONOK(w, events)
}
