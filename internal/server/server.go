// Package server provides the HTTP API: guide windows, sync status and
// the internal sync trigger endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/lineup"
	"github.com/snapetech/iptvguide/internal/store"
	"github.com/snapetech/iptvguide/internal/trigger"
)

// Stats is the slice of the schedule store the status endpoint reads.
type Stats interface {
	ChannelStats(ctx context.Context) ([]store.ChannelStat, error)
}

// Server is the HTTP API server.
type Server struct {
	guide   *guide.Engine
	stats   Stats
	lineup  *lineup.Lineup
	trigger *trigger.Trigger
	router  chi.Router
}

// New wires the API routes.
func New(engine *guide.Engine, stats Stats, ln *lineup.Lineup, tr *trigger.Trigger) *Server {
	s := &Server{
		guide:   engine,
		stats:   stats,
		lineup:  ln,
		trigger: tr,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/guide", s.handleGuide)
	r.Get("/guide/{channelID}", s.handleGuideChannel)
	r.Get("/status", s.handleStatus)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/internal/sync", s.handleSync)

	s.router = r
}

// Router returns the http.Handler; the caller owns the http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

// window is the resolved query window for a guide request.
type window struct {
	NowMS   int64 `json:"now_ms"`
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`
}

// parseWindow resolves now/from/to query params (epoch milliseconds).
// Defaults: now = wall clock, from = now-1h, to = now+24h.
func parseWindow(r *http.Request) (window, error) {
	q := r.URL.Query()
	w := window{NowMS: time.Now().UnixMilli()}
	var err error
	if v := q.Get("now"); v != "" {
		if w.NowMS, err = strconv.ParseInt(v, 10, 64); err != nil {
			return w, errBadParam("now", v)
		}
	}
	w.StartMS = w.NowMS - 3_600_000
	w.EndMS = w.NowMS + 24*3_600_000
	if v := q.Get("from"); v != "" {
		if w.StartMS, err = strconv.ParseInt(v, 10, 64); err != nil {
			return w, errBadParam("from", v)
		}
	}
	if v := q.Get("to"); v != "" {
		if w.EndMS, err = strconv.ParseInt(v, 10, 64); err != nil {
			return w, errBadParam("to", v)
		}
	}
	if w.EndMS <= w.StartMS {
		return w, errBadParam("to", "window must end after it starts")
	}
	return w, nil
}

type paramError struct{ name, detail string }

func (e paramError) Error() string { return "invalid " + e.name + ": " + e.detail }

func errBadParam(name, detail string) error { return paramError{name, detail} }

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var ids []string
	if raw := r.URL.Query().Get("channels"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	} else {
		ids = s.lineup.EPGChannelIDs()
	}

	channels, err := s.guide.ProgramsForChannels(r.Context(), ids, win.StartMS, win.EndMS, win.NowMS)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "guide query failed")
		return
	}
	// Channels with nothing stored get the synthetic placeholder entry so
	// the player always has a row to show.
	for id, progs := range channels {
		if len(progs) == 0 {
			channels[id] = []guide.Projection{guide.Placeholder(win.NowMS)}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window":   win,
		"channels": channels,
	})
}

func (s *Server) handleGuideChannel(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	channelID := chi.URLParam(r, "channelID")
	progs, err := s.guide.ProgramsForChannel(r.Context(), channelID, win.StartMS, win.EndMS, win.NowMS)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "guide query failed")
		return
	}
	if len(progs) == 0 {
		progs = []guide.Projection{guide.Placeholder(win.NowMS)}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window":   win,
		"channel":  channelID,
		"programs": progs,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.ChannelStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	totalPrograms := 0
	perChannel := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		totalPrograms += st.Programs
		perChannel = append(perChannel, map[string]any{
			"channel_id":   st.ChannelID,
			"display_name": st.DisplayName,
			"programs":     st.Programs,
			"earliest_ms":  st.EarliestMS,
			"latest_ms":    st.LatestMS,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels":    len(stats),
		"programs":    totalPrograms,
		"per_channel": perChannel,
		"lineup":      len(s.lineup.All()),
		"sync":        s.trigger.Status(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSync starts a background sync. At most one runs at a time; a
// request that arrives mid-run is dropped with 409.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.trigger.Kick(context.WithoutCancel(r.Context())) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}
	writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
