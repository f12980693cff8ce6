package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fullcal/internal/calendar"
	"fullcal/internal/config"
	"fullcal/internal/ics"
	appLog "fullcal/internal/log"
)

// Server binds one Calendar component to HTTP. It serves the embedded widget
// page, the entry CRUD API the page talks to, the DOM-event bridge, the ICS
// feed export and the preview image.
//
// The Calendar itself is single-threaded; calMu serializes every access to
// it, including the import bookkeeping, so concurrent HTTP requests cannot
// interleave inside it.
type Server struct {
	cfg   *config.Config
	debug bool
	mux   *http.ServeMux

	calMu sync.Mutex
	cal   *calendar.Calendar
	// imported maps source id -> entry ids owned by that source, so a
	// refresh replaces exactly the entries it put there and nothing else.
	imported    map[string][]string
	lastRefresh time.Time

	fetcher *ics.Fetcher
}

// embeddedStatic holds the built-in widget page.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server around a fresh, empty Calendar.
func NewServer(cfg *config.Config, debug bool) *Server {
	cacheDir := "/var/lib/fullcal/feed-cache"
	if debug {
		cacheDir = "./cache/feed-cache"
	}
	s := &Server{
		cfg:      cfg,
		debug:    debug,
		mux:      http.NewServeMux(),
		cal:      calendar.NewCalendar(),
		imported: make(map[string][]string),
		fetcher:  ics.NewFetcher(cacheDir),
	}
	s.registerRoutes()
	return s
}

// Calendar exposes the underlying component so startup code can register
// event handlers. Handlers fire while the server holds its lock; keep them
// quick and never call back into the server from one.
func (s *Server) Calendar() *calendar.Calendar {
	return s.cal
}

// Handler returns the http.Handler for this server, with basic auth wrapped
// around it when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "user", s.cfg.Auth.Username)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.Auth == nil {
		return false
	}
	// 사용자명이나 해시가 비어 있으면 비활성화로 취급한다.
	return s.cfg.Auth.Username != "" && s.cfg.Auth.PasswordHash != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic
// Auth, verifying the password against the configured argon2id hash.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.Auth.Username
	passwordHash := s.cfg.Auth.PasswordHash

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		userMatch := ok && secureCompare(u, username)
		passMatch := false
		if userMatch {
			var err error
			if passMatch, err = VerifyPassword(p, passwordHash); err != nil {
				appLog.Error("password verification failed", err)
				passMatch = false
			}
		}
		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="fullcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/entries", s.handleListEntries)
	s.mux.HandleFunc("POST /api/entries", s.handleCreateEntry)
	// Imported entry ids embed "/", so the id segment must span the rest
	// of the path.
	s.mux.HandleFunc("GET /api/entries/{id...}", s.handleGetEntry)
	s.mux.HandleFunc("PATCH /api/entries/{id...}", s.handlePatchEntry)
	s.mux.HandleFunc("DELETE /api/entries/{id...}", s.handleDeleteEntry)

	s.mux.HandleFunc("POST /api/events/{name}", s.handleClientEvent)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/feed.ics", s.handleFeed)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)

	// Everything else falls through to the embedded widget page.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListEntries returns entries as the plain JSON array the widget
// consumes. With start/end query parameters (wire date format) only entries
// overlapping that range are returned.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromStr, toStr := q.Get("start"), q.Get("end")

	var from, to time.Time
	ranged := fromStr != "" || toStr != ""
	if ranged {
		if fromStr == "" || toStr == "" {
			writeError(w, http.StatusBadRequest, "start and end must be given together")
			return
		}
		var err error
		if from, err = parseRangeParam(fromStr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
			return
		}
		if to, err = parseRangeParam(toStr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
			return
		}
	}

	s.calMu.Lock()
	var entries []*calendar.Entry
	if ranged {
		entries = s.cal.EntriesBetween(from, to)
	} else {
		entries = s.cal.Entries()
	}
	objs := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		objs = append(objs, e.ToJSON())
	}
	s.calMu.Unlock()

	writeJSON(w, http.StatusOK, objs)
}

// parseRangeParam reads a feed range boundary. The widget's own feed
// requests carry offset-bearing ISO8601 strings (FullCalendar sends
// "2025-07-27T00:00:00+09:00" with its default timeZone 'local'), so the
// wire formats get an RFC3339 fallback here. Entry fields stay on the
// unzoned wire codec; this applies to the start/end query params only.
func parseRangeParam(s string) (time.Time, error) {
	t, err := calendar.ParseDateTime(s)
	if err == nil {
		return t, nil
	}
	if t, err2 := time.Parse(time.RFC3339, s); err2 == nil {
		return t, nil
	}
	return time.Time{}, err
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	obj, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// id 없이 보내면 서버가 새로 발급한다.
	if v, ok := obj["id"]; !ok || v == nil || v == "" {
		obj["id"] = uuid.NewString()
	}

	e, err := calendar.FromJSON(obj)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	s.calMu.Lock()
	added := s.cal.AddEntry(e)
	var body map[string]any
	if added {
		body = e.ToJSON()
	}
	s.calMu.Unlock()

	if !added {
		writeError(w, http.StatusConflict, "an entry with that id already exists")
		return
	}
	appLog.Debug("entry created", "entry", e.ID())
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.calMu.Lock()
	e, ok := s.cal.EntryByID(id)
	var body map[string]any
	if ok {
		body = e.ToJSON()
	}
	s.calMu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "no entry with that id")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// handlePatchEntry merges a change-set into one entry. A body without an id
// inherits the path id; a body with a different id is a conflict.
func (s *Server) handlePatchEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	obj, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v, ok := obj["id"]; !ok || v == nil {
		obj["id"] = id
	}

	s.calMu.Lock()
	e, ok := s.cal.EntryByID(id)
	if !ok {
		s.calMu.Unlock()
		writeError(w, http.StatusNotFound, "no entry with that id")
		return
	}
	err = e.Update(obj)
	var body map[string]any
	if err == nil {
		body = e.ToJSON()
	}
	s.calMu.Unlock()

	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.calMu.Lock()
	e, ok := s.cal.EntryByID(id)
	if ok {
		s.cal.RemoveEntry(e)
	}
	s.calMu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "no entry with that id")
		return
	}
	appLog.Debug("entry removed", "entry", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleClientEvent is the DOM-event bridge: the widget page posts its
// interaction events here and the Calendar routes them to the registered
// handlers.
func (s *Server) handleClientEvent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	detail, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.calMu.Lock()
	err = s.cal.DispatchClientEvent(name, detail)
	s.calMu.Unlock()

	if err != nil {
		appLog.Debug("client event rejected", "event", name, "reason", err.Error())
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatched": name})
}

// handleStatus reports calendar totals for the UI and for monitoring.
// last_refresh is null until the first refresh completes.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.calMu.Lock()
	body := map[string]any{
		"entries":      s.cal.Count(),
		"sources":      len(s.cfg.Sources),
		"last_refresh": nil,
	}
	if !s.lastRefresh.IsZero() {
		body["last_refresh"] = s.lastRefresh.Format(time.RFC3339)
	}
	s.calMu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleFeed(w http.ResponseWriter, _ *http.Request) {
	s.calMu.Lock()
	feed := ics.BuildFeed("fullcal", s.cal.Entries(), time.Now())
	s.calMu.Unlock()

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(feed))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Refresh(r.Context()))
}

// RefreshResult summarizes one import run.
type RefreshResult struct {
	Sources   int      `json:"sources"`
	Entries   int      `json:"entries"`
	Truncated []string `json:"truncated,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Refresh fetches every configured source and swaps its imported entries
// into the Calendar. Sources that fail keep their previous entries; the
// cron loop and POST /api/refresh both come through here.
func (s *Server) Refresh(ctx context.Context) RefreshResult {
	var out RefreshResult

	sources := s.configSources()
	if len(sources) == 0 {
		appLog.Debug("refresh skipped, no sources configured")
		return out
	}

	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := time.Now().In(loc)
	expandCfg := ics.ExpandConfig{
		Location:   loc,
		RangeStart: now.AddDate(0, 0, -s.cfg.BackfillDays),
		RangeEnd:   now.AddDate(0, 0, s.cfg.HorizonDays),
	}

	results, fetchErrs := s.fetcher.FetchAll(ctx, sources)
	for _, err := range fetchErrs {
		out.Errors = append(out.Errors, err.Error())
	}

	for _, res := range results {
		expanded, err := ics.EntriesFromICS(res.Source, res.Body, expandCfg)
		if err != nil {
			appLog.Error("source import failed", err, "source", res.Source.ID)
			out.Errors = append(out.Errors, res.Source.ID+": "+err.Error())
			continue
		}
		out.Sources++
		out.Entries += s.replaceImported(res.Source.ID, expanded.Entries)
		out.Truncated = append(out.Truncated, expanded.Truncated...)
	}

	s.calMu.Lock()
	s.lastRefresh = time.Now()
	total := s.cal.Count()
	s.calMu.Unlock()

	appLog.Info("sources refreshed",
		"sources", out.Sources,
		"imported", out.Entries,
		"total_entries", total,
		"errors", len(out.Errors),
	)
	return out
}

// replaceImported swaps the entries owned by one source and returns how many
// it owns afterwards.
func (s *Server) replaceImported(sourceID string, entries []*calendar.Entry) int {
	s.calMu.Lock()
	defer s.calMu.Unlock()

	for _, id := range s.imported[sourceID] {
		if e, ok := s.cal.EntryByID(id); ok {
			s.cal.RemoveEntry(e)
		}
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !s.cal.AddEntry(e) {
			// Same id from another source, or a manual entry, wins.
			appLog.Debug("skipping duplicate imported entry", "source", sourceID, "entry", e.ID())
			continue
		}
		ids = append(ids, e.ID())
	}
	s.imported[sourceID] = ids
	return len(ids)
}

func (s *Server) configSources() []ics.Source {
	sources := make([]ics.Source, 0, len(s.cfg.Sources))
	for _, src := range s.cfg.Sources {
		if src.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{ID: src.ID, Name: src.Name, URL: src.URL, Color: src.Color})
	}
	return sources
}

// PreviewPath resolves where the capture output lives. cmd/fullcald writes
// there and handlePreview serves from there.
func PreviewPath(cfg *config.Config, debug bool) string {
	if cfg != nil && cfg.Preview.Output != "" {
		return cfg.Preview.Output
	}
	if debug {
		return "./cache/preview.png"
	}
	return "/var/lib/fullcal/preview.png"
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// ServeFile 이 파일 존재/권한 문제를 적절한 상태코드로 돌려준다.
	http.ServeFile(w, r, PreviewPath(s.cfg, s.debug))
}

// staticFileServer serves the embedded widget page for all paths that are
// not API routes.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("embedded static filesystem unavailable", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /api/* 는 정적 UI로 서빙하지 않는다.
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// decodeObject reads the request body as one JSON object.
func decodeObject(r *http.Request) (map[string]any, error) {
	var obj map[string]any
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if obj == nil {
		return nil, errors.New("expected a JSON object")
	}
	return obj, nil
}

// statusForError maps the calendar error taxonomy onto HTTP status codes.
// An unknown event name is malformed input (400), not a missing resource;
// only a missing entry is a 404.
func statusForError(err error) int {
	switch {
	case errors.Is(err, calendar.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, calendar.ErrIDMismatch):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone, falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
