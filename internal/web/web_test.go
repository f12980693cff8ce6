package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fullcal/internal/calendar"
	"fullcal/internal/config"
	"fullcal/internal/ics"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(config.DefaultConfig(), true)
	s.fetcher = ics.NewFetcher(t.TempDir())
	return s
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func objFromBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var obj map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &obj); err != nil {
		t.Fatalf("decode object: %v (%s)", err, rec.Body.String())
	}
	return obj
}

func arrFromBody(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var arr []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &arr); err != nil {
		t.Fatalf("decode array: %v (%s)", err, rec.Body.String())
	}
	return arr
}

func TestHealth(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestEntryCRUD(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{
		"id":    "e1",
		"title": "Dentist",
		"start": "2023-05-01T10:00",
		"end":   "2023-05-01T11:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	created := objFromBody(t, rec)
	if created["id"] != "e1" || created["title"] != "Dentist" || created["start"] != "2023-05-01T10:00" {
		t.Errorf("created = %v", created)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/entries", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if list := arrFromBody(t, rec); len(list) != 1 || list[0]["id"] != "e1" {
		t.Errorf("list = %v", list)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/entries/e1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/entries/e1", map[string]any{
		"title": "Dentist (moved)",
		"start": "2023-05-02T10:00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", rec.Code, rec.Body.String())
	}
	patched := objFromBody(t, rec)
	if patched["title"] != "Dentist (moved)" || patched["start"] != "2023-05-02T10:00" {
		t.Errorf("patched = %v", patched)
	}
	// Absent keys keep their values.
	if patched["end"] != "2023-05-01T11:00" {
		t.Errorf("end should be untouched, got %v", patched["end"])
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/entries/e1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/entries/e1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/entries/e1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", rec.Code)
	}
}

func TestCreateGeneratesID(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"title": "No id"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	created := objFromBody(t, rec)
	id, _ := created["id"].(string)
	if id == "" {
		t.Errorf("server should assign an id, got %v", created["id"])
	}
}

func TestCreateRejectsDuplicateAndGarbage(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"id": "dup"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"id": "dup"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"id": "bad", "start": "not-a-date"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date create = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/entries", bytes.NewReader([]byte("{broken")))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("broken body = %d, want 400", rec2.Code)
	}
}

func TestPatchErrorMapping(t *testing.T) {
	h := newTestServer(t).Handler()
	doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"id": "e1", "title": "x"})

	rec := doJSON(t, h, http.MethodPatch, "/api/entries/ghost", map[string]any{"title": "y"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", rec.Code)
	}

	// A body id disagreeing with the path id is a conflict.
	rec = doJSON(t, h, http.MethodPatch, "/api/entries/e1", map[string]any{"id": "e2", "title": "y"})
	if rec.Code != http.StatusConflict {
		t.Errorf("mismatched id = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/entries/e1", map[string]any{"start": "garbage"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/entries/e1", map[string]any{"editable": "yes"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type = %d, want 400", rec.Code)
	}
}

func TestListEntriesRange(t *testing.T) {
	h := newTestServer(t).Handler()
	doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"id": "may", "start": "2023-05-01T10:00"})
	doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"id": "june", "start": "2023-06-01T10:00"})

	rec := doJSON(t, h, http.MethodGet, "/api/entries?start=2023-05-01&end=2023-05-31", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ranged list = %d", rec.Code)
	}
	if list := arrFromBody(t, rec); len(list) != 1 || list[0]["id"] != "may" {
		t.Errorf("ranged list = %v", list)
	}

	// FullCalendar's feed requests carry offset-bearing ISO8601 boundaries;
	// the range params must accept them alongside the wire forms.
	rec = doJSON(t, h, http.MethodGet, "/api/entries?start=2023-04-30T00:00:00%2B09:00&end=2023-05-31T00:00:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("offset-bearing range = %d %s", rec.Code, rec.Body.String())
	}
	if list := arrFromBody(t, rec); len(list) != 1 || list[0]["id"] != "may" {
		t.Errorf("offset-bearing range list = %v", list)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/entries?start=2023-05-01", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("start without end = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/entries?start=nope&end=2023-05-31", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad start = %d, want 400", rec.Code)
	}
}

func TestClientEventBridge(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	var clicks []calendar.TimeslotClickedEvent
	s.Calendar().OnTimeslotClicked(func(ev calendar.TimeslotClickedEvent) { clicks = append(clicks, ev) })
	var moved []calendar.EntryMovedEvent
	s.Calendar().OnEntryMoved(func(ev calendar.EntryMovedEvent) { moved = append(moved, ev) })

	rec := doJSON(t, h, http.MethodPost, "/api/events/dateClick", map[string]any{"date": "2023-05-01T10:30", "allDay": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("dateClick = %d %s", rec.Code, rec.Body.String())
	}
	if len(clicks) != 1 || clicks[0].Date != "2023-05-01T10:30" || !clicks[0].FromClient {
		t.Errorf("clicks = %+v", clicks)
	}

	doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{
		"id": "e1", "title": "Meeting", "start": "2023-05-01T10:00", "end": "2023-05-01T11:00", "editable": true,
	})
	rec = doJSON(t, h, http.MethodPost, "/api/events/eventDrop", map[string]any{
		"data":  map[string]any{"id": "e1", "start": "2023-05-02T10:00", "end": "2023-05-02T11:00"},
		"delta": map[string]any{"days": 1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("eventDrop = %d %s", rec.Code, rec.Body.String())
	}
	if len(moved) != 1 || moved[0].Delta.Days != 1 {
		t.Errorf("moved = %+v", moved)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/entries/e1", nil)
	if got := objFromBody(t, rec)["start"]; got != "2023-05-02T10:00" {
		t.Errorf("drop did not stick, start = %v", got)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/events/eventClick", map[string]any{"id": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown entry click = %d, want 404", rec.Code)
	}
	// An unknown event name is bad input, not a missing resource.
	rec = doJSON(t, h, http.MethodPost, "/api/events/wiggle", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown event = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/events/dateClick", map[string]any{"allDay": true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing date = %d, want 400", rec.Code)
	}
}

func TestFeedEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()
	doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{
		"id": "e1", "title": "Exported", "start": "2023-05-01T10:00",
	})

	rec := doJSON(t, h, http.MethodGet, "/api/feed.ics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("feed = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/calendar; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte("UID:e1")) || !bytes.Contains([]byte(body), []byte("SUMMARY:Exported")) {
		t.Errorf("feed missing entry:\n%s", body)
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Auth = &config.AuthConfig{Username: "admin", PasswordHash: hash}
	s := NewServer(cfg, true)
	s.fetcher = ics.NewFetcher(t.TempDir())
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/entries", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 should carry WWW-Authenticate")
	}

	// /health stays open.
	rec = doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health with auth enabled = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/entries", nil)
	req.SetBasicAuth("admin", "wrong")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", rec2.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/entries", nil)
	req.SetBasicAuth("admin", "hunter2")
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("correct password = %d, want 200", rec2.Code)
	}
}

func TestRefreshImportsAndReplaces(t *testing.T) {
	today := time.Now().UTC().Format("20060102")
	feedBody := func(uid, summary string) string {
		return fmt.Sprintf("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nBEGIN:VEVENT\r\nUID:%s\r\nSUMMARY:%s\r\nDTSTART:%sT090000Z\r\nDTEND:%sT100000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n", uid, summary, today, today)
	}

	current := feedBody("upstream-1", "First version")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(current))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Sources = []config.SourceConfig{{ID: "up", Name: "Upstream", URL: srv.URL, Color: "#3788d8"}}
	s := NewServer(cfg, true)
	s.fetcher = ics.NewFetcher(t.TempDir())
	h := s.Handler()

	// A manual entry must survive refreshes.
	doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"id": "manual", "title": "Mine"})

	rec := doJSON(t, h, http.MethodPost, "/api/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d %s", rec.Code, rec.Body.String())
	}
	res := objFromBody(t, rec)
	if res["sources"] != float64(1) || res["entries"] != float64(1) {
		t.Errorf("refresh result = %v", res)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/status", nil)
	if status := objFromBody(t, rec); status["last_refresh"] == nil {
		t.Error("last_refresh should be set after a completed refresh")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/entries", nil)
	list := arrFromBody(t, rec)
	if len(list) != 2 {
		t.Fatalf("after refresh: %d entries, want manual + imported", len(list))
	}

	var importedID string
	for _, obj := range list {
		id := obj["id"].(string)
		if id == "manual" {
			continue
		}
		importedID = id
		if obj["title"] != "First version" || obj["editable"] != false || obj["color"] != "#3788d8" {
			t.Errorf("imported entry = %v", obj)
		}
	}
	if importedID == "" {
		t.Fatal("imported entry missing")
	}

	// Slashed imported ids resolve through the rest-of-path route.
	rec = doJSON(t, h, http.MethodGet, "/api/entries/"+importedID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get imported by id = %d (id %q)", rec.Code, importedID)
	}

	// The upstream replaces its event; refresh must swap, not accumulate.
	current = feedBody("upstream-2", "Second version")
	rec = doJSON(t, h, http.MethodPost, "/api/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second refresh = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/entries", nil)
	list = arrFromBody(t, rec)
	if len(list) != 2 {
		t.Fatalf("after second refresh: %d entries, want 2", len(list))
	}
	titles := map[string]bool{}
	for _, obj := range list {
		titles[obj["title"].(string)] = true
	}
	if !titles["Mine"] || !titles["Second version"] || titles["First version"] {
		t.Errorf("titles after swap = %v", titles)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	status := objFromBody(t, rec)
	if status["entries"] != float64(0) || status["last_refresh"] != nil {
		t.Errorf("fresh status = %v", status)
	}

	doJSON(t, h, http.MethodPost, "/api/entries", map[string]any{"id": "e1"})
	// A refresh with no sources configured is skipped and leaves
	// last_refresh null.
	doJSON(t, h, http.MethodPost, "/api/refresh", nil)

	rec = doJSON(t, h, http.MethodGet, "/api/status", nil)
	status = objFromBody(t, rec)
	if status["entries"] != float64(1) {
		t.Errorf("entries = %v, want 1", status["entries"])
	}
	if status["last_refresh"] != nil {
		t.Errorf("skipped refresh should not count, last_refresh = %v", status["last_refresh"])
	}
}

func TestStaticPageAndAPIFallthrough(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("index = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("FullCalendar")) {
		t.Error("index page should embed the widget")
	}

	// Unknown API paths must 404, never fall back to HTML.
	rec = doJSON(t, h, http.MethodGet, "/api/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown api path = %d, want 404", rec.Code)
	}
}

func TestPreviewMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Preview.Output = t.TempDir() + "/preview.png"
	s := NewServer(cfg, true)
	s.fetcher = ics.NewFetcher(t.TempDir())

	rec := doJSON(t, s.Handler(), http.MethodGet, "/preview.png", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing preview = %d, want 404", rec.Code)
	}
}
