package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pastevault/cfg"
	"pastevault/pkg/domain"
	"pastevault/svc/blob"
	"pastevault/svc/cache"
	"pastevault/svc/db"
	"pastevault/svc/svc"
	"pastevault/svc/util"
)

func TestMain(m *testing.M) {
	util.InitLog("error", false)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	c := &cfg.Cfg{
		Port:           "8080",
		Environment:    "test",
		MaxPasteSize:   1024,
		MaxTitleLen:    64,
		RecentLimit:    5,
		SearchLimit:    100,
		SweepInterval:  time.Minute,
		SweepGrace:     24 * time.Hour,
		SweepRate:      1000,
		ContextTimeout: 5 * time.Second,
		AdminUser:      "admin",
		AdminPass:      cfg.NewSecret("sweep-me"),
	}
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	lru, err := cache.NewLRU(16)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	pasteSvc := svc.NewPaste(sqlDB, blobs, lru, nil, c)
	sweeper := svc.NewSweeper(sqlDB, blobs, c.SweepInterval, c.SweepGrace, c.SweepRate)
	return NewServer(c, pasteSvc, sweeper, sqlDB, nil)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func createPaste(t *testing.T, s *Server, body string) domain.Paste {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/pastes", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var paste domain.Paste
	if err := json.Unmarshal(rec.Body.Bytes(), &paste); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return paste
}

func TestCreateAndFetch(t *testing.T) {
	s := newTestServer(t)
	paste := createPaste(t, s, `{"title":"hello","content":"world","language":"go","lifetime":60}`)
	if paste.ID == 0 || paste.Content != "world" {
		t.Fatalf("unexpected create response: %+v", paste)
	}

	rec := doJSON(t, s, http.MethodGet, "/pastes/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d: %s", rec.Code, rec.Body.String())
	}
	var got domain.Paste
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.Content != "world" || got.ViewsCount != 1 {
		t.Fatalf("unexpected paste: %+v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestCreateRejectsNonJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader("title=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestCreateValidationStatus(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/pastes", `{"title":"","content":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing title, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp["code"] != "TITLE_REQUIRED" {
		t.Fatalf("expected TITLE_REQUIRED, got %q", resp["code"])
	}
}

func TestGetMalformedID(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/pastes/not-a-number", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a malformed id, got %d", rec.Code)
	}
}

func TestPrivateFlow(t *testing.T) {
	s := newTestServer(t)
	paste := createPaste(t, s, `{"title":"secret","content":"hidden","is_private":true}`)
	if paste.SecretKey == "" {
		t.Fatal("expected a secret key in the create response")
	}

	rec := doJSON(t, s, http.MethodGet, "/pastes/1", "")
	if rec.Code != http.StatusGone {
		t.Fatalf("numeric-id access to a private paste must return 410, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/secret/"+paste.SecretKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("secret access returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/pastes/1", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("id-based delete of a private paste must return 403, got %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, "/secret/"+paste.SecretKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("secret delete returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/secret/"+paste.SecretKey, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestListAndCategories(t *testing.T) {
	s := newTestServer(t)
	createPaste(t, s, `{"title":"alpha","content":"first","language":"go"}`)
	createPaste(t, s, `{"title":"beta","content":"second","language":"python"}`)

	rec := doJSON(t, s, http.MethodGet, "/pastes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var list ListResp
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 2 {
		t.Fatalf("expected 2 pastes, got %d", list.Count)
	}

	rec = doJSON(t, s, http.MethodGet, "/pastes?q=first", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if list.Count != 1 || list.Pastes[0].Title != "alpha" {
		t.Fatalf("unexpected search result: %+v", list)
	}

	rec = doJSON(t, s, http.MethodGet, "/categories", "")
	var cats map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &cats); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(cats["categories"]) != 2 {
		t.Fatalf("expected 2 categories, got %v", cats)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t)
	createPaste(t, s, `{"title":"a","content":"x"}`)
	rec := doJSON(t, s, http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats returned %d", rec.Code)
	}
	var stats domain.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalPastes != 1 || stats.ActivePastes != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAdminSweepAuth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/admin/sweep", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/sweep", nil)
	req.SetBasicAuth("admin", "sweep-me")
	out := httptest.NewRecorder()
	s.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d: %s", out.Code, out.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(out.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode sweep response: %v", err)
	}
	if _, ok := resp["deleted"]; !ok {
		t.Fatalf("expected deleted count in response: %s", out.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready returned %d", rec.Code)
	}
	var ready ReadyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ready); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if !ready.Ready || ready.Cache != "unavailable" {
		t.Fatalf("unexpected readiness: %+v", ready)
	}
}
