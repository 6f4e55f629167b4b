package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/diagscope/diagscope/internal/adapter/inbound/diag"
	"github.com/diagscope/diagscope/internal/adapter/outbound/sqlite"
	"github.com/diagscope/diagscope/internal/config"
	"github.com/diagscope/diagscope/internal/domain/lifecycle"
)

func fullConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "app.log"), []byte("started\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dbDir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dbDir, "prefs.db"))
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`CREATE TABLE prefs (k TEXT PRIMARY KEY, v TEXT)`,
		`INSERT INTO prefs VALUES ('theme', 'dark')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	_ = db.Close()

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Files.Root = root
	cfg.Files.AllowDelete = true
	cfg.Databases.Dir = dbDir
	return cfg
}

// TestFullPath_FilesAndDatabases drives the explorer and the SQLite browser
// over HTTP.
func TestFullPath_FilesAndDatabases(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := fullConfig(t)
	s := boot(t, cfg)
	defer s.shutdown()
	h, _ := s.start(t, false)

	resp, body := do(t, http.MethodGet, h.LocalURL()+"/api/files")
	var entries []diag.FileEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("decode listing %q: %v", body, err)
	}
	if resp.StatusCode != http.StatusOK || len(entries) != 1 || entries[0].Name != "app.log" {
		t.Errorf("listing = %d %+v", resp.StatusCode, entries)
	}

	resp, body = do(t, http.MethodGet, h.LocalURL()+"/api/files/download?path=app.log")
	if resp.StatusCode != http.StatusOK || string(body) != "started\n" {
		t.Errorf("download = %d %q", resp.StatusCode, body)
	}

	// "../.." is clamped to the root, so "etc" is looked up inside it
	resp, _ = do(t, http.MethodGet, h.LocalURL()+"/api/files?path=..%2F..%2Fetc")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("clamped traversal = %d, want 404", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, h.LocalURL()+"/api/databases/rows?db=prefs.db&table=prefs")
	var rs sqlite.ResultSet
	if err := json.Unmarshal(body, &rs); err != nil {
		t.Fatalf("decode rows %q: %v", body, err)
	}
	if resp.StatusCode != http.StatusOK || rs.Total != 1 || len(rs.Rows) != 1 || rs.Rows[0][1] != "dark" {
		t.Errorf("rows = %d %+v", resp.StatusCode, rs)
	}

	resp, body = do(t, http.MethodDelete, h.LocalURL()+"/api/files?path=app.log")
	var del diag.DeleteResult
	if err := json.Unmarshal(body, &del); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || !del.Success {
		t.Errorf("delete = %d %+v", resp.StatusCode, del)
	}
	if _, err := os.Stat(filepath.Join(cfg.Files.Root, "app.log")); !os.IsNotExist(err) {
		t.Errorf("app.log still present: %v", err)
	}
}

// TestFullPath_ConcurrentRequests checks every concurrent request gets its
// own reply.
func TestFullPath_ConcurrentRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Routes = []config.RouteConfig{
		{Name: "echo", Match: `path.startsWith("/echo/")`, Status: 200, MIMEType: "text/plain", Body: "echo"},
	}
	s := boot(t, cfg)
	defer s.shutdown()
	h, _ := s.start(t, false)

	var wg sync.WaitGroup
	errs := make(chan string, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			resp, err := newClient().Get(h.LocalURL() + "/echo/x")
			if err != nil {
				errs <- err.Error()
				return
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- "echo status " + resp.Status
			}
		}()
		go func() {
			defer wg.Done()
			resp, err := newClient().Get(h.LocalURL() + "/missing")
			if err != nil {
				errs <- err.Error()
				return
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusNotFound {
				errs <- "missing status " + resp.Status
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	_, body := do(t, http.MethodGet, h.LocalURL()+"/metrics")
	for _, want := range []string{
		`diagscope_route_dispatches_total{outcome="matched",route="echo"} 20`,
		`diagscope_route_dispatches_total{outcome="fallback",route="fallback"} 20`,
		`diagscope_requests_total{class="2xx",method="GET"} 20`,
		`diagscope_requests_total{class="4xx",method="GET"} 20`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

// TestFullPath_ForcedRestart replaces the live server and frees its port.
func TestFullPath_ForcedRestart(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := &config.Config{}
	cfg.SetDefaults()
	s := boot(t, cfg)
	defer s.shutdown()

	first, _ := s.start(t, false)
	again, ev := s.start(t, false)
	if ev.Status != lifecycle.StatusAlreadyRunning || again.Generation != first.Generation {
		t.Errorf("second start = %+v (%s)", again, ev.Status)
	}

	forced, ev := s.start(t, true)
	if ev.Status != lifecycle.StatusStarted || forced.Generation == first.Generation {
		t.Errorf("forced start = %+v (%s)", forced, ev.Status)
	}
	if forced.Port != first.Port {
		if _, err := newClient().Get(first.LocalURL() + "/"); err == nil {
			t.Error("previous instance still answering after forced restart")
		}
	}

	resp, _ := do(t, http.MethodGet, forced.LocalURL()+"/")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / on new instance = %d", resp.StatusCode)
	}

	stopped, err := s.guard.Stop(context.Background())
	if !stopped || err != nil {
		t.Errorf("Stop() = (%v, %v)", stopped, err)
	}
	if stopped, _ := s.guard.Stop(context.Background()); stopped {
		t.Error("second Stop() reported a running server")
	}
}
