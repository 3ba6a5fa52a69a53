package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tailscale.com/tsweb"

	"github.com/banshee-data/velocap/internal/testutil"
)

func adminMux(t *testing.T, db *DB) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(tsweb.Debugger(mux)); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}
	return mux
}

func TestAdminRoutesListed(t *testing.T) {
	mux := adminMux(t, setupTestDB(t))

	w := testutil.Serve(mux, testutil.NewLoopbackRequest(http.MethodGet, "/debug/"))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /debug/ = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"tailsql", "backup"} {
		if !strings.Contains(body, want) {
			t.Errorf("debug index missing %q", want)
		}
	}
}

func TestAdminBackup(t *testing.T) {
	db := setupTestDB(t)
	if err := db.StartSession("s1", "HDL-32E", "file.pcap"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	mux := adminMux(t, db)

	w := testutil.Serve(mux, testutil.NewLoopbackRequest(http.MethodGet, "/debug/backup"))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /debug/backup = %d: %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "backup-") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("response is not gzip: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("SQLite format 3\x00")) {
		t.Errorf("backup is not a sqlite file (%d bytes)", len(data))
	}
}

func TestAdminRoutesRequireLocalAccess(t *testing.T) {
	mux := adminMux(t, setupTestDB(t))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code == http.StatusOK {
		t.Error("backup served to a non-local client")
	}
}
