package server_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/mouthpiece/internal/server"
)

// newWebRoot lays out a served directory next to a file that must stay
// private.
func newWebRoot(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "web")
	files := map[string]string{
		"web/index.html":      "<html>mouthpiece</html>",
		"web/app.js":          "console.log('hi')",
		"web/assets/face.svg": "<svg/>",
		"secret.txt":          "do not serve",
	}
	for name, body := range files {
		p := filepath.Join(base, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestStatic(t *testing.T) {
	t.Parallel()

	root := newWebRoot(t)
	if err := os.Symlink(filepath.Join(root, "..", "secret.txt"), filepath.Join(root, "leak.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	h, err := server.NewStatic(root)
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	tests := []struct {
		method   string
		path     string
		want     int
		wantBody string
	}{
		{"GET", "/", http.StatusOK, "<html>mouthpiece</html>"},
		{"GET", "/index.html", http.StatusOK, "<html>mouthpiece</html>"},
		{"GET", "/app.js", http.StatusOK, "console.log('hi')"},
		{"GET", "/assets/face.svg", http.StatusOK, "<svg/>"},
		{"HEAD", "/app.js", http.StatusOK, ""},
		{"GET", "/missing.js", http.StatusNotFound, ""},
		{"GET", "/assets/", http.StatusNotFound, ""},
		{"GET", "/assets", http.StatusNotFound, ""},
		{"GET", "/../secret.txt", http.StatusForbidden, ""},
		{"GET", "/assets/../../secret.txt", http.StatusForbidden, ""},
		{"GET", "/leak.txt", http.StatusForbidden, ""},
		{"POST", "/", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, "/", nil)
			req.URL.Path = tt.path
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if strings.Contains(rec.Body.String(), "do not serve") {
				t.Error("private file leaked")
			}
		})
	}
}

func TestStatic_ContentType(t *testing.T) {
	t.Parallel()

	h, err := server.NewStatic(newWebRoot(t))
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if string(body) != "<html>mouthpiece</html>" {
		t.Errorf("body = %q", body)
	}
}

func TestNewStatic_RequiresIndex(t *testing.T) {
	t.Parallel()

	if _, err := server.NewStatic(t.TempDir()); err == nil {
		t.Error("directory without index.html should be rejected")
	}
	if _, err := server.NewStatic(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("missing directory should be rejected")
	}
}
