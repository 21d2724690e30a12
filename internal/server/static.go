package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/mouthpiece/internal/observe"
)

// indexFile is served for "/".
const indexFile = "index.html"

// Static serves the browser front end from a single directory. Requests
// resolving outside the directory, including through symlinks, get 403;
// missing files and directories get 404.
type Static struct {
	root string
}

// NewStatic returns a handler confined to dir. The directory must exist and
// contain index.html.
func NewStatic(dir string) (*Static, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("server: static dir: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("server: static dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(root, indexFile)); err != nil {
		return nil, fmt.Errorf("server: static dir %q: %w", dir, err)
	}
	return &Static{root: root}, nil
}

// Root returns the resolved serving directory.
func (s *Static) Root() string { return s.root }

// ServeHTTP implements http.Handler.
func (s *Static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name, status := s.resolve(r.URL.Path)
	if status != http.StatusOK {
		if status == http.StatusForbidden {
			observe.Logger(r.Context()).Debug("static request outside root rejected", "path", r.URL.Path)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	f, err := os.Open(name)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// resolve maps a URL path to a file below root.
func (s *Static) resolve(urlPath string) (string, int) {
	if urlPath == "" || urlPath == "/" {
		urlPath = "/" + indexFile
	}
	if strings.ContainsRune(urlPath, 0) || strings.Contains(urlPath, "\\") {
		return "", http.StatusForbidden
	}

	name := filepath.Join(s.root, filepath.FromSlash(urlPath))
	if !within(s.root, name) {
		return "", http.StatusForbidden
	}

	resolved, err := filepath.EvalSymlinks(name)
	switch {
	case err != nil:
		return "", http.StatusNotFound
	case !within(s.root, resolved):
		return "", http.StatusForbidden
	}
	return resolved, http.StatusOK
}

func within(root, name string) bool {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
