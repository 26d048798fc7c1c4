package admin

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// UIHandler serves a built session dashboard from Root. Unknown paths fall
// back to index.html so client-side routes resolve.
type UIHandler struct {
	Root string
}

func (h UIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if rel != "" && h.Root != "" {
		asset := filepath.Join(h.Root, filepath.FromSlash(rel))
		if isFile(asset) {
			http.ServeFile(w, r, asset)
			return
		}
	}
	h.serveIndex(w, r)
}

func (h UIHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	if h.Root != "" {
		index := filepath.Join(h.Root, "index.html")
		if isFile(index) {
			http.ServeFile(w, r, index)
			return
		}
	}
	http.Error(w, "dashboard not built; set --ui-root to a directory holding index.html", http.StatusNotFound)
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
