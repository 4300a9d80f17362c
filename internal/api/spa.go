package api

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// DashboardHandler serves the built dashboard SPA. Routes that do not match
// a file fall back to index.html so client-side routing works on reload.
type DashboardHandler struct {
	fs           fs.FS
	indexPath    string
	assetsPrefix string
}

// NewDashboardHandler creates a handler serving the dashboard from fileSystem.
// assetsPrefix is the URL prefix of content-hashed assets that may be cached
// aggressively (e.g. "/assets/").
func NewDashboardHandler(fileSystem fs.FS, assetsPrefix string) *DashboardHandler {
	return &DashboardHandler{
		fs:           fileSystem,
		indexPath:    "index.html",
		assetsPrefix: assetsPrefix,
	}
}

// ServeHTTP implements http.Handler.
func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := path.Clean(r.URL.Path)

	fsPath := strings.TrimPrefix(urlPath, "/")
	if fsPath == "" || fsPath == "." {
		fsPath = h.indexPath
	}

	if fsPath != h.indexPath {
		if stat, err := fs.Stat(h.fs, fsPath); err == nil && !stat.IsDir() {
			if strings.HasPrefix(urlPath, h.assetsPrefix) {
				// Content-hashed assets never change under the same name
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			} else {
				w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
			}
			http.ServeFileFS(w, r, h.fs, fsPath)
			return
		}
	}

	// No matching file: let the SPA router handle the path
	w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
	http.ServeFileFS(w, r, h.fs, h.indexPath)
}
