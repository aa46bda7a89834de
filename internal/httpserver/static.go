package httpserver

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// staticHandler serves the browser client bundle. Paths that don't map to a
// file fall back to index.html so client-side routes deep-link correctly.
func staticHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		rel := strings.TrimPrefix(filepath.Clean("/"+r.URL.Path), "/")
		if rel != "" {
			if info, err := os.Stat(filepath.Join(dir, rel)); err == nil && !info.IsDir() {
				fs.ServeHTTP(w, r)
				return
			}
		}

		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}
