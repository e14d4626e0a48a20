package handlers

import (
	"net/http"
	"path"
	"strings"
)

// publicPrefixes are the storage folders reachable through /uploads.
// Baseline images and signing candidates stay private.
var publicPrefixes = []string{"documents/", "signed/"}

// FileServer serves the local storage backend under prefix.
func FileServer(prefix, root string) http.Handler {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(root)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(r.URL.Path, prefix)), "/")
		for _, p := range publicPrefixes {
			if strings.HasPrefix(key, p) && !strings.HasSuffix(r.URL.Path, "/") {
				fs.ServeHTTP(w, r)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
	})
}
