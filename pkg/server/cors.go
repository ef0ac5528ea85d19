package server

import "net/http"

// withCORS sets the cross-origin headers the browser needs to call the
// stream endpoint.
func withCORS(origin string, next http.HandlerFunc) http.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next(w, r)
	}
}

func handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
