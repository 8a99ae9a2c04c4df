package server

import (
	"net/http"

	"github.com/rs/cors"
)

// WithCORS applies the origin allow-list to cross-origin REST calls. The
// list is consulted per request, so reloaded origins take effect at once.
func WithCORS(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowOriginFunc: originAllowed,
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:  []string{"Content-Type", "Authorization"},
	})
	return c.Handler(h)
}
