package server

import (
	"net/http"

	"github.com/Tyrowin/gochat-relay/internal/archive"
	"github.com/Tyrowin/gochat-relay/internal/directory"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Dependencies are the components the HTTP routes serve. Metrics is optional.
type Dependencies struct {
	Relay     *relay.Server
	Directory *directory.Directory
	Archive   *archive.Archive
	Metrics   *metrics.Gatherer
}

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func SetupRoutes(deps Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/test", TestPageHandler)
	mux.HandleFunc("/ws", WebSocketHandler(deps.Relay))
	mux.HandleFunc("/register", RegisterHandler(deps.Directory))
	mux.HandleFunc("/login", LoginHandler(deps.Directory))
	mux.HandleFunc("/users", UsersHandler(deps.Directory))
	mux.HandleFunc("/messages", MessagesHandler(deps.Archive, deps.Directory))
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
	return mux
}
