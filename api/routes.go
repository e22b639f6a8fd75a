package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"

	"bridgarr/handlers"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware rejects requests without the configured X-Api-Key header.
// An empty configured key disables authentication.
func apiKeyMiddleware(getAPIKey func() string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := getAPIKey()
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := r.Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				http.Error(w, `{"error":"invalid or missing API key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	engineHandler *handlers.EngineHandler,
	tasksHandler *handlers.TasksHandler,
	getAPIKey func() string,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Health stays unauthenticated for load balancer probes.
	api.HandleFunc("/health", engineHandler.Health).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	protected.Use(apiKeyMiddleware(getAPIKey))

	protected.HandleFunc("/acquire", engineHandler.Acquire).Methods(http.MethodPost)

	protected.HandleFunc("/links/stats", engineHandler.LinkStats).Methods(http.MethodGet)
	protected.HandleFunc("/links/{subjectID}", engineHandler.GetLink).Methods(http.MethodGet)

	protected.HandleFunc("/torrents", engineHandler.ListTorrents).Methods(http.MethodGet)
	protected.HandleFunc("/torrents/{id}", engineHandler.DeleteTorrent).Methods(http.MethodDelete)

	protected.HandleFunc("/accounts/validate", engineHandler.ValidateAccounts).Methods(http.MethodGet)

	protected.HandleFunc("/tasks", tasksHandler.ListTasks).Methods(http.MethodGet)
	protected.HandleFunc("/tasks/{name}/run", tasksHandler.RunTask).Methods(http.MethodPost)
}
