package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jotterhq/azprofile/internal/settings"
)

// ParseOutcomeRecorder is invoked after every paste-parse handled by the API
// so the server can feed metrics without the handlers importing telemetry.
type ParseOutcomeRecorder func(code string, parsedAny bool)

type RouterOptions struct {
	AppVersion           string
	Store                settings.Store
	StorageDriver        string
	StoragePath          string
	DefaultProfile       string
	ParseOutcomeRecorder ParseOutcomeRecorder
	Prober               ProfileProber
	ProbeCheckRecorder   ProbeCheckRecorder
}

func NewRouter(options RouterOptions) http.Handler {
	startedAt := time.Now().UTC()
	mux := http.NewServeMux()

	mux.Handle("/api/health", HealthHandler(HealthOptions{
		Version:        options.AppVersion,
		StartedAt:      startedAt,
		StorageDriver:  options.StorageDriver,
		StoragePath:    options.StoragePath,
		DefaultProfile: options.DefaultProfile,
		Store:          options.Store,
	}))
	mux.Handle("/api/parse", ParseHandler(options.ParseOutcomeRecorder))
	mux.Handle("/api/profiles", ProfilesHandler(options.Store))
	mux.Handle("/api/profiles/", ProfileDetailHandler(ProfileDetailOptions{
		Store:                options.Store,
		ParseOutcomeRecorder: options.ParseOutcomeRecorder,
		Prober:               options.Prober,
		ProbeCheckRecorder:   options.ProbeCheckRecorder,
	}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "azprofile",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	return withCORS(mux)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func withCORS(next http.Handler) http.Handler {
	allowedHeaders := strings.Join([]string{"Content-Type", "X-Request-ID"}, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
