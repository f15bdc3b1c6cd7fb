package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jotterhq/azprofile/internal/settings"
)

type profilesResponse struct {
	Items []settings.Profile `json:"items"`
}

type putProfileRequest struct {
	Endpoint                string `json:"endpoint"`
	APIKey                  string `json:"api_key"`
	ChatDeployment          string `json:"chat_deployment"`
	TranscriptionDeployment string `json:"transcription_deployment"`
	ChatAPIVersion          string `json:"chat_api_version"`
	TranscriptionAPIVersion string `json:"transcription_api_version"`
	UsesTranslationsRoute   bool   `json:"uses_translations_route"`
}

type pasteResponse struct {
	parseResponse
	Changed bool             `json:"changed"`
	Profile settings.Profile `json:"profile"`
}

// ProfilesHandler serves the profile collection.
func ProfilesHandler(store settings.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "profile store is not configured")
			return
		}

		profiles, err := store.ListProfiles(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list profiles")
			return
		}

		items := make([]settings.Profile, 0, len(profiles))
		for _, profile := range profiles {
			items = append(items, profile.Redacted())
		}
		writeJSON(w, http.StatusOK, profilesResponse{Items: items})
	})
}

// ProfileDetailOptions configures the single-profile handler.
type ProfileDetailOptions struct {
	Store                settings.Store
	ParseOutcomeRecorder ParseOutcomeRecorder
	Prober               ProfileProber
	ProbeCheckRecorder   ProbeCheckRecorder
}

// ProfileDetailHandler serves a single profile and its paste and probe
// endpoints.
func ProfileDetailHandler(options ProfileDetailOptions) http.Handler {
	store := options.Store
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/profiles/")
		if path == "" {
			http.NotFound(w, r)
			return
		}
		if store == nil {
			writeError(w, http.StatusServiceUnavailable, "profile store is not configured")
			return
		}

		parts := strings.Split(path, "/")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			http.NotFound(w, r)
			return
		}

		if len(parts) == 1 {
			switch r.Method {
			case http.MethodGet:
				handleGetProfile(w, r, store, name)
			case http.MethodPut:
				handlePutProfile(w, r, store, name)
			case http.MethodDelete:
				handleDeleteProfile(w, r, store, name)
			default:
				w.Header().Set("Allow", "GET, PUT, DELETE, OPTIONS")
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			}
			return
		}
		if len(parts) == 2 {
			switch parts[1] {
			case "paste":
				if !requireMethod(w, r, http.MethodPost) {
					return
				}
				handlePasteIntoProfile(w, r, store, name, options.ParseOutcomeRecorder)
				return
			case "probe":
				if !requireMethod(w, r, http.MethodPost) {
					return
				}
				handleProbeProfile(w, r, store, name, options.Prober, options.ProbeCheckRecorder)
				return
			}
		}
		http.NotFound(w, r)
	})
}

func handleGetProfile(w http.ResponseWriter, r *http.Request, store settings.Store, name string) {
	profile, err := store.GetProfile(r.Context(), name)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, profile.Redacted())
}

func handlePutProfile(w http.ResponseWriter, r *http.Request, store settings.Store, name string) {
	var body putProfileRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		switch {
		case errors.Is(err, errParseBodyTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			writeError(w, http.StatusBadRequest, "invalid json body")
		}
		return
	}

	profile := settings.Profile{
		Name:                    name,
		Endpoint:                strings.TrimSpace(body.Endpoint),
		APIKey:                  strings.TrimSpace(body.APIKey),
		ChatDeployment:          strings.TrimSpace(body.ChatDeployment),
		TranscriptionDeployment: strings.TrimSpace(body.TranscriptionDeployment),
		ChatAPIVersion:          strings.TrimSpace(body.ChatAPIVersion),
		TranscriptionAPIVersion: strings.TrimSpace(body.TranscriptionAPIVersion),
		UsesTranslationsRoute:   body.UsesTranslationsRoute,
	}
	// A PUT without a key keeps the stored one so clients can update the
	// endpoint fields without re-sending the secret.
	if profile.APIKey == "" {
		if existing, err := store.GetProfile(r.Context(), name); err == nil {
			profile.APIKey = existing.APIKey
		}
	}

	saved, err := store.PutProfile(r.Context(), profile)
	if err != nil {
		if validationErr := settings.Validate(profile); validationErr != nil {
			writeError(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	writeJSON(w, http.StatusOK, saved.Redacted())
}

func handleDeleteProfile(w http.ResponseWriter, r *http.Request, store settings.Store, name string) {
	err := store.DeleteProfile(r.Context(), name)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handlePasteIntoProfile(w http.ResponseWriter, r *http.Request, store settings.Store, name string, recorder ParseOutcomeRecorder) {
	var body parseRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		switch {
		case errors.Is(err, errParseBodyTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			writeError(w, http.StatusBadRequest, "invalid json body")
		}
		return
	}

	parsed := parsePaste(body.Text)
	recordParseOutcome(recorder, parsed)

	profile := settings.Profile{Name: name}
	if existing, err := store.GetProfile(r.Context(), name); err == nil {
		profile = *existing
	} else if !errors.Is(err, settings.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	changed := profile.ApplyParseResult(parsed.Result)
	if changed {
		saved, err := store.PutProfile(r.Context(), profile)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save profile")
			return
		}
		profile = *saved
	}

	writeJSON(w, http.StatusOK, pasteResponse{
		parseResponse: parsed,
		Changed:       changed,
		Profile:       profile.Redacted(),
	})
}
