package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/jotterhq/azprofile/internal/probe"
	"github.com/jotterhq/azprofile/internal/settings"
)

// ProfileProber runs a live reachability check against a profile's chat
// deployment.
type ProfileProber interface {
	CheckChat(ctx context.Context, profile settings.Profile) probe.Report
}

// ProbeCheckRecorder is invoked after every probe handled by the API so the
// server can feed metrics without the handlers importing telemetry.
type ProbeCheckRecorder func(outcome string)

func handleProbeProfile(w http.ResponseWriter, r *http.Request, store settings.Store, name string, prober ProfileProber, recorder ProbeCheckRecorder) {
	if prober == nil {
		writeError(w, http.StatusServiceUnavailable, "probe is not configured")
		return
	}

	profile, err := store.GetProfile(r.Context(), name)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	report := prober.CheckChat(r.Context(), *profile)
	if recorder != nil {
		recorder(string(report.Outcome))
	}
	writeJSON(w, http.StatusOK, report)
}
