package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jotterhq/azprofile/internal/settings"
)

type HealthOptions struct {
	Version        string
	StartedAt      time.Time
	StorageDriver  string
	StoragePath    string
	DefaultProfile string
	Store          settings.Store
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	UptimeSec      int64  `json:"uptime_sec"`
	StorageDriver  string `json:"storage_driver"`
	DefaultProfile string `json:"default_profile,omitempty"`
	ProfileCount   int64  `json:"profile_count"`
	DBSizeBytes    int64  `json:"db_size_bytes,omitempty"`
}

func HealthHandler(options HealthOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		uptime := time.Since(options.StartedAt)
		profileCount := int64(0)
		if options.Store != nil {
			if profiles, err := options.Store.ListProfiles(r.Context()); err == nil {
				profileCount = int64(len(profiles))
			}
		}

		dbSizeBytes := int64(0)
		if strings.EqualFold(options.StorageDriver, "sqlite") && options.StoragePath != "" {
			if info, err := os.Stat(options.StoragePath); err == nil {
				dbSizeBytes = info.Size()
			}
		}

		writeJSON(w, http.StatusOK, healthResponse{
			Status:         "ok",
			Version:        options.Version,
			UptimeSec:      int64(uptime.Seconds()),
			StorageDriver:  options.StorageDriver,
			DefaultProfile: options.DefaultProfile,
			ProfileCount:   profileCount,
			DBSizeBytes:    dbSizeBytes,
		})
	})
}
