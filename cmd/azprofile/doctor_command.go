package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jotterhq/azprofile/internal/config"
	"github.com/jotterhq/azprofile/internal/probe"
	"github.com/jotterhq/azprofile/internal/settings"
)

const defaultDoctorFormat = "text"

const (
	doctorStatusPass = "pass"
	doctorStatusWarn = "warn"
	doctorStatusFail = "fail"
	doctorStatusSkip = "skip"
)

type doctorDocument struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	ConfigPath    string        `json:"config_path"`
	OverallStatus string        `json:"overall_status"`
	Checks        []doctorCheck `json:"checks"`
}

type doctorCheck struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Summary string   `json:"summary"`
	Details []string `json:"details,omitempty"`
}

func runDoctor(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("doctor", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", defaultDoctorFormat, "Output format: text or json")
	runProbe := flagSet.Bool("probe", false, "Issue a live chat completion against the default profile")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "doctor does not accept positional arguments")
		return 2
	}

	normalizedFormat, err := normalizeTextJSONFormat("doctor", *format, defaultDoctorFormat)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	document := buildDoctorDocument(strings.TrimSpace(*configPath), *runProbe)
	if err := writeDoctor(out, normalizedFormat, document); err != nil {
		fmt.Fprintf(errOut, "failed to write doctor output: %v\n", err)
		return 1
	}
	if document.OverallStatus == doctorStatusFail {
		return 1
	}
	return 0
}

func buildDoctorDocument(configPath string, runProbe bool) doctorDocument {
	doc := doctorDocument{
		GeneratedAt: time.Now().UTC(),
		ConfigPath:  configPath,
		Checks:      make([]doctorCheck, 0, 4),
	}

	cfg, stage, err := loadAndValidateConfig(configPath)
	if err != nil {
		summary := "config is invalid"
		if stage == configStageLoad {
			summary = "failed to load config"
		}
		doc.Checks = append(doc.Checks,
			doctorCheck{
				Name:    "config",
				Status:  doctorStatusFail,
				Summary: summary,
				Details: []string{err.Error()},
			},
			doctorSkippedCheck("storage", "skipped: config check failed"),
			doctorSkippedCheck("default_profile", "skipped: config check failed"),
			doctorSkippedCheck("endpoint_probe", "skipped: config check failed"),
		)
		doc.OverallStatus = doctorOverallStatus(doc.Checks)
		return doc
	}

	doc.Checks = append(doc.Checks, doctorCheck{
		Name:    "config",
		Status:  doctorStatusPass,
		Summary: "loaded and validated configuration",
		Details: []string{fmt.Sprintf("config path: %s", nonEmpty(configPath, "(default lookup)"))},
	})

	storageCheck, profile := runDoctorStorageCheck(cfg)
	doc.Checks = append(doc.Checks, storageCheck)
	if storageCheck.Status == doctorStatusFail {
		doc.Checks = append(doc.Checks,
			doctorSkippedCheck("default_profile", "skipped: storage check failed"),
			doctorSkippedCheck("endpoint_probe", "skipped: storage check failed"),
		)
		doc.OverallStatus = doctorOverallStatus(doc.Checks)
		return doc
	}

	doc.Checks = append(doc.Checks, runDoctorProfileCheck(cfg, profile))
	doc.Checks = append(doc.Checks, runDoctorProbeCheck(cfg, profile, runProbe))
	doc.OverallStatus = doctorOverallStatus(doc.Checks)
	return doc
}

func doctorSkippedCheck(name, summary string) doctorCheck {
	return doctorCheck{
		Name:    name,
		Status:  doctorStatusSkip,
		Summary: summary,
	}
}

// runDoctorStorageCheck verifies store connectivity and fetches the default
// profile for the downstream checks.
func runDoctorStorageCheck(cfg config.Config) (doctorCheck, *settings.Profile) {
	check := doctorCheck{Name: "storage"}
	store, err := openSettingsStore(cfg)
	if err != nil {
		check.Status = doctorStatusFail
		check.Summary = "failed to initialize profile storage"
		check.Details = []string{err.Error()}
		return check, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	profiles, err := store.ListProfiles(ctx)
	if err != nil {
		check.Status = doctorStatusFail
		check.Summary = "profile storage connectivity check failed"
		check.Details = []string{err.Error()}
		if closeErr := store.Close(); closeErr != nil {
			check.Details = append(check.Details, fmt.Sprintf("close profile store: %v", closeErr))
		}
		return check, nil
	}

	var defaultProfile *settings.Profile
	if found, err := store.GetProfile(ctx, cfg.Profile.Default); err == nil {
		defaultProfile = found
	} else if !errors.Is(err, settings.ErrNotFound) {
		check.Status = doctorStatusFail
		check.Summary = "failed to load default profile"
		check.Details = []string{err.Error()}
		if closeErr := store.Close(); closeErr != nil {
			check.Details = append(check.Details, fmt.Sprintf("close profile store: %v", closeErr))
		}
		return check, nil
	}

	check.Status = doctorStatusPass
	driver := strings.TrimSpace(cfg.Storage.Driver)
	switch driver {
	case "sqlite":
		path := strings.TrimSpace(cfg.Storage.Path)
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		check.Summary = "connected to sqlite profile storage"
		check.Details = []string{
			fmt.Sprintf("path: %s", path),
			fmt.Sprintf("stored profiles: %d", len(profiles)),
		}
	case "postgres":
		check.Summary = "connected to postgres profile storage"
		check.Details = []string{fmt.Sprintf("stored profiles: %d", len(profiles))}
	default:
		check.Summary = "connected to profile storage"
	}
	if closeErr := store.Close(); closeErr != nil {
		check.Status = doctorStatusWarn
		check.Summary = "profile storage connectivity succeeded with close warning"
		check.Details = append(check.Details, fmt.Sprintf("close profile store: %v", closeErr))
	}
	return check, defaultProfile
}

func runDoctorProfileCheck(cfg config.Config, profile *settings.Profile) doctorCheck {
	check := doctorCheck{Name: "default_profile"}
	if profile == nil {
		check.Status = doctorStatusWarn
		check.Summary = fmt.Sprintf("default profile %q does not exist yet", cfg.Profile.Default)
		check.Details = []string{"run: azprofile profile paste " + cfg.Profile.Default}
		return check
	}

	var missing []string
	if strings.TrimSpace(profile.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(profile.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(profile.ChatDeployment) == "" && strings.TrimSpace(profile.TranscriptionDeployment) == "" {
		missing = append(missing, "deployment")
	}
	if len(missing) > 0 {
		check.Status = doctorStatusWarn
		check.Summary = fmt.Sprintf("default profile %q is incomplete", profile.Name)
		check.Details = []string{"missing: " + strings.Join(missing, ", ")}
		return check
	}

	check.Status = doctorStatusPass
	check.Summary = fmt.Sprintf("default profile %q has endpoint, key, and deployment", profile.Name)
	check.Details = []string{fmt.Sprintf("endpoint: %s", profile.Endpoint)}
	return check
}

func runDoctorProbeCheck(cfg config.Config, profile *settings.Profile, runProbe bool) doctorCheck {
	check := doctorCheck{Name: "endpoint_probe"}
	if !runProbe {
		return doctorSkippedCheck("endpoint_probe", "skipped: pass --probe to issue a live request")
	}
	if profile == nil {
		return doctorSkippedCheck("endpoint_probe", "skipped: default profile does not exist")
	}

	timeout := time.Duration(cfg.Probe.TimeoutMS) * time.Millisecond
	prober := probe.New(timeout, nil)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	report := prober.CheckChat(ctx, *profile)

	check.Details = []string{fmt.Sprintf("latency_ms: %d", report.LatencyMS)}
	if report.Detail != "" {
		check.Details = append(check.Details, report.Detail)
	}

	switch report.Outcome {
	case probe.OutcomeOK:
		check.Status = doctorStatusPass
		check.Summary = "chat deployment responded"
		if report.Model != "" {
			check.Details = append(check.Details, fmt.Sprintf("model: %s", report.Model))
		}
	case probe.OutcomeNotConfigured:
		check.Status = doctorStatusSkip
		check.Summary = "profile is not configured for a live probe"
	case probe.OutcomeAuthFailed:
		check.Status = doctorStatusFail
		check.Summary = "endpoint rejected the api key"
	case probe.OutcomeDeploymentNotFound:
		check.Status = doctorStatusFail
		check.Summary = "chat deployment was not found at the endpoint"
	default:
		check.Status = doctorStatusWarn
		check.Summary = "endpoint is unreachable"
	}
	return check
}

func doctorOverallStatus(checks []doctorCheck) string {
	hasWarn := false
	for _, check := range checks {
		switch check.Status {
		case doctorStatusFail:
			return doctorStatusFail
		case doctorStatusWarn:
			hasWarn = true
		}
	}
	if hasWarn {
		return doctorStatusWarn
	}
	return doctorStatusPass
}

func writeDoctor(out io.Writer, format string, doc doctorDocument) error {
	switch format {
	case "json":
		return writeDoctorJSON(out, doc)
	default:
		return writeDoctorText(out, doc)
	}
}

func writeDoctorJSON(out io.Writer, doc doctorDocument) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

func writeDoctorText(out io.Writer, doc doctorDocument) error {
	fmt.Fprintln(out, "Azprofile Doctor")

	meta := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(meta, "Generated at\t%s\n", doc.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(meta, "Config path\t%s\n", nonEmpty(doc.ConfigPath, defaultConfigPath))
	fmt.Fprintf(meta, "Overall status\t%s\n", strings.ToUpper(doc.OverallStatus))
	if err := meta.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nChecks")
	for _, check := range doc.Checks {
		fmt.Fprintf(out, "- [%s] %s: %s\n", strings.ToUpper(check.Status), check.Name, check.Summary)
		for _, detail := range check.Details {
			fmt.Fprintf(out, "  %s\n", detail)
		}
	}
	return nil
}
