package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jotterhq/azprofile/internal/probe"
	"github.com/jotterhq/azprofile/internal/settings"
)

func newTestRouter(t *testing.T, store settings.Store) http.Handler {
	t.Helper()
	return NewRouter(RouterOptions{
		AppVersion:     "test",
		Store:          store,
		StorageDriver:  "sqlite",
		DefaultProfile: "default",
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response body: %v (body=%q)", err, rec.Body.String())
	}
}

func TestRootIndex(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["name"] != "azprofile" {
		t.Fatalf("name=%q, want %q", body["name"], "azprofile")
	}
	if body["version"] != "test" {
		t.Fatalf("version=%q, want %q", body["version"], "test")
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/parse", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin=%q, want %q", got, "*")
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PUT") {
		t.Fatalf("Access-Control-Allow-Methods=%q, want PUT included", got)
	}
}

func TestHealthReportsProfileCount(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore()
	seedProfile(t, store, settings.Profile{Name: "work", Endpoint: "https://contoso.openai.azure.com"})
	seedProfile(t, store, settings.Profile{Name: "personal"})

	router := newTestRouter(t, store)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Status        string `json:"status"`
		StorageDriver string `json:"storage_driver"`
		ProfileCount  int64  `json:"profile_count"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" {
		t.Fatalf("status=%q, want %q", body.Status, "ok")
	}
	if body.StorageDriver != "sqlite" {
		t.Fatalf("storage_driver=%q, want %q", body.StorageDriver, "sqlite")
	}
	if body.ProfileCount != 2 {
		t.Fatalf("profile_count=%d, want 2", body.ProfileCount)
	}
}

func TestHealthRejectsPost(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/health", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if got := rec.Header().Get("Allow"); !strings.Contains(got, http.MethodGet) {
		t.Fatalf("Allow=%q, want GET included", got)
	}
}

func TestParseEndpointFullURL(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())
	payload := `{"text":"https://contoso.openai.azure.com/openai/deployments/gpt4-chat/chat/completions?api-version=2024-02-15-preview"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var body struct {
		ShouldParse bool `json:"should_parse"`
		Result      struct {
			Endpoint       string `json:"endpoint"`
			ChatDeployment string `json:"chat_deployment"`
			ChatAPIVersion string `json:"chat_api_version"`
		} `json:"result"`
		Status struct {
			Code  string `json:"code"`
			Level string `json:"level"`
		} `json:"status"`
	}
	decodeBody(t, rec, &body)
	if !body.ShouldParse {
		t.Fatal("should_parse=false, want true")
	}
	if body.Result.Endpoint != "https://contoso.openai.azure.com" {
		t.Fatalf("endpoint=%q", body.Result.Endpoint)
	}
	if body.Result.ChatDeployment != "gpt4-chat" {
		t.Fatalf("chat_deployment=%q", body.Result.ChatDeployment)
	}
	if body.Result.ChatAPIVersion != "2024-02-15-preview" {
		t.Fatalf("chat_api_version=%q", body.Result.ChatAPIVersion)
	}
	if body.Status.Code != "parsed" {
		t.Fatalf("status.code=%q, want %q", body.Status.Code, "parsed")
	}
	if body.Status.Level != "info" {
		t.Fatalf("status.level=%q, want %q", body.Status.Level, "info")
	}
}

func TestParseEndpointNoMatch(t *testing.T) {
	t.Parallel()

	// Multi-word text passes the paste gate but yields nothing.
	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(`{"text":"just some notes"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		ShouldParse bool `json:"should_parse"`
		Status      struct {
			Code string `json:"code"`
		} `json:"status"`
	}
	decodeBody(t, rec, &body)
	if !body.ShouldParse {
		t.Fatal("should_parse=false, want true for multi-word text")
	}
	if body.Status.Code != "no_match" {
		t.Fatalf("status.code=%q, want %q", body.Status.Code, "no_match")
	}
}

func TestParseEndpointSkipsNonPasteInput(t *testing.T) {
	t.Parallel()

	// A single bare word looks like in-progress typing, not a paste, so the
	// handler reports that parsing was not attempted.
	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(`{"text":"contoso"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		ShouldParse bool `json:"should_parse"`
		Status      struct {
			Code string `json:"code"`
		} `json:"status"`
	}
	decodeBody(t, rec, &body)
	if body.ShouldParse {
		t.Fatal("should_parse=true, want false for a single bare word")
	}
	if body.Status.Code != "no_match" {
		t.Fatalf("status.code=%q, want %q", body.Status.Code, "no_match")
	}
}

func TestParseEndpointInvalidJSON(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestParseEndpointRecordsOutcome(t *testing.T) {
	t.Parallel()

	var gotCode string
	var gotParsed bool
	router := NewRouter(RouterOptions{
		AppVersion: "test",
		Store:      settings.NewMemoryStore(),
		ParseOutcomeRecorder: func(code string, parsedAny bool) {
			gotCode = code
			gotParsed = parsedAny
		},
	})

	payload := `{"text":"https://contoso.openai.azure.com/openai/deployments/gpt4-chat/chat/completions?api-version=2024-02-15"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(payload)))

	if gotCode != "parsed" {
		t.Fatalf("recorded code=%q, want %q", gotCode, "parsed")
	}
	if !gotParsed {
		t.Fatal("recorded parsedAny=false, want true")
	}
}

func TestProfileListRedactsKeys(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore()
	seedProfile(t, store, settings.Profile{Name: "work", APIKey: "super-secret-key-value"})

	router := newTestRouter(t, store)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profiles", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	if strings.Contains(rec.Body.String(), "super-secret-key-value") {
		t.Fatal("profile list leaked an api key")
	}
	var body struct {
		Items []settings.Profile `json:"items"`
	}
	decodeBody(t, rec, &body)
	if len(body.Items) != 1 {
		t.Fatalf("items=%d, want 1", len(body.Items))
	}
	if body.Items[0].APIKey != "(redacted)" {
		t.Fatalf("api_key=%q, want %q", body.Items[0].APIKey, "(redacted)")
	}
}

func TestProfilePutGetDelete(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())

	putBody := `{"endpoint":"https://contoso.openai.azure.com","api_key":"abc","chat_deployment":"gpt4-chat"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/profiles/work", strings.NewReader(putBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status=%d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profiles/work", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status=%d, want %d", rec.Code, http.StatusOK)
	}
	var profile settings.Profile
	decodeBody(t, rec, &profile)
	if profile.Endpoint != "https://contoso.openai.azure.com" {
		t.Fatalf("endpoint=%q", profile.Endpoint)
	}
	if profile.APIKey != "(redacted)" {
		t.Fatalf("api_key=%q, want redacted", profile.APIKey)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/profiles/work", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status=%d, want %d", rec.Code, http.StatusNoContent)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profiles/work", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET after delete status=%d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestProfilePutWithoutKeyKeepsStoredKey(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore()
	seedProfile(t, store, settings.Profile{Name: "work", APIKey: "stored-key"})

	router := newTestRouter(t, store)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/profiles/work", strings.NewReader(`{"endpoint":"https://contoso.openai.azure.com"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status=%d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	stored, err := store.GetProfile(context.Background(), "work")
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if stored.APIKey != "stored-key" {
		t.Fatalf("api_key=%q, want stored key preserved", stored.APIKey)
	}
	if stored.Endpoint != "https://contoso.openai.azure.com" {
		t.Fatalf("endpoint=%q", stored.Endpoint)
	}
}

func TestProfilePutInvalidEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/profiles/work", strings.NewReader(`{"endpoint":"ftp://contoso"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d (body=%s)", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestProfileDeleteMissingReturns404(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, settings.NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/profiles/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestPasteIntoProfileCreatesAndMerges(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore()
	router := newTestRouter(t, store)

	first := `{"text":"https://contoso.openai.azure.com/openai/deployments/gpt4-chat/chat/completions?api-version=2024-02-15-preview"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/profiles/work/paste", strings.NewReader(first)))
	if rec.Code != http.StatusOK {
		t.Fatalf("first paste status=%d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var firstResp struct {
		Changed bool             `json:"changed"`
		Profile settings.Profile `json:"profile"`
	}
	decodeBody(t, rec, &firstResp)
	if !firstResp.Changed {
		t.Fatal("first paste changed=false, want true")
	}
	if firstResp.Profile.ChatDeployment != "gpt4-chat" {
		t.Fatalf("chat_deployment=%q", firstResp.Profile.ChatDeployment)
	}

	// A second paste with only transcription details merges without
	// clobbering the chat fields.
	second := `{"text":"https://contoso.openai.azure.com/openai/deployments/whisper-1/audio/transcriptions?api-version=2024-06-01"}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/profiles/work/paste", strings.NewReader(second)))
	if rec.Code != http.StatusOK {
		t.Fatalf("second paste status=%d, want %d", rec.Code, http.StatusOK)
	}

	stored, err := store.GetProfile(context.Background(), "work")
	if err != nil {
		t.Fatalf("GetProfile() error: %v", err)
	}
	if stored.ChatDeployment != "gpt4-chat" {
		t.Fatalf("chat_deployment=%q, want preserved", stored.ChatDeployment)
	}
	if stored.TranscriptionDeployment != "whisper-1" {
		t.Fatalf("transcription_deployment=%q", stored.TranscriptionDeployment)
	}
	if stored.TranscriptionAPIVersion != "2024-06-01" {
		t.Fatalf("transcription_api_version=%q", stored.TranscriptionAPIVersion)
	}
}

func TestPasteIntoProfileNoMatchLeavesProfileUntouched(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore()
	router := newTestRouter(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/profiles/work/paste", strings.NewReader(`{"text":"meeting notes"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Changed bool `json:"changed"`
	}
	decodeBody(t, rec, &body)
	if body.Changed {
		t.Fatal("changed=true for unparseable text")
	}
	if _, err := store.GetProfile(context.Background(), "work"); err == nil {
		t.Fatal("profile was persisted despite no parsed fields")
	}
}

type stubProber struct {
	report     probe.Report
	gotProfile settings.Profile
	called     bool
}

func (s *stubProber) CheckChat(_ context.Context, profile settings.Profile) probe.Report {
	s.called = true
	s.gotProfile = profile
	return s.report
}

func TestProbeProfileReportsOutcome(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore()
	seedProfile(t, store, settings.Profile{
		Name:           "work",
		Endpoint:       "https://contoso.openai.azure.com",
		APIKey:         "sk-live",
		ChatDeployment: "gpt4-chat",
	})

	prober := &stubProber{report: probe.Report{Outcome: probe.OutcomeOK, Model: "gpt-4", LatencyMS: 42}}
	var gotOutcome string
	router := NewRouter(RouterOptions{
		AppVersion: "test",
		Store:      store,
		Prober:     prober,
		ProbeCheckRecorder: func(outcome string) {
			gotOutcome = outcome
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/profiles/work/probe", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d (body=%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var report probe.Report
	decodeBody(t, rec, &report)
	if report.Outcome != probe.OutcomeOK {
		t.Fatalf("outcome=%q, want %q", report.Outcome, probe.OutcomeOK)
	}
	if report.Model != "gpt-4" {
		t.Fatalf("model=%q, want gpt-4", report.Model)
	}
	if !prober.called {
		t.Fatal("prober was not called")
	}
	// The check needs the real key, not the redacted placeholder.
	if prober.gotProfile.APIKey != "sk-live" {
		t.Fatalf("prober api_key=%q, want stored secret", prober.gotProfile.APIKey)
	}
	if gotOutcome != "ok" {
		t.Fatalf("recorded outcome=%q, want ok", gotOutcome)
	}
}

func TestProbeProfileMissingReturns404(t *testing.T) {
	t.Parallel()

	router := NewRouter(RouterOptions{
		AppVersion: "test",
		Store:      settings.NewMemoryStore(),
		Prober:     &stubProber{},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/profiles/missing/probe", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestProbeProfileWithoutProberReturns503(t *testing.T) {
	t.Parallel()

	store := settings.NewMemoryStore()
	seedProfile(t, store, settings.Profile{Name: "work"})

	router := newTestRouter(t, store)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/profiles/work/probe", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestProbeProfileRejectsGet(t *testing.T) {
	t.Parallel()

	router := NewRouter(RouterOptions{
		AppVersion: "test",
		Store:      settings.NewMemoryStore(),
		Prober:     &stubProber{},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profiles/work/probe", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func seedProfile(t *testing.T, store settings.Store, profile settings.Profile) {
	t.Helper()
	if _, err := store.PutProfile(context.Background(), profile); err != nil {
		t.Fatalf("seed profile %q: %v", profile.Name, err)
	}
}
