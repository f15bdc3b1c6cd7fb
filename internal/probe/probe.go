// Package probe checks whether a stored profile can actually reach its Azure
// OpenAI deployment. It never fails hard: every outcome, including transport
// errors, is folded into a Report.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jotterhq/azprofile/internal/settings"
)

type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeNotConfigured      Outcome = "not_configured"
	OutcomeAuthFailed         Outcome = "auth_failed"
	OutcomeDeploymentNotFound Outcome = "deployment_not_found"
	OutcomeUnreachable        Outcome = "unreachable"
)

// Report is the result of a single reachability check.
type Report struct {
	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
	Model     string  `json:"model,omitempty"`
	LatencyMS int64   `json:"latency_ms"`
}

type Prober struct {
	timeout   time.Duration
	transport http.RoundTripper
}

// New builds a prober. A nil transport uses http.DefaultTransport, which is
// what production callers want; tests inject their own.
func New(timeout time.Duration, transport http.RoundTripper) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{timeout: timeout, transport: transport}
}

// CheckChat issues a minimal chat completion against the profile's chat
// deployment and classifies the outcome.
func (p *Prober) CheckChat(ctx context.Context, profile settings.Profile) Report {
	endpoint := strings.TrimSpace(profile.Endpoint)
	deployment := strings.TrimSpace(profile.ChatDeployment)
	switch {
	case endpoint == "":
		return Report{Outcome: OutcomeNotConfigured, Detail: "profile has no endpoint"}
	case deployment == "":
		return Report{Outcome: OutcomeNotConfigured, Detail: "profile has no chat deployment"}
	case strings.TrimSpace(profile.APIKey) == "":
		return Report{Outcome: OutcomeNotConfigured, Detail: "profile has no api key"}
	}

	clientConfig := openai.DefaultAzureConfig(profile.APIKey, endpoint)
	if version := strings.TrimSpace(profile.ChatAPIVersion); version != "" {
		clientConfig.APIVersion = version
	}
	// The profile stores the deployment name directly; skip go-openai's
	// model-name munging and address the deployment as-is.
	clientConfig.AzureModelMapperFunc = func(model string) string { return model }
	clientConfig.HTTPClient = &http.Client{
		Timeout:   p.timeout,
		Transport: p.transport,
	}
	client := openai.NewClientWithConfig(clientConfig)

	started := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: deployment,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
		MaxTokens: 1,
	})
	latency := time.Since(started).Milliseconds()

	if err != nil {
		report := classifyError(err)
		report.LatencyMS = latency
		return report
	}

	return Report{
		Outcome:   OutcomeOK,
		Model:     strings.TrimSpace(resp.Model),
		LatencyMS: latency,
	}
}

func classifyError(err error) Report {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reportForStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reportForStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return Report{Outcome: OutcomeUnreachable, Detail: err.Error()}
}

func reportForStatus(statusCode int, message string) Report {
	detail := strings.TrimSpace(message)
	if detail == "" {
		detail = fmt.Sprintf("http %d", statusCode)
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return Report{Outcome: OutcomeAuthFailed, Detail: detail}
	case statusCode == http.StatusNotFound:
		return Report{Outcome: OutcomeDeploymentNotFound, Detail: detail}
	default:
		return Report{Outcome: OutcomeUnreachable, Detail: detail}
	}
}
