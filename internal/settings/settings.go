// Package settings owns persisted endpoint configuration profiles and the
// merge of parse results into them.
package settings

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jotterhq/azprofile/internal/pasteparse"
)

// Profile is one named Azure OpenAI endpoint configuration.
type Profile struct {
	Name                    string    `json:"name"`
	Endpoint                string    `json:"endpoint,omitempty"`
	APIKey                  string    `json:"api_key,omitempty"`
	ChatDeployment          string    `json:"chat_deployment,omitempty"`
	TranscriptionDeployment string    `json:"transcription_deployment,omitempty"`
	ChatAPIVersion          string    `json:"chat_api_version,omitempty"`
	TranscriptionAPIVersion string    `json:"transcription_api_version,omitempty"`
	UsesTranslationsRoute   bool      `json:"uses_translations_route"`
	CreatedAt               time.Time `json:"created_at,omitempty"`
	UpdatedAt               time.Time `json:"updated_at,omitempty"`
}

// ApplyParseResult merges recognized fields into the profile. Only non-empty
// parsed fields overwrite; everything else is left untouched. It reports
// whether the profile changed.
func (p *Profile) ApplyParseResult(res pasteparse.Result) bool {
	changed := false
	assign := func(target *string, value string) {
		if value != "" && *target != value {
			*target = value
			changed = true
		}
	}

	assign(&p.Endpoint, res.Endpoint)
	assign(&p.ChatDeployment, res.ChatDeployment)
	assign(&p.TranscriptionDeployment, res.TranscriptionDeployment)
	assign(&p.ChatAPIVersion, res.ChatAPIVersion)
	assign(&p.TranscriptionAPIVersion, res.TranscriptionAPIVersion)

	if res.UsedTranslationsRoute && !p.UsesTranslationsRoute {
		p.UsesTranslationsRoute = true
		changed = true
	}

	return changed
}

// Redacted returns a copy safe for listing and API responses.
func (p Profile) Redacted() Profile {
	copied := p
	if copied.APIKey != "" {
		copied.APIKey = "(redacted)"
	}
	return copied
}

// Validate checks invariants required before a profile is persisted.
func Validate(p Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name must not be empty")
	}

	endpoint := strings.TrimSpace(p.Endpoint)
	if endpoint == "" {
		return nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse profile endpoint: %w", err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("profile endpoint scheme must be http or https (got %q)", parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("profile endpoint must include a host (got %q)", p.Endpoint)
	}
	if parsed.RawQuery != "" || (parsed.Path != "" && parsed.Path != "/") {
		return fmt.Errorf("profile endpoint must be scheme and host only (got %q)", p.Endpoint)
	}

	return nil
}
