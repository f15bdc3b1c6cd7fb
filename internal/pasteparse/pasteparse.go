// Package pasteparse extracts Azure OpenAI endpoint configuration from
// pasted text. Input is best-effort free text: a resource URL, a deployment
// URL copied from the portal, or a multi-line API reference snippet.
package pasteparse

import (
	"net/url"
	"regexp"
	"strings"
)

// Warning codes are stable identifiers; callers key user-facing text off the
// exact values, so they must not change between releases.
const (
	// WarnNoMatch is never emitted by Parse. Callers report it when
	// DidParseAny() is false and they still want a user-facing status.
	WarnNoMatch = "no_match"

	WarnTranslationsRoute  = "translations_route"
	WarnEmptyDeployment    = "empty_deployment_name"
	WarnEmptyAPIVersion    = "empty_api_version"
	WarnDeploymentConflict = "deployment_conflict"
)

// Result holds every field recognized in a single parse. Empty strings mean
// the field was not found; Warnings is ordered by detection and never
// contains the same code twice.
type Result struct {
	Endpoint                string   `json:"endpoint,omitempty"`
	ChatDeployment          string   `json:"chat_deployment,omitempty"`
	TranscriptionDeployment string   `json:"transcription_deployment,omitempty"`
	ChatAPIVersion          string   `json:"chat_api_version,omitempty"`
	TranscriptionAPIVersion string   `json:"transcription_api_version,omitempty"`
	UsedTranslationsRoute   bool     `json:"used_translations_route"`
	Warnings                []string `json:"warnings,omitempty"`
}

// DidParseAny reports whether at least one optional field was recognized.
func (r Result) DidParseAny() bool {
	return r.Endpoint != "" ||
		r.ChatDeployment != "" ||
		r.TranscriptionDeployment != "" ||
		r.ChatAPIVersion != "" ||
		r.TranscriptionAPIVersion != ""
}

func (r *Result) addWarning(code string) {
	for _, existing := range r.Warnings {
		if existing == code {
			return
		}
	}
	r.Warnings = append(r.Warnings, code)
}

// ShouldParse is the approximate gate callers apply before invoking Parse on
// live text-change events: plain hostnames typed character by character are
// not worth parsing, pasted URLs and snippets are.
func ShouldParse(input string) bool {
	return strings.Contains(input, "/deployments/") ||
		strings.Contains(strings.ToLower(input), "api-version") ||
		strings.ContainsAny(input, " \n")
}

type operationFamily int

const (
	familyChat operationFamily = iota
	familyAudio
)

type deploymentSegment struct {
	pos          int
	family       operationFamily
	name         string
	translations bool
}

// Names and version values run until a URL or prose boundary so values
// pasted inside quotes or brackets do not absorb the closing character.
var (
	deploymentPattern = regexp.MustCompile("(?i)/openai/deployments/([^/\\s?#&\"'`<>()\\[\\],]*)")
	apiVersionPattern = regexp.MustCompile("(?i)api-version=([^&\\s#\"'`<>()\\[\\],]*)")
)

type operationSpec struct {
	path         string
	family       operationFamily
	translations bool
}

// Operations recognized after the deployment name, longest first so
// "completions" does not shadow "chat/completions".
var knownOperations = []operationSpec{
	{path: "chat/completions", family: familyChat},
	{path: "audio/transcriptions", family: familyAudio},
	{path: "audio/translations", family: familyAudio, translations: true},
	{path: "completions", family: familyChat},
}

var fallbackHostSuffixes = []string{
	".openai.azure.com",
	".cognitiveservices.azure.com",
	".services.ai.azure.com",
}

// Parse extracts endpoint configuration from pasted text. It never fails:
// unrecognizable input yields a zero Result, ambiguous input yields whatever
// was recognized first plus warnings.
func Parse(input string) Result {
	var result Result

	segments := findDeploymentSegments(input)
	for _, segment := range segments {
		if segment.translations {
			result.UsedTranslationsRoute = true
			result.addWarning(WarnTranslationsRoute)
		}
		if segment.name == "" {
			result.addWarning(WarnEmptyDeployment)
			continue
		}
		target := &result.ChatDeployment
		if segment.family == familyAudio {
			target = &result.TranscriptionDeployment
		}
		switch {
		case *target == "":
			*target = segment.name
		case *target != segment.name:
			// First match wins; later different names for the same
			// operation family are dropped.
			result.addWarning(WarnDeploymentConflict)
		}
	}

	applyAPIVersions(input, segments, &result)

	if len(segments) > 0 {
		result.Endpoint = normalizeEndpoint(hostCandidateBefore(input, segments[0].pos))
	} else {
		result.Endpoint = fallbackEndpoint(input)
	}

	return result
}

func findDeploymentSegments(input string) []deploymentSegment {
	matches := deploymentPattern.FindAllStringSubmatchIndex(input, -1)
	segments := make([]deploymentSegment, 0, len(matches))
	for _, match := range matches {
		name := strings.TrimSpace(input[match[2]:match[3]])
		rest := input[match[1]:]
		if !strings.HasPrefix(rest, "/") {
			continue
		}
		operation, ok := matchOperation(rest[1:])
		if !ok {
			continue
		}
		segments = append(segments, deploymentSegment{
			pos:          match[0],
			family:       operation.family,
			name:         name,
			translations: operation.translations,
		})
	}
	return segments
}

func matchOperation(rest string) (operationSpec, bool) {
	for _, operation := range knownOperations {
		if !strings.HasPrefix(rest, operation.path) {
			continue
		}
		tail := rest[len(operation.path):]
		if tail == "" || isBoundary(tail[0]) {
			return operation, true
		}
	}
	return operationSpec{}, false
}

// URLs quoted mid-prose often end in sentence punctuation, so '.' and ';'
// terminate an operation path the same way query and quote characters do.
func isBoundary(b byte) bool {
	switch b {
	case '?', '#', '&', '/', ' ', '\t', '\r', '\n', '"', '\'', '`', ')', '>', ',', '.', ';':
		return true
	}
	return false
}

func applyAPIVersions(input string, segments []deploymentSegment, result *Result) {
	matches := apiVersionPattern.FindAllStringSubmatchIndex(input, -1)

	var (
		soleValue      string
		soleAssociated bool
	)
	for _, match := range matches {
		value := decodeVersionValue(input[match[2]:match[3]])
		if value == "" {
			result.addWarning(WarnEmptyAPIVersion)
			continue
		}
		soleValue = value

		segment, ok := nearestPrecedingSegment(segments, match[0])
		if !ok {
			continue
		}
		soleAssociated = true
		target := &result.ChatAPIVersion
		if segment.family == familyAudio {
			target = &result.TranscriptionAPIVersion
		}
		if *target == "" {
			*target = value
		}
	}

	// A single api-version in the whole input applies to both call families,
	// but only when no deployment-specific association claimed it.
	if len(matches) == 1 && soleValue != "" && !soleAssociated {
		if result.ChatAPIVersion == "" {
			result.ChatAPIVersion = soleValue
		}
		if result.TranscriptionAPIVersion == "" {
			result.TranscriptionAPIVersion = soleValue
		}
	}
}

func decodeVersionValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = strings.TrimSpace(decoded)
	}
	return raw
}

func nearestPrecedingSegment(segments []deploymentSegment, pos int) (deploymentSegment, bool) {
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i].pos < pos {
			return segments[i], true
		}
	}
	return deploymentSegment{}, false
}

// hostCandidateBefore returns the tail of the whitespace-delimited token that
// ends right where the recognized /openai/ path begins.
func hostCandidateBefore(input string, pos int) string {
	prefix := input[:pos]
	if start := strings.LastIndexAny(prefix, " \t\r\n\"'`<>()[]"); start >= 0 {
		prefix = prefix[start+1:]
	}
	return prefix
}

// normalizeEndpoint reduces a URL-ish candidate to lowercase scheme+host,
// assuming https when the scheme is missing. Path and query remnants are
// discarded.
func normalizeEndpoint(candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return ""
	}
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	return scheme + "://" + strings.ToLower(parsed.Host)
}

func fallbackEndpoint(input string) string {
	for _, token := range strings.FieldsFunc(input, isTokenSeparator) {
		host := token
		if idx := strings.Index(host, "://"); idx >= 0 {
			host = host[idx+len("://"):]
		}
		if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
			host = host[:idx]
		}
		if hasRecognizedSuffix(host) {
			return normalizeEndpoint(token)
		}
	}
	return ""
}

func isTokenSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n', '"', '\'', '`', '<', '>', '(', ')', '[', ']':
		return true
	}
	return false
}

func hasRecognizedSuffix(host string) bool {
	host = strings.ToLower(host)
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	for _, suffix := range fallbackHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
