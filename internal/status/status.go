// Package status turns parse outcomes into user-facing status messages.
// The parser reports opaque warning codes; resolving them to text happens
// here so the codes themselves can stay stable.
package status

import "github.com/jotterhq/azprofile/internal/pasteparse"

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
)

// CodeParsed acknowledges a clean parse; it is not a parser warning code.
const CodeParsed = "parsed"

// Status is the single message surfaced for one parse invocation.
type Status struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

var messages = map[string]string{
	CodeParsed:                        "Endpoint details parsed successfully.",
	pasteparse.WarnNoMatch:            "No recognizable endpoint details found in the pasted text.",
	pasteparse.WarnTranslationsRoute:  "A translations endpoint was detected; it will be used for transcription calls.",
	pasteparse.WarnEmptyDeployment:    "A deployments path was found but the deployment name is empty.",
	pasteparse.WarnEmptyAPIVersion:    "An api-version parameter was found but its value is empty.",
	pasteparse.WarnDeploymentConflict: "Multiple deployment names were found for the same operation; the first one was kept.",
}

// ForResult resolves the status for a parse result. The translations-route
// notice takes precedence over other warnings, which surface in detection
// order; a clean parse acknowledges success and an empty result reports that
// nothing matched.
func ForResult(res pasteparse.Result) Status {
	if res.UsedTranslationsRoute {
		return warning(pasteparse.WarnTranslationsRoute)
	}
	if len(res.Warnings) > 0 {
		return warning(res.Warnings[0])
	}
	if res.DidParseAny() {
		return Status{Code: CodeParsed, Level: LevelInfo, Message: messages[CodeParsed]}
	}
	return Status{Code: pasteparse.WarnNoMatch, Level: LevelInfo, Message: messages[pasteparse.WarnNoMatch]}
}

func warning(code string) Status {
	message, ok := messages[code]
	if !ok {
		message = "The pasted text was only partially recognized."
	}
	return Status{Code: code, Level: LevelWarning, Message: message}
}
