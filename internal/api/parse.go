package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jotterhq/azprofile/internal/pasteparse"
	"github.com/jotterhq/azprofile/internal/status"
)

const parseBodyLimit int64 = 256 << 10

var errParseBodyTooLarge = errors.New("parse body too large")
var errParseInvalidJSON = errors.New("parse body invalid json")

type parseRequest struct {
	Text string `json:"text"`
}

type parseResponse struct {
	ShouldParse bool              `json:"should_parse"`
	Result      pasteparse.Result `json:"result"`
	Status      status.Status     `json:"status"`
}

// ParseHandler parses pasted text without touching any stored profile.
func ParseHandler(recorder ParseOutcomeRecorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

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

		resp := parsePaste(body.Text)
		recordParseOutcome(recorder, resp)
		writeJSON(w, http.StatusOK, resp)
	})
}

func parsePaste(text string) parseResponse {
	if !pasteparse.ShouldParse(text) {
		empty := pasteparse.Result{}
		return parseResponse{
			ShouldParse: false,
			Result:      empty,
			Status:      status.ForResult(empty),
		}
	}
	result := pasteparse.Parse(text)
	return parseResponse{
		ShouldParse: true,
		Result:      result,
		Status:      status.ForResult(result),
	}
}

func recordParseOutcome(recorder ParseOutcomeRecorder, resp parseResponse) {
	if recorder == nil {
		return
	}
	recorder(resp.Status.Code, resp.Result.DidParseAny())
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r == nil || r.Body == nil {
		return nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, parseBodyLimit)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errParseBodyTooLarge
		}
		return errParseInvalidJSON
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errParseInvalidJSON
	}

	return nil
}
