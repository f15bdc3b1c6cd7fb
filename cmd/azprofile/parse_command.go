package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jotterhq/azprofile/internal/pasteparse"
	"github.com/jotterhq/azprofile/internal/status"
)

type parseDocument struct {
	ShouldParse bool              `json:"should_parse"`
	Result      pasteparse.Result `json:"result"`
	Status      status.Status     `json:"status"`
}

// runParse parses pasted text from the arguments or stdin. Exit code 0 means
// at least one field was recognized, 1 means nothing matched.
func runParse(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("parse", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	format := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	normalizedFormat, err := normalizeTextJSONFormat("parse", *format, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	text, err := readPasteInput(flagSet.Args(), in)
	if err != nil {
		fmt.Fprintf(errOut, "failed to read input: %v\n", err)
		return 1
	}

	doc := buildParseDocument(text)
	if err := writeParseDocument(out, normalizedFormat, doc); err != nil {
		fmt.Fprintf(errOut, "failed to write parse output: %v\n", err)
		return 1
	}
	if !doc.Result.DidParseAny() {
		return 1
	}
	return 0
}

func buildParseDocument(text string) parseDocument {
	if !pasteparse.ShouldParse(text) {
		empty := pasteparse.Result{}
		return parseDocument{ShouldParse: false, Result: empty, Status: status.ForResult(empty)}
	}
	result := pasteparse.Parse(text)
	return parseDocument{ShouldParse: true, Result: result, Status: status.ForResult(result)}
}

func writeParseDocument(out io.Writer, format string, doc parseDocument) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	writeParseField(writer, "Endpoint", doc.Result.Endpoint)
	writeParseField(writer, "Chat deployment", doc.Result.ChatDeployment)
	writeParseField(writer, "Chat api-version", doc.Result.ChatAPIVersion)
	writeParseField(writer, "Transcription deployment", doc.Result.TranscriptionDeployment)
	writeParseField(writer, "Transcription api-version", doc.Result.TranscriptionAPIVersion)
	if doc.Result.UsedTranslationsRoute {
		fmt.Fprintf(writer, "Translations route\ttrue\n")
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n[%s] %s\n", strings.ToUpper(doc.Status.Level), doc.Status.Message)
	return nil
}

func writeParseField(out io.Writer, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(out, "%s\t%s\n", label, value)
}
