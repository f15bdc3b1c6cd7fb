package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jotterhq/azprofile/internal/settings"
)

const profileStoreTimeout = 5 * time.Second

func runProfile(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printProfileUsage(errOut)
		return 2
	}

	switch args[0] {
	case "list":
		return runProfileList(args[1:], out, errOut)
	case "show":
		return runProfileShow(args[1:], out, errOut)
	case "set":
		return runProfileSet(args[1:], out, errOut)
	case "delete":
		return runProfileDelete(args[1:], out, errOut)
	case "paste":
		return runProfilePaste(args[1:], in, out, errOut)
	default:
		printProfileUsage(errOut)
		return 2
	}
}

func runProfileList(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("profile list", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "profile list does not accept positional arguments")
		return 2
	}
	normalizedFormat, err := normalizeTextJSONFormat("profile list", *format, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	store, cleanup, code := openProfileStore(*configPath, errOut)
	if store == nil {
		return code
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), profileStoreTimeout)
	defer cancel()
	profiles, err := store.ListProfiles(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "failed to list profiles: %v\n", err)
		return 1
	}

	redacted := make([]settings.Profile, 0, len(profiles))
	for _, profile := range profiles {
		redacted = append(redacted, profile.Redacted())
	}

	if normalizedFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(redacted); err != nil {
			fmt.Fprintf(errOut, "failed to write profile list: %v\n", err)
			return 1
		}
		return 0
	}

	if len(redacted) == 0 {
		fmt.Fprintln(out, "no profiles stored")
		return 0
	}
	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tENDPOINT\tCHAT\tTRANSCRIPTION\tUPDATED")
	for _, profile := range redacted {
		updated := ""
		if !profile.UpdatedAt.IsZero() {
			updated = profile.UpdatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			profile.Name,
			nonEmpty(profile.Endpoint, "-"),
			nonEmpty(profile.ChatDeployment, "-"),
			nonEmpty(profile.TranscriptionDeployment, "-"),
			nonEmpty(updated, "-"),
		)
	}
	if err := writer.Flush(); err != nil {
		fmt.Fprintf(errOut, "failed to write profile list: %v\n", err)
		return 1
	}
	return 0
}

func runProfileShow(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("profile show", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() > 1 {
		fmt.Fprintln(errOut, "profile show accepts at most one profile name")
		return 2
	}
	normalizedFormat, err := normalizeTextJSONFormat("profile show", *format, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}
	name := cfg.Profile.Default
	if flagSet.NArg() == 1 {
		name = flagSet.Arg(0)
	}

	store, err := openSettingsStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize profile storage: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), profileStoreTimeout)
	defer cancel()
	profile, err := store.GetProfile(ctx, name)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			fmt.Fprintf(errOut, "profile %q not found\n", name)
			return 1
		}
		fmt.Fprintf(errOut, "failed to load profile: %v\n", err)
		return 1
	}

	return writeProfile(out, errOut, normalizedFormat, profile.Redacted())
}

func runProfileSet(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("profile set", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	endpoint := flagSet.String("endpoint", "", "Azure OpenAI endpoint (scheme and host)")
	apiKey := flagSet.String("api-key", "", "Azure OpenAI API key")
	chatDeployment := flagSet.String("chat-deployment", "", "Chat deployment name")
	transcriptionDeployment := flagSet.String("transcription-deployment", "", "Transcription deployment name")
	chatAPIVersion := flagSet.String("chat-api-version", "", "Chat api-version")
	transcriptionAPIVersion := flagSet.String("transcription-api-version", "", "Transcription api-version")
	translationsRoute := flagSet.Bool("translations-route", false, "Use the translations route for audio calls")

	positional, flagArgs := splitProfileNameArgs(args)
	if err := flagSet.Parse(flagArgs); err != nil {
		return 2
	}
	if positional == "" {
		fmt.Fprintln(errOut, "usage: azprofile profile set NAME [flags]")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}
	store, err := openSettingsStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize profile storage: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), profileStoreTimeout)
	defer cancel()

	profile := settings.Profile{Name: positional}
	if existing, err := store.GetProfile(ctx, positional); err == nil {
		profile = *existing
	} else if !errors.Is(err, settings.ErrNotFound) {
		fmt.Fprintf(errOut, "failed to load profile: %v\n", err)
		return 1
	}

	// Only explicitly passed flags overwrite stored fields.
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			profile.Endpoint = strings.TrimSpace(*endpoint)
		case "api-key":
			profile.APIKey = strings.TrimSpace(*apiKey)
		case "chat-deployment":
			profile.ChatDeployment = strings.TrimSpace(*chatDeployment)
		case "transcription-deployment":
			profile.TranscriptionDeployment = strings.TrimSpace(*transcriptionDeployment)
		case "chat-api-version":
			profile.ChatAPIVersion = strings.TrimSpace(*chatAPIVersion)
		case "transcription-api-version":
			profile.TranscriptionAPIVersion = strings.TrimSpace(*transcriptionAPIVersion)
		case "translations-route":
			profile.UsesTranslationsRoute = *translationsRoute
		}
	})

	saved, err := store.PutProfile(ctx, profile)
	if err != nil {
		fmt.Fprintf(errOut, "failed to save profile: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "profile %q saved\n", saved.Name)
	return 0
}

func runProfileDelete(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("profile delete", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")

	positional, flagArgs := splitProfileNameArgs(args)
	if err := flagSet.Parse(flagArgs); err != nil {
		return 2
	}
	if positional == "" {
		fmt.Fprintln(errOut, "usage: azprofile profile delete NAME")
		return 2
	}

	store, cleanup, code := openProfileStore(*configPath, errOut)
	if store == nil {
		return code
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), profileStoreTimeout)
	defer cancel()
	if err := store.DeleteProfile(ctx, positional); err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			fmt.Fprintf(errOut, "profile %q not found\n", positional)
			return 1
		}
		fmt.Fprintf(errOut, "failed to delete profile: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "profile %q deleted\n", positional)
	return 0
}

func runProfilePaste(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("profile paste", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", "text", "Output format: text or json")

	positional, flagArgs := splitProfileNameArgs(args)
	if err := flagSet.Parse(flagArgs); err != nil {
		return 2
	}
	if positional == "" {
		fmt.Fprintln(errOut, "usage: azprofile profile paste NAME [TEXT]")
		return 2
	}
	normalizedFormat, err := normalizeTextJSONFormat("profile paste", *format, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	text, err := readPasteInput(flagSet.Args(), in)
	if err != nil {
		fmt.Fprintf(errOut, "failed to read input: %v\n", err)
		return 1
	}

	store, cleanup, code := openProfileStore(*configPath, errOut)
	if store == nil {
		return code
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), profileStoreTimeout)
	defer cancel()

	profile := settings.Profile{Name: positional}
	if existing, err := store.GetProfile(ctx, positional); err == nil {
		profile = *existing
	} else if !errors.Is(err, settings.ErrNotFound) {
		fmt.Fprintf(errOut, "failed to load profile: %v\n", err)
		return 1
	}

	doc := buildParseDocument(text)
	changed := profile.ApplyParseResult(doc.Result)
	if changed {
		saved, err := store.PutProfile(ctx, profile)
		if err != nil {
			fmt.Fprintf(errOut, "failed to save profile: %v\n", err)
			return 1
		}
		profile = *saved
	}

	if normalizedFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		payload := struct {
			parseDocument
			Changed bool             `json:"changed"`
			Profile settings.Profile `json:"profile"`
		}{parseDocument: doc, Changed: changed, Profile: profile.Redacted()}
		if err := encoder.Encode(payload); err != nil {
			fmt.Fprintf(errOut, "failed to write paste output: %v\n", err)
			return 1
		}
	} else {
		if err := writeParseDocument(out, "text", doc); err != nil {
			fmt.Fprintf(errOut, "failed to write paste output: %v\n", err)
			return 1
		}
		if changed {
			fmt.Fprintf(out, "profile %q updated\n", profile.Name)
		} else {
			fmt.Fprintf(out, "profile %q unchanged\n", profile.Name)
		}
	}

	if !doc.Result.DidParseAny() {
		return 1
	}
	return 0
}

func writeProfile(out io.Writer, errOut io.Writer, format string, profile settings.Profile) int {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(profile); err != nil {
			fmt.Fprintf(errOut, "failed to write profile: %v\n", err)
			return 1
		}
		return 0
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "Name\t%s\n", profile.Name)
	fmt.Fprintf(writer, "Endpoint\t%s\n", nonEmpty(profile.Endpoint, "-"))
	fmt.Fprintf(writer, "API key\t%s\n", nonEmpty(profile.APIKey, "-"))
	fmt.Fprintf(writer, "Chat deployment\t%s\n", nonEmpty(profile.ChatDeployment, "-"))
	fmt.Fprintf(writer, "Chat api-version\t%s\n", nonEmpty(profile.ChatAPIVersion, "-"))
	fmt.Fprintf(writer, "Transcription deployment\t%s\n", nonEmpty(profile.TranscriptionDeployment, "-"))
	fmt.Fprintf(writer, "Transcription api-version\t%s\n", nonEmpty(profile.TranscriptionAPIVersion, "-"))
	fmt.Fprintf(writer, "Translations route\t%t\n", profile.UsesTranslationsRoute)
	if err := writer.Flush(); err != nil {
		fmt.Fprintf(errOut, "failed to write profile: %v\n", err)
		return 1
	}
	return 0
}

// splitProfileNameArgs pulls the leading profile name off the argument list so
// commands accept "profile set NAME --endpoint ..." ordering.
func splitProfileNameArgs(args []string) (string, []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", args
	}
	return strings.TrimSpace(args[0]), args[1:]
}

func openProfileStore(configPath string, errOut io.Writer) (settings.Store, func(), int) {
	cfg, stage, err := loadAndValidateConfig(configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return nil, nil, 1
	}
	store, err := openSettingsStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize profile storage: %v\n", err)
		return nil, nil, 1
	}
	return store, func() { _ = store.Close() }, 0
}

func reportConfigError(errOut io.Writer, stage string, err error) {
	if stage == configStageLoad {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return
	}
	fmt.Fprintf(errOut, "config is invalid: %v\n", err)
}

func printProfileUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  azprofile profile list [--config PATH] [--format text|json]")
	fmt.Fprintln(out, "  azprofile profile show [NAME] [--config PATH] [--format text|json]")
	fmt.Fprintln(out, "  azprofile profile set NAME [--endpoint URL] [--api-key KEY] [--chat-deployment NAME] [--transcription-deployment NAME] [--chat-api-version V] [--transcription-api-version V] [--translations-route]")
	fmt.Fprintln(out, "  azprofile profile delete NAME [--config PATH]")
	fmt.Fprintln(out, "  azprofile profile paste NAME [--config PATH] [--format text|json] [TEXT]")
}
