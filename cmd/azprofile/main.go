package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jotterhq/azprofile/internal/api"
	"github.com/jotterhq/azprofile/internal/correlation"
	"github.com/jotterhq/azprofile/internal/observability"
	"github.com/jotterhq/azprofile/internal/probe"
	"github.com/jotterhq/azprofile/internal/version"
)

const defaultConfigPath = "azprofile.yaml"

const otelShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverReadTimeout = 30 * time.Second
const serverIdleTimeout = 2 * time.Minute

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "serve":
		return runServe(args[1:])
	case "parse":
		return runParse(args[1:], os.Stdin, os.Stdout, os.Stderr)
	case "profile":
		return runProfile(args[1:], os.Stdin, os.Stdout, os.Stderr)
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	case "doctor":
		return runDoctor(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	_, _, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runServe(args []string) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "config is invalid: %v\n", err)
		}
		return 1
	}

	logger := slog.New(observability.NewTraceLogHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	))
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	store, err := openSettingsStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize profile storage: %v\n", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close profile storage", "error", err)
		}
	}()

	prober := probe.New(
		time.Duration(cfg.Probe.TimeoutMS)*time.Millisecond,
		otelRuntime.WrapHTTPTransport(nil),
	)
	apiHandler := api.NewRouter(api.RouterOptions{
		AppVersion:           version.String(),
		Store:                store,
		StorageDriver:        cfg.Storage.Driver,
		StoragePath:          cfg.Storage.Path,
		DefaultProfile:       cfg.Profile.Default,
		ParseOutcomeRecorder: otelRuntime.RecordParseOutcome,
		Prober:               prober,
		ProbeCheckRecorder:   otelRuntime.RecordProbeCheck,
	})

	serverHandler := otelRuntime.WrapHTTPHandler(
		correlation.Middleware(
			otelRuntime.SpanEnrichmentMiddleware(apiHandler),
		),
	)
	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           serverHandler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"port", cfg.Server.Port,
		"storage_driver", cfg.Storage.Driver,
		"default_profile", cfg.Profile.Default,
		"config_path", *configPath,
	)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("server stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			return 1
		}
		return 0
	}
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
		}
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  azprofile serve [--config path/to/azprofile.yaml]")
	fmt.Fprintln(out, "  azprofile version")
	fmt.Fprintln(out, "  azprofile parse [--format text|json] [TEXT]")
	fmt.Fprintln(out, "  azprofile profile list [--config path/to/azprofile.yaml] [--format text|json]")
	fmt.Fprintln(out, "  azprofile profile show [NAME] [--config path/to/azprofile.yaml] [--format text|json]")
	fmt.Fprintln(out, "  azprofile profile set NAME [--endpoint URL] [--api-key KEY] [--chat-deployment NAME] [--transcription-deployment NAME] [--chat-api-version V] [--transcription-api-version V] [--translations-route]")
	fmt.Fprintln(out, "  azprofile profile delete NAME [--config path/to/azprofile.yaml]")
	fmt.Fprintln(out, "  azprofile profile paste NAME [--config path/to/azprofile.yaml] [--format text|json] [TEXT]")
	fmt.Fprintln(out, "  azprofile doctor [--config path/to/azprofile.yaml] [--format text|json] [--probe]")
	fmt.Fprintln(out, "  azprofile config validate [--config path/to/azprofile.yaml]")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  azprofile config validate [--config path/to/azprofile.yaml]")
}
