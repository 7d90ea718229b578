// Package main is the entry point for the spell-check language server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/config/watcher"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/lsp"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/pattern"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/regexworker"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/scheduler"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/server"
	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/validator"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

const usage = `Spell-check language server.

Usage:
    cspell-lsp [--stdio] [--config=<path>] [--dictionary=<path>...] [--log-level=<level>] [--log-file=<path>] [--retry-busy]
    cspell-lsp check [--config=<path>] [--dictionary=<path>...] [--log-level=<level>] <file>...
    cspell-lsp -h | --help
    cspell-lsp --version

Options:
    -h --help               Show this screen.
    --version               Show version.
    --stdio                 Talk LSP over stdin/stdout (the default).
    --config=<path>         Configuration file used in addition to the ones found in the workspace.
    --dictionary=<path>     Word list, one word per line, consulted for every document.
    --log-level=<level>     Minimum log level: debug, info, warn or error [default: info].
    --log-file=<path>       Write logs to this file instead of stderr.
    --retry-busy            Re-arm a validation that fires while another one runs.`

type options struct {
	check        bool
	files        []string
	configPath   string
	dictionaries []string
	logLevel     string
	logFile      string
	retryBusy    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	closeLog, err := setupLogging(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	if opts.check {
		return runCheck(opts)
	}
	return runServer(opts)
}

func parseArgs(argv []string) (options, error) {
	args, err := docopt.ParseArgs(usage, argv, fmt.Sprintf("cspell-lsp %s (%s)", version, commit))
	if err != nil {
		return options{}, err
	}

	var opts options
	opts.check, _ = args.Bool("check")
	opts.configPath, _ = args.String("--config")
	opts.logLevel, _ = args.String("--log-level")
	opts.logFile, _ = args.String("--log-file")
	opts.retryBusy, _ = args.Bool("--retry-busy")
	if v, ok := args["--dictionary"].([]string); ok {
		opts.dictionaries = v
	}
	if v, ok := args["<file>"].([]string); ok {
		opts.files = v
	}

	switch opts.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return options{}, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", opts.logLevel)
	}
	return opts, nil
}

// setupLogging routes glog to stderr so stdout stays reserved for LSP.
func setupLogging(opts options) (func(), error) {
	_ = flag.Set("logtostderr", "true")
	_ = flag.CommandLine.Parse(nil)

	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(opts.logLevel)

	closeFn := func() { logging.Flush() }
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cfg.Output = f
		closeFn = func() { _ = f.Close() }
	}
	logging.SetDefault(logging.New(cfg))
	return closeFn, nil
}

func newValidator(opts options, log *logging.Logger) (*validator.Validator, *pattern.Matcher, error) {
	worker := regexworker.New()
	matcher := pattern.NewMatcher(worker, pattern.WithLogger(log.WithComponent("pattern")))

	vopts := []validator.Option{validator.WithLogger(log.WithComponent("validator"))}
	if len(opts.dictionaries) > 0 {
		var union validator.Union
		for _, path := range opts.dictionaries {
			wl, err := readWordList(path)
			if err != nil {
				_ = matcher.Close()
				return nil, nil, err
			}
			union = append(union, wl)
		}
		vopts = append(vopts, validator.WithDictionary(union))
	}
	return validator.New(matcher, vopts...), matcher, nil
}

func readWordList(path string) (*validator.WordList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dictionary: %w", err)
	}
	defer f.Close()
	wl, err := validator.ReadWordList(f)
	if err != nil {
		return nil, fmt.Errorf("reading dictionary %s: %w", path, err)
	}
	return wl, nil
}

func runServer(opts options) int {
	log := logging.Default()

	w, err := watcher.New(watcher.WithLogger(log.WithComponent("watcher")))
	if err != nil {
		log.Warn("configuration files will not be watched: %v", err)
	}

	providerOpts := []config.ProviderOption{config.WithProviderLogger(log.WithComponent("config"))}
	if opts.configPath != "" {
		providerOpts = append(providerOpts, config.WithConfigFile(opts.configPath))
	}
	if w != nil {
		providerOpts = append(providerOpts, config.OnConfigFile(func(path string) {
			if err := w.Watch(path); err != nil {
				log.Warn("watching %s: %v", path, err)
			}
		}))
	}
	provider := config.NewProvider(providerOpts...)
	defer provider.Close()

	v, matcher, err := newValidator(opts, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer matcher.Close()

	conn := lsp.NewConn(os.Stdin, os.Stdout, os.Stdin, lsp.WithConnLogger(log.WithComponent("rpc")))

	var schedOpts []scheduler.Option
	if opts.retryBusy {
		schedOpts = append(schedOpts, scheduler.WithRetryWhileBusy())
	}
	srv := server.New(conn, provider, v,
		server.WithLogger(log.WithComponent("server")),
		server.WithVersion(version),
		server.WithSchedulerOptions(schedOpts...),
	)
	defer srv.Close()

	if w != nil {
		srv.WatchConfigFiles(w)
		defer w.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- conn.Serve(ctx, srv) }()

	select {
	case <-srv.Done():
		_ = conn.Close()
		return srv.ExitCode()
	case err := <-served:
		if err != nil {
			log.Error("connection: %v", err)
			return 1
		}
		// The client went away without exit.
		return srv.ExitCode()
	case <-ctx.Done():
		_ = conn.Close()
		return 1
	}
}

// runCheck validates files once and prints their diagnostics.
func runCheck(opts options) int {
	log := logging.Default()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	providerOpts := []config.ProviderOption{
		config.WithProviderLogger(log.WithComponent("config")),
		config.WithWorkspaceFolders(cwd),
	}
	if opts.configPath != "" {
		providerOpts = append(providerOpts, config.WithConfigFile(opts.configPath))
	}
	provider := config.NewProvider(providerOpts...)
	defer provider.Close()

	v, matcher, err := newValidator(opts, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer matcher.Close()

	return checkFiles(context.Background(), os.Stdout, provider, v, opts.files)
}

func checkFiles(ctx context.Context, out io.Writer, provider *config.Provider, v *validator.Validator, files []string) int {
	status := 0
	for _, name := range files {
		path, err := filepath.Abs(name)
		if err != nil {
			path = name
		}
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			status = 1
			continue
		}

		uri := lsp.FilePathToURI(path)
		doc := scheduler.Document{
			URI:        string(uri),
			Version:    1,
			Text:       string(data),
			LanguageID: lsp.DetectLanguageID(path),
		}

		settings, err := provider.Get(ctx, doc.URI)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", name, err)
			status = 1
			continue
		}
		if d := v.ShouldCheck(doc, settings); !d.Check {
			fmt.Fprintf(os.Stderr, "%s: skipped: %s\n", name, d.Reason)
			continue
		}

		vctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		diags, err := v.Validate(vctx, doc, settings)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", name, err)
			status = 1
			continue
		}

		lsp.SortDiagnostics(diags)
		for _, d := range diags {
			fmt.Fprintln(out, lsp.FormatDiagnosticWithLocation(name, d))
		}
		if len(diags) > 0 && status == 0 {
			status = 3
		}
	}
	return status
}
