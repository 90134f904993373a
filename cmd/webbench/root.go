package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidely/webbench/pkg/benchlog"
	"github.com/tidely/webbench/pkg/config"
	"github.com/tidely/webbench/pkg/constants"
	"github.com/tidely/webbench/pkg/engine"
	"github.com/tidely/webbench/pkg/reporter"
	"github.com/tidely/webbench/pkg/request"
	"github.com/tidely/webbench/pkg/threaded"
)

// flags mirrors the CLI surface table in spec.md §6.
var flags struct {
	force   bool
	reload  bool
	seconds int
	proxy   string
	clients int

	http09 bool
	http10 bool
	http11 bool

	get     bool
	head    bool
	options bool
	trace   bool

	showVersion bool
	verbose     bool
	driver      string
}

var rootCmd = &cobra.Command{
	Use:           "webbench URL",
	Short:         "Concurrent HTTP/HTTPS benchmark client",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBench,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&flags.force, "force", "f", false, "Do not wait for response")
	f.BoolVarP(&flags.reload, "reload", "r", false, "Send cache-suppression header")
	f.IntVarP(&flags.seconds, "time", "t", int(constants.DefaultDuration/time.Second), "Benchmark duration in seconds")
	f.StringVarP(&flags.proxy, "proxy", "p", "", "Proxy server H:P")
	f.IntVarP(&flags.clients, "clients", "c", constants.DefaultClients, "Number of concurrent clients")

	f.BoolVarP(&flags.http09, "http09", "9", false, "HTTP/0.9")
	f.BoolVarP(&flags.http10, "http10", "1", false, "HTTP/1.0")
	f.BoolVarP(&flags.http11, "http11", "2", false, "HTTP/1.1")

	f.BoolVar(&flags.get, "get", false, "Use GET request method")
	f.BoolVar(&flags.head, "head", false, "Use HEAD request method")
	f.BoolVar(&flags.options, "options", false, "Use OPTIONS request method")
	f.BoolVar(&flags.trace, "trace", false, "Use TRACE request method")

	f.BoolVarP(&flags.showVersion, "version", "V", false, "Print version and exit")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable diagnostic logging")
	f.StringVar(&flags.driver, "driver", "poll", "Connection driver: poll or threaded")

	// spec.md §6: -h/-?/--help must exit non-zero, unlike cobra's default
	// (which prints help and exits 0). defaultHelp preserves cobra's usual
	// output; only the exit code changes.
	defaultHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		defaultHelp(cmd, args)
		os.Exit(1)
	})
}

func runBench(cmd *cobra.Command, args []string) error {
	if flags.showVersion {
		fmt.Println(version)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("webbench: missing URL")
	}

	cfg, err := buildConfig(args[0])
	if err != nil {
		return err
	}

	benchlog.SetVerbose(cfg.Verbose)

	req, err := request.Build(cfg)
	if err != nil {
		return fmt.Errorf("webbench: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Duration)*time.Second)
	defer cancel()

	switch flags.driver {
	case "threaded":
		start := time.Now()
		totals := threaded.Run(ctx, cfg, req)
		speed, failed, bytesRecv := totals.Snapshot()
		reporter.Emit(os.Stdout, reporter.Totals{Speed: speed, Failed: failed, Bytes: bytesRecv}, time.Since(start))
	case "poll", "":
		eng, err := engine.New(cfg, req)
		if err != nil {
			return fmt.Errorf("webbench: %w", err)
		}
		totals := eng.Run(ctx)
		reporter.Emit(os.Stdout, reporter.Totals(totals), 0)
	default:
		return fmt.Errorf("webbench: unknown --driver %q (want poll or threaded)", flags.driver)
	}

	return nil
}

// buildConfig translates parsed flags and the positional URL into a
// validated Config, applying the CLI-level parsing rules in spec.md §6
// (method selection, HTTP version selection, URL and proxy parsing).
func buildConfig(url string) (*config.Config, error) {
	host, port, proto, pathAndQuery, err := config.ParseTargetURL(url)
	if err != nil {
		return nil, fmt.Errorf("webbench: %w", err)
	}

	cfg := &config.Config{
		TargetHost:      host,
		TargetPort:      port,
		Protocol:        proto,
		URLPathAndQuery: pathAndQuery,
		Method:          selectMethod(),
		HTTPVersion:     selectHTTPVersion(),
		Clients:         flags.clients,
		Duration:        flags.seconds,
		Force:           flags.force,
		Reload:          flags.reload,
		Verbose:         flags.verbose,
	}

	if flags.proxy != "" {
		proxyHost, proxyPort, err := config.ParseProxyString(flags.proxy)
		if err != nil {
			return nil, fmt.Errorf("webbench: %w", err)
		}
		cfg.ProxyHost = proxyHost
		cfg.ProxyPort = proxyPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("webbench: %w", err)
	}

	return cfg, nil
}

func selectMethod() config.Method {
	switch {
	case flags.head:
		return config.HEAD
	case flags.options:
		return config.OPTIONS
	case flags.trace:
		return config.TRACE
	default:
		return config.GET
	}
}

// The unmarked default is HTTP/0.9, matching the original tool's
// zero-initialised http10 field (original_source/include/arguments.h).
func selectHTTPVersion() config.HTTPVersion {
	switch {
	case flags.http11:
		return config.HTTP11
	case flags.http10:
		return config.HTTP10
	default:
		return config.HTTP09
	}
}
