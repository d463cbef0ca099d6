package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/ritzau/ds-audit/pkg/audit"
	"github.com/ritzau/ds-audit/pkg/config"
	"github.com/ritzau/ds-audit/pkg/figma"
	"github.com/ritzau/ds-audit/pkg/logging"
	mcpserver "github.com/ritzau/ds-audit/pkg/mcp"
	"github.com/ritzau/ds-audit/pkg/output"
	"github.com/ritzau/ds-audit/pkg/web"
)

const shutdownTimeout = 5 * time.Second

func newFlagSet() *pflag.FlagSet {
	f := pflag.NewFlagSet("ds-audit", pflag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ds-audit [flags] [figma-frame-url]\n\n")
		f.PrintDefaults()
	}

	f.String("config", "", "Path to a TOML config file (default ds-audit.toml if present)")
	f.String("url", "", "Figma frame URL to audit")
	f.StringP("input", "i", "", "Audit a node tree saved as JSON instead of fetching from Figma")
	f.StringP("format", "f", config.FormatText, "Report format: text, json or csv")

	f.Bool("web", false, "Start the web server")
	f.Bool("mcp", false, "Serve MCP tools on stdin/stdout")
	f.IntP("port", "p", 8080, "Port for the web server")
	f.Bool("open", false, "Open the browser when the web server starts")

	f.String("figma-token", "", "Figma personal access token (or FIGMA_TOKEN)")
	f.String("figma-base-url", figma.DefaultBaseURL, "Figma API base URL")
	f.Duration("figma-timeout", 30*time.Second, "Timeout for Figma API requests")
	f.Int("frame-cache", 32, "Number of fetched frames to cache (0 disables)")

	f.String("rules-store", config.StoreFile, "Rule store backend: memory, file or redis")
	f.String("rules-file", "rules.json", "Rules file for the file store")
	f.String("patterns-file", "patterns.json", "Analysis history file for the file store")
	f.Bool("watch", false, "Reload the rules and patterns files when they change on disk")

	f.String("redis-addr", "localhost:6379", "Redis address for the redis store")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.String("redis-prefix", "ds-audit:", "Key prefix for the redis store")

	f.Int("threshold", output.DefaultThreshold, "Compliance rate required for approval")
	f.Int("report-cache", web.DefaultReportCacheSize, "Number of shareable reports kept by the web server")

	f.String("verbosity", "", "Log level: error, warn, info, debug, trace")
	f.CountP("verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	f.Bool("log-json", false, "Log as JSON")
	f.Bool("no-color", false, "Disable colored output")
	return f
}

func main() {
	flags := newFlagSet()
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if cfg.URL == "" && flags.NArg() > 0 {
		cfg.URL = flags.Arg(0)
	}
	if noColor, _ := flags.GetBool("no-color"); noColor {
		color.NoColor = true
	}

	logging.Configure(logging.Options{
		Level: logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt),
		JSON:  cfg.LogJSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("ds-audit failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case cfg.MCPMode:
		logging.Info("serving MCP tools on stdio", "store", cfg.RulesStore)
		return mcpserver.NewServer(a.runner, a.learning, a.engine, cfg.Threshold).ServeStdio()
	case cfg.WebMode:
		return serveWeb(ctx, a, cfg)
	default:
		return auditOnce(ctx, a, cfg)
	}
}

func serveWeb(ctx context.Context, a *app, cfg *config.Config) error {
	server, err := web.NewServer(a.runner, a.learning, a.engine, a.publisher, web.Options{
		Threshold:       cfg.Threshold,
		ReportCacheSize: cfg.ReportCache,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Port)
	}()

	if cfg.OpenBrowser {
		// Wait a moment for server to start
		time.Sleep(500 * time.Millisecond)
		openBrowser(fmt.Sprintf("http://localhost:%d", cfg.Port))
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop web server: %w", err)
	}
	return <-errCh
}

func auditOnce(ctx context.Context, a *app, cfg *config.Config) error {
	var (
		out *audit.Outcome
		err error
	)
	switch {
	case cfg.Input != "":
		data, rerr := os.ReadFile(cfg.Input)
		if rerr != nil {
			return fmt.Errorf("failed to read input: %w", rerr)
		}
		root, perr := figma.ParseDocument(data)
		if perr != nil {
			return fmt.Errorf("failed to parse %s: %w", cfg.Input, perr)
		}
		frameURL := cfg.URL
		if frameURL == "" {
			frameURL = cfg.Input
		}
		out, err = a.runner.AnalyzeNode(ctx, root, frameURL)
	case cfg.URL != "":
		if cfg.FigmaToken == "" {
			return errors.New("a Figma token is required: set FIGMA_TOKEN or pass --figma-token")
		}
		out, err = a.runner.Run(ctx, cfg.URL)
	default:
		return errors.New("nothing to audit: pass a frame URL, --input, --web or --mcp")
	}
	if err != nil {
		return err
	}

	switch cfg.Format {
	case config.FormatJSON:
		return output.WriteJSON(os.Stdout, out.Result, cfg.Threshold)
	case config.FormatCSV:
		return output.WriteCSV(os.Stdout, out.Result)
	}

	output.PrintComplianceReport(os.Stdout, out.Result, cfg.Threshold)
	if c := out.Corrections; c != nil {
		color.New(color.FgCyan).Fprintf(os.Stdout, "Known corrections: %d connected, %d disconnected\n", c.Connected, c.Disconnected)
	}
	if len(out.Suggestions) > 0 {
		fmt.Fprintln(os.Stdout, "\nPossibly missed components:")
		for _, s := range out.Suggestions {
			fmt.Fprintf(os.Stdout, "  %s  [%s %.0fx%.0f]  %s\n", s.Name, s.Type, s.Width, s.Height, s.NodeID)
		}
	}
	return nil
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		logging.Warn("cannot open browser on this platform", "os", runtime.GOOS)
		return
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		logging.Warn("failed to open browser", "error", err)
	}
}
