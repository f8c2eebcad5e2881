// mcpbridge exposes an in-process counter to MCP clients over HTTP or a
// local socket, switching between them without losing state.
//
// Commands:
//
//	mcpbridge serve    Start the configured transport and serve until interrupted
//	mcpbridge config   Print the mcpServers document for the configured transport
//	mcpbridge doctor   Print paths, configuration and client prerequisites
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhubert/mcpbridge/cli"
	"github.com/zhubert/mcpbridge/config"
	"github.com/zhubert/mcpbridge/counter"
	"github.com/zhubert/mcpbridge/logger"
	"github.com/zhubert/mcpbridge/manager"
	"github.com/zhubert/mcpbridge/mcp"
	"github.com/zhubert/mcpbridge/paths"
	"github.com/zhubert/mcpbridge/telemetry"
	"github.com/zhubert/mcpbridge/transport"
)

// shutdownTimeout bounds the final span flush.
const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe(os.Args[2:])
	case "config":
		err = cmdConfig(os.Args[2:])
	case "doctor":
		err = cmdDoctor(os.Args[2:])
	case "help", "--help", "-h":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "mcpbridge: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: mcpbridge <command> [options]

Commands:
  serve      Start the configured transport and serve until interrupted
  config     Print the mcpServers document for the configured transport
             (HTTP: names the start port; serve prints the port it bound)
  doctor     Print paths, configuration and client prerequisites

Options (all commands):
  -transport http|socket   Override the configured transport

  config -save             Also write the effective settings to config.yaml
  doctor -clear-logs       Remove mcpbridge log files

While serving, SIGHUP reloads config.yaml and switches transport if it changed.

Examples:
  mcpbridge serve
  mcpbridge serve -transport socket
  mcpbridge config > ~/.config/client/mcp.json
  mcpbridge config -transport socket -save && kill -HUP <pid>`)
}

// loadConfig parses the shared flags plus any registered by extra, then
// loads config.yaml and the environment, applying a -transport override.
func loadConfig(name string, args []string, extra ...func(*flag.FlagSet)) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	transportFlag := fs.String("transport", "", "transport to use (http or socket)")
	for _, register := range extra {
		register(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if *transportFlag != "" {
		kind, err := transport.ParseKind(*transportFlag)
		if err != nil {
			return nil, err
		}
		cfg.SetTransport(string(kind))
	}
	return cfg, nil
}

// app is the wired object graph shared by the commands.
type app struct {
	cfg     *config.Config
	counter *counter.Counter
	manager *manager.Manager
}

func newApp(cfg *config.Config) (*app, error) {
	c := counter.New()
	reg := mcp.NewRegistry()
	if err := counter.RegisterTools(reg, c); err != nil {
		return nil, err
	}
	dispatcher := mcp.NewDispatcher(reg,
		mcp.WithServerInfo(cfg.GetServiceName(), mcp.ServerVersion),
		mcp.WithInstructions(counter.Instructions),
	)

	kind, err := transport.ParseKind(cfg.GetTransport())
	if err != nil {
		return nil, err
	}
	m, err := manager.New(c, manager.NewTransportFactory(dispatcher, cfg), manager.WithInitialKind(kind))
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, counter: c, manager: m}, nil
}

func printExport(w io.Writer, a *app) error {
	data, err := a.manager.ExportConfig(a.cfg.GetServiceName()).JSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func cmdServe(args []string) error {
	cfg, err := loadConfig("serve", args)
	if err != nil {
		return err
	}

	logger.SetDebug(cfg.Debug)
	logPath, err := logger.DefaultLogPath()
	if err != nil {
		return err
	}
	if err := logger.Init(logPath); err != nil {
		return err
	}
	defer logger.Close()
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.GetServiceName(), cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	a.counter.Subscribe(func(v int64) {
		log.Debug("counter changed", "value", v)
	})
	a.manager.Subscribe(func(st manager.State) {
		log.Info("transport state changed", "state", st.String())
		fmt.Fprintf(os.Stderr, "mcpbridge: %s\n", st)
	})

	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	if err := printExport(os.Stdout, a); err != nil {
		log.Warn("failed to print client config", "error", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return a.manager.Close()
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				reload(gctx, a, log)
			}
		}
	})
	return g.Wait()
}

// reload re-reads the configuration and switches transport when the
// configured kind changed. Failures are logged; the process keeps running.
func reload(ctx context.Context, a *app, log *slog.Logger) {
	next, err := config.Load()
	if err != nil {
		log.Error("reload failed", "error", err)
		return
	}
	kind, err := transport.ParseKind(next.GetTransport())
	if err != nil {
		log.Error("reload failed", "error", err)
		return
	}

	log.Info("reloading configuration", "transport", kind)
	a.cfg.SetTransport(string(kind))
	if err := a.manager.SetTransport(ctx, kind); err != nil {
		log.Error("transport switch failed", "transport", kind, "error", err)
		return
	}
	if !a.manager.State().Running() {
		if err := a.manager.Start(ctx); err != nil {
			log.Error("restart failed", "transport", kind, "error", err)
			return
		}
	}
	if err := printExport(os.Stdout, a); err != nil {
		log.Error("failed to print client config", "error", err)
	}
}

func cmdConfig(args []string) error {
	var save bool
	cfg, err := loadConfig("config", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&save, "save", false, "write the effective settings to config.yaml")
	})
	if err != nil {
		return err
	}
	// Nothing is served; keep the log quiet.
	if err := logger.Init(os.DevNull); err != nil {
		return err
	}

	if save {
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		configPath, _ := paths.ConfigFilePath()
		fmt.Fprintf(os.Stderr, "mcpbridge: saved %s\n", configPath)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if note := exportNote(a.manager.State().Kind, cfg.GetHTTPStartPort()); note != "" {
		fmt.Fprintf(os.Stderr, "mcpbridge: %s\n", note)
	}
	return printExport(os.Stdout, a)
}

// exportNote returns a caveat for exports printed without a running server.
// An HTTP transport that finds its start port taken binds the next free one,
// so only the export printed by serve is authoritative.
func exportNote(kind transport.Kind, startPort int) string {
	if kind != transport.KindHTTP {
		return ""
	}
	return fmt.Sprintf("port %d is the first port serve tries; if it is taken, "+
		"serve binds the next free port and prints the export it actually uses", startPort)
}

func cmdDoctor(args []string) error {
	var clearLogs bool
	cfg, err := loadConfig("doctor", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&clearLogs, "clear-logs", false, "remove mcpbridge log files")
	})
	if err != nil {
		return err
	}
	if err := logger.Init(os.DevNull); err != nil {
		return err
	}

	if clearLogs {
		n, err := logger.ClearLogs()
		if err != nil {
			return fmt.Errorf("clear logs: %w", err)
		}
		fmt.Printf("Removed %d log file(s)\n\n", n)
	}

	configPath, _ := paths.ConfigFilePath()
	logPath, _ := logger.DefaultLogPath()
	socketPath, err := cfg.GetSocketPath()
	if err != nil {
		socketPath = fmt.Sprintf("(unavailable: %v)", err)
	}
	layout := "xdg"
	if paths.IsLegacyLayout() {
		layout = "legacy"
	}

	fmt.Printf("Config file:   %s\n", configPath)
	fmt.Printf("Log file:      %s\n", logPath)
	fmt.Printf("Socket path:   %s\n", socketPath)
	fmt.Printf("Layout:        %s\n", layout)
	fmt.Printf("Service name:  %s\n", cfg.GetServiceName())
	fmt.Printf("Transport:     %s\n", cfg.GetTransport())
	fmt.Printf("HTTP port:     %d (first tried)\n", cfg.GetHTTPStartPort())
	if cfg.OTelEndpoint != "" {
		fmt.Printf("OTLP endpoint: %s\n", cfg.OTelEndpoint)
	}
	fmt.Println()

	kind, err := transport.ParseKind(cfg.GetTransport())
	if err != nil {
		return err
	}
	results := cli.CheckAll(context.Background(), cli.ClientPrerequisites(kind))
	fmt.Print(cli.FormatCheckResults(kind, results))
	return cli.MissingRequired(results)
}
