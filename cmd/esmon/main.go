package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"cdr.dev/slog/sloggers/slogjson"

	"github.com/coder/esmon"
	"github.com/coder/esmon/config"
	"github.com/coder/esmon/ebpfsource"
	"github.com/coder/esmon/store"
)

func main() {
	err := rootCmd().ExecuteContext(context.Background())
	if err != nil {
		log.Fatalf("failed to run command: %+v", err)
	}
}

type flags struct {
	configPath   string
	events       []string
	monitorPath  string
	clients      int
	database     string
	denyListFile string
	ebpfObject   string
	compiler     string
	logLevel     string
	logFormat    string
	labels       []string
	verbose      bool
	listEvents   bool
}

func rootCmd() *cobra.Command {
	return newRootCmd(&flags{})
}

func newRootCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "esmon",
		Short: "esmon reports file and process events observed by the kernel.",
		Example: "  esmon -e exec,fork,exit\n" +
			"  esmon -e all,-open -p /opt/app\n" +
			"  esmon --list-events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.listEvents {
				for _, line := range config.ListEvents() {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			}

			cfg, err := loadConfig(cmd, *f)
			if err != nil {
				return err
			}
			logger, err := makeLogger(cfg, f.labels)
			if err != nil {
				return err
			}
			return run(cmd.Context(), logger, cfg)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path of a YAML configuration file")
	cmd.Flags().StringSliceVarP(&f.events, "event", "e", nil, "Events to monitor, e.g. `open,+open,-close,all,+all`; a leading + selects the auth form and - removes")
	cmd.Flags().StringVarP(&f.monitorPath, "path", "p", "", "Only report processes executed from under this path and their descendants")
	cmd.Flags().IntVar(&f.clients, "clients", 1, "Number of event sources to create")
	cmd.Flags().StringVar(&f.database, "database", "", "SQLite database to append events to")
	cmd.Flags().StringVar(&f.denyListFile, "deny-list-file", "", "File of executable paths to mute, reloaded on change")
	cmd.Flags().StringVar(&f.ebpfObject, "ebpf-object", "", "Precompiled eBPF object to load instead of compiling the bundled program")
	cmd.Flags().StringVar(&f.compiler, "compiler", "", "Clang used to compile the bundled eBPF program (default: first clang in PATH)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "human", "Log format: human or json")
	cmd.Flags().StringSliceVar(&f.labels, "label", nil, "Add these labels to all log lines, in the form key=value")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Shorthand for --log-level=debug")
	cmd.Flags().BoolVar(&f.listEvents, "list-events", false, "List supported events, [+] marks events with an auth form")

	return cmd
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("event") {
		cfg.Events = f.events
	}
	if changed("path") {
		cfg.MonitorPath = f.monitorPath
	}
	if changed("clients") {
		cfg.Clients = f.clients
	}
	if changed("database") {
		cfg.Database = f.database
	}
	if changed("deny-list-file") {
		cfg.DenyListFile = f.denyListFile
	}
	if changed("ebpf-object") {
		cfg.EBPFObject = f.ebpfObject
	}
	if changed("compiler") {
		cfg.Compiler = f.compiler
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}

	err := cfg.Validate()
	if err != nil {
		return config.Config{}, xerrors.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func makeLogger(cfg config.Config, rawLabels []string) (slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return slog.Logger{}, err
	}

	var logger slog.Logger
	if cfg.LogFormat == "json" {
		logger = slog.Make(slogjson.Sink(os.Stderr))
	} else {
		logger = slog.Make(sloghuman.Sink(os.Stderr))
	}
	logger = logger.Leveled(level)

	if len(rawLabels) > 0 {
		labels := make(map[string]string, len(rawLabels))
		for _, l := range rawLabels {
			vals := strings.SplitN(l, "=", 2)
			if len(vals) != 2 {
				return slog.Logger{}, xerrors.Errorf("invalid label %q", l)
			}

			labels[strings.TrimSpace(vals[0])] = strings.TrimSpace(vals[1])
		}
		logger = logger.With(slog.F("labels", labels))
	}
	return logger, nil
}

func run(ctx context.Context, logger slog.Logger, cfg config.Config) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subs, err := cfg.Subscriptions()
	if err != nil {
		return err
	}

	suppressor, err := esmon.NewSuppressor(logger.Named("suppressor"), cfg.DenyList)
	if err != nil {
		return err
	}
	if cfg.DenyListFile != "" {
		err = config.WatchDenyList(ctx, logger.Named("config"), cfg.DenyListFile, suppressor.SetDenyList)
		if err != nil {
			return xerrors.Errorf("watch deny-list: %w", err)
		}
	}

	sinks := esmon.MultiSink{esmon.NewLogSink(logger.Named("events"))}
	if cfg.Database != "" {
		db, err := store.Open(ctx, logger.Named("store"), cfg.Database)
		if err != nil {
			return xerrors.Errorf("open database: %w", err)
		}
		sinks = append(sinks, db)
	}
	sink := esmon.Serialize(sinks)
	defer func() {
		cerr := sink.Close()
		if cerr != nil {
			err = multierror.Append(err, xerrors.Errorf("close sinks: %w", cerr))
		}
	}()

	tracker := esmon.NewTracker(logger.Named("tracker"), cfg.MonitorPath)
	opener := ebpfsource.Opener(logger.Named("ebpf"), ebpfsource.Options{
		ObjectPath:   cfg.EBPFObject,
		Compiler:     cfg.Compiler,
		MountTracefs: true,
	})

	logger.Debug(ctx, "starting clients", slog.F("clients", cfg.Clients), slog.F("events", len(subs)))
	clients := make([]*esmon.Client, 0, cfg.Clients)
	defer func() {
		for _, c := range clients {
			cerr := c.Close()
			if cerr != nil {
				err = multierror.Append(err, xerrors.Errorf("close client: %w", cerr))
			}
		}
	}()
	errs := make(chan error, cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		c, err := esmon.New(ctx, logger.Named("client").With(slog.F("client", i)), esmon.Options{
			Opener:     opener,
			Sink:       sink,
			Tracker:    tracker,
			Suppressor: suppressor,
		})
		if err != nil {
			return xerrors.Errorf("create client %d: %w", i, err)
		}
		clients = append(clients, c)

		err = c.Subscribe(subs)
		if err != nil {
			return xerrors.Errorf("subscribe client %d: %w", i, err)
		}
		go func() {
			errs <- c.Wait(ctx)
		}()
	}
	logger.Info(ctx, "monitoring started", slog.F("monitor_path", cfg.MonitorPath))

	// Setup a signal handler so we can gracefully exit.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-signals:
		logger.Warn(ctx, "received signal, exiting")
		return nil
	case err := <-errs:
		if err != nil {
			logger.Error(ctx, "stopping due to fatal error", slog.Error(err))
		}
		return err
	}
}
