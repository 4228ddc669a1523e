package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/harrisonrobin/taskweave/pkg/config"
	"github.com/harrisonrobin/taskweave/pkg/google"
	"github.com/harrisonrobin/taskweave/pkg/service"
	"github.com/harrisonrobin/taskweave/pkg/store"
)

// app is what every subcommand runs against.
type app struct {
	cfg *config.Config
	svc *service.Service
	out io.Writer
}

type command struct {
	usage string
	// offline commands never open the store
	offline bool
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"reconcile":        {usage: "reconcile --doc ID [--file PATH]   parse a document (stdin by default), print it annotated", run: runReconcile},
	"complete":         {usage: "complete TASK_ID                    mark a task done", run: runComplete},
	"reopen":           {usage: "reopen TASK_ID                      mark a task not done", run: runReopen},
	"delete":           {usage: "delete TASK_ID                      delete a task and its document lines", run: runDelete},
	"repeat":           {usage: "repeat TASK_ID RULE... | --clear    attach or clear a recurrence rule", run: runRepeat},
	"link":             {usage: "link TASK_ID RESOURCE_ID            sync a task to a task list from now on", run: runLink},
	"show":             {usage: "show [TASK_ID] [--doc ID] [--events RESOURCE_ID]", run: runShow},
	"auth":             {usage: "auth [--account NAME]               authorize a Google account", offline: true, run: runAuth},
	"discover":         {usage: "discover [--account NAME]           list task lists and calendars", run: runDiscover},
	"add-resource":     {usage: "add-resource --endpoint ID --kind task_list|event_calendar [--name N] [--account A]", run: runAddResource},
	"remove-resource":  {usage: "remove-resource RESOURCE_ID", run: runRemoveResource},
	"sync":             {usage: "sync [RESOURCE_ID]                  run one sync pass", run: runSync},
	"daemon":           {usage: "daemon [--interval 15m]             sync on a timer until interrupted", run: runDaemon},
	"prune-tombstones": {usage: "prune-tombstones [--older-than 2160h]", run: runPrune},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			log.Error().Err(err).Msg("taskweave failed")
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	global := pflag.NewFlagSet("taskweave", pflag.ContinueOnError)
	configPath := global.String("config", "", "config file (default ~/.config/taskweave/config.json)")
	verbose := global.BoolP("verbose", "v", false, "debug logging")
	global.SetInterspersed(false)
	global.Usage = func() { printUsage(os.Stderr, global) }
	if err := global.Parse(args); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFrom(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(os.Stderr, global)
		return pflag.ErrHelp
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage(os.Stderr, global)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	closeLog, err := setupLogging(cfg, *verbose, rest[0] == "daemon")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, out: os.Stdout}
	if !cmd.offline {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		conn := google.NewConnector(nil)
		a.svc = service.New(st, service.Options{
			Connector:              conn,
			Discoverer:             conn,
			DeleteTombstonedRemote: cfg.DeleteTombstonedRemote,
		})
	}
	return cmd.run(ctx, a, rest[1:])
}

// setupLogging writes human-readable logs to stderr, or to the configured
// log file when running as a daemon.
func setupLogging(cfg *config.Config, verbose, daemon bool) (func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	closer := func() {}
	if daemon && cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		out = zerolog.ConsoleWriter{Out: f, TimeFormat: "2006-01-02_15:04:05", NoColor: true}
		closer = func() { f.Close() }
	}
	log.Logger = log.Output(out)
	return closer, nil
}

func printUsage(w io.Writer, global *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: taskweave [--config PATH] [-v] COMMAND [ARGS]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "global flags:")
	fmt.Fprint(w, global.FlagUsages())
}
