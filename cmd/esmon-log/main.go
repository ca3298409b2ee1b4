package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"

	"github.com/coder/esmon/store"
)

func main() {
	app := root()

	err := app.Run(os.Args)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "esmon-log: %+v\n", err)
		os.Exit(1)
	}
}

func root() *cli.App {
	return &cli.App{
		Name:  "esmon-log",
		Usage: "Print the most recent events recorded by esmon.",
		Description: "Reads the SQLite database written by esmon --database " +
			"and prints one line per event, newest first.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database",
				Aliases:  []string{"d"},
				Usage:    "Path of the esmon SQLite database.",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of events to print.",
				Value:   50,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print events as JSON objects, one per line.",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.Int("limit") < 1 {
				return xerrors.Errorf("limit must be positive, got %d", ctx.Int("limit"))
			}
			log := slog.Make(sloghuman.Sink(ctx.App.ErrWriter)).Leveled(slog.LevelWarn)

			st, err := store.Open(ctx.Context, log, ctx.String("database"))
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.Recent(ctx.Context, ctx.Int("limit"))
			if err != nil {
				return xerrors.Errorf("read events: %w", err)
			}
			if ctx.Bool("json") {
				return printJSON(ctx.App.Writer, entries)
			}
			printText(ctx.App.Writer, entries)
			return nil
		},
	}
}

type jsonEntry struct {
	Kind        string            `json:"kind"`
	Time        time.Time         `json:"time"`
	Executable  string            `json:"executable"`
	SubjectPath string            `json:"subject_path"`
	IsAuth      bool              `json:"auth"`
	PID         int               `json:"pid"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

func printJSON(w io.Writer, entries []store.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		err := enc.Encode(jsonEntry(e))
		if err != nil {
			return xerrors.Errorf("encode event: %w", err)
		}
	}
	return nil
}

func printText(w io.Writer, entries []store.Entry) {
	for _, e := range entries {
		action := "notify"
		if e.IsAuth {
			action = "auth"
		}
		keys := make([]string, 0, len(e.Parameters))
		for k := range e.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		params := make([]string, 0, len(keys))
		for _, k := range keys {
			if k == "target_args" {
				if argv, ok := shellArgv(e.Parameters[k]); ok {
					params = append(params, "argv="+argv)
					continue
				}
			}
			params = append(params, fmt.Sprintf("%s=%q", k, e.Parameters[k]))
		}

		_, _ = fmt.Fprintf(w, "%s %s/%s pid=%d exe=%q subject=%q %s\n",
			e.Time.UTC().Format(time.RFC3339Nano), e.Kind, action, e.PID,
			e.Executable, e.SubjectPath, strings.Join(params, " "))
	}
}

// shellArgv re-renders a stored target_args value as a shell command line.
func shellArgv(stored string) (string, bool) {
	args, err := shellquote.Split(stored)
	if err != nil {
		return "", false
	}
	return shellquote.Join(args...), true
}
