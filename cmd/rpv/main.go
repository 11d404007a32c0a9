// rpv is a terminal viewer for ratelprof CPU/GPU profiling captures.
//
// It loads a capture, builds the timeline model (items grouped by domain,
// resource and sub-resource) and browses it in a TUI that reloads whenever the
// capture file is rewritten.
//
// Usage:
//
//	rpv                         # Auto-discover .ratelprof/trace.{json,msgpack,b64}
//	rpv --capture <path>        # Use a specific capture file
//	rpv --json                  # Dump the timeline model as JSON and exit
//	rpv --view events           # Start in a specific view
//	rpv --refresh 5s            # Set polling fallback interval
//	rpv -vv --log-file rpv.log  # Debug logging while the TUI runs
//	rpv --version               # Print version and exit
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daviddao/ratelprof_viewer/internal/datasource"
	"github.com/daviddao/ratelprof_viewer/internal/grouptree"
	"github.com/daviddao/ratelprof_viewer/internal/snapshot"
	"github.com/daviddao/ratelprof_viewer/internal/timeline"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

// parseViewFlag maps a --view flag string to a viewID.
func parseViewFlag(s string) (viewID, error) {
	switch strings.ToLower(s) {
	case "dashboard", "d":
		return viewDashboard, nil
	case "groups", "tree", "t":
		return viewGroups, nil
	case "events", "e":
		return viewEvents, nil
	default:
		return 0, fmt.Errorf("unknown view %q (valid: dashboard, groups, events)", s)
	}
}

// jsonOutput is the structure for --json mode: the renderer contract plus the
// padded window the browser viewer opens on. Item times and the window are
// microseconds; minStart and maxEnd stay raw nanoseconds. Units spells this
// out for consumers.
type jsonOutput struct {
	Capture  string            `json:"capture"`
	Items    []timeline.Item   `json:"items"`
	Groups   []grouptree.Group `json:"groups"`
	MinStart int64             `json:"minStart"`
	MaxEnd   int64             `json:"maxEnd"`
	Window   [2]float64        `json:"window"`
	Units    jsonUnits         `json:"units"`
	Stats    jsonStats         `json:"stats"`
}

type jsonUnits struct {
	Items  string `json:"items"`
	Bounds string `json:"bounds"`
	Window string `json:"window"`
}

var outputUnits = jsonUnits{Items: "us", Bounds: "ns", Window: "us"}

type jsonStats struct {
	Events       int   `json:"events"`
	Items        int   `json:"items"`
	Groups       int   `json:"groups"`
	MainDuration int64 `json:"main_duration_ns"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rpv: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd wires flags, environment and logging around run.
func newRootCmd() *cobra.Command {
	v := viper.New()
	logger := logrus.New()

	cmd := &cobra.Command{
		Use:           "rpv",
		Short:         "Terminal viewer for ratelprof profiling captures",
		Long:          `rpv builds the timeline model of a ratelprof capture and browses it interactively, or dumps it as JSON.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v.SetEnvPrefix("RPV")
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("bind flags: %w", err)
			}
			return configureLogger(logger, cmd.ErrOrStderr(), v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v, logger)
		},
	}
	cmd.SetVersionTemplate("rpv {{.Version}}\n")

	flags := cmd.Flags()
	flags.StringP("capture", "c", "", "path to a capture file (default: auto-discover)")
	flags.Bool("json", false, "dump the timeline model as JSON and exit (no TUI)")
	flags.String("view", "", "start in specific view (dashboard|groups|events)")
	flags.Duration("refresh", 2*time.Second, "polling fallback interval")
	flags.Int("workers", runtime.NumCPU(), "goroutines used to classify events")
	flags.CountP("verbose", "v", "enable extra logging")
	flags.String("log-file", "", "write logs to this file (TUI logs are discarded otherwise)")
	flags.SortFlags = false
	return cmd
}

// configureLogger sets the level from the verbose count. JSON mode logs to
// stderr; the TUI owns the terminal, so it only logs to --log-file.
func configureLogger(logger *logrus.Logger, stderr io.Writer, v *viper.Viper) error {
	logger.SetLevel(logrus.InfoLevel + logrus.Level(v.GetInt("verbose")))
	logger.SetOutput(stderr)
	if path := v.GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(f)
		logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	} else if !v.GetBool("json") {
		logger.SetOutput(io.Discard)
	}
	return nil
}

func run(cmd *cobra.Command, v *viper.Viper, logger *logrus.Logger) error {
	startView := viewDashboard
	if s := v.GetString("view"); s != "" {
		var err error
		if startView, err = parseViewFlag(s); err != nil {
			return err
		}
	}

	path := v.GetString("capture")
	if path == "" {
		var err error
		if path, err = datasource.Discover(); err != nil {
			return err
		}
	}
	logger.WithField("path", path).Info("loading capture")

	builder := timeline.NewBuilder(logger, v.GetInt("workers"))
	snap, err := snapshot.Build(path, builder)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	// --json mode: print the model, exit.
	if v.GetBool("json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(buildJSONOutput(snap)); err != nil {
			return fmt.Errorf("json: %w", err)
		}
		return nil
	}

	w, err := datasource.NewWatcher(path, logger)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	refresh := v.GetDuration("refresh")
	m := newModel(builder, snap, logger)
	m.refreshInterval = refresh
	m.activeView = startView

	p := tea.NewProgram(m, tea.WithAltScreen())

	// Feed capture rewrites into the TUI.
	go func() {
		for range w.Changes() {
			p.Send(captureChangedMsg{force: true})
		}
	}()

	// Polling fallback: re-check the file at --refresh interval even if fsnotify misses events.
	if refresh > 0 {
		go func() {
			ticker := time.NewTicker(refresh)
			defer ticker.Stop()
			for range ticker.C {
				p.Send(captureChangedMsg{})
			}
		}()
	}

	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

// buildJSONOutput converts a snapshot into the JSON output structure.
func buildJSONOutput(snap *snapshot.DataSnapshot) jsonOutput {
	mdl := snap.Model
	start, end := mdl.Window()
	return jsonOutput{
		Capture:  snap.Path,
		Items:    mdl.Items,
		Groups:   mdl.Groups,
		MinStart: mdl.MinStart,
		MaxEnd:   mdl.MaxEnd,
		Window:   [2]float64{start, end},
		Units:    outputUnits,
		Stats: jsonStats{
			Events:       mdl.EventCount,
			Items:        len(mdl.Items),
			Groups:       len(mdl.Groups),
			MainDuration: mdl.MainDuration,
		},
	}
}
