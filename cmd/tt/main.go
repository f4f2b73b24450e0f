package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"textrain/internal/app"
	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/model"
	"textrain/internal/pipeline"
	"textrain/internal/runlog"
	"textrain/internal/server"
	"textrain/internal/settings"
	"textrain/internal/tasks"
)

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "Textrain CLI",
	Long: `Textrain trains event and relation extraction models over preprocessed corpora.
A run works one output directory and moves through four fixed phases:
- TRAIN builds classifier examples from the train and devel sets, optimizes
  each stage over its parameter grid and packages the winners into the devel
  and test model artifacts.
- DEVEL classifies the devel set with the packaged devel model as a check.
- EMPTY repeats that classification over a devel set stripped of its gold
  annotation, the way unseen data would arrive.
- TEST classifies the test set with the final model.
Runs resume with --step, drop phases with --omit-steps, and land in the
workspace ledger (tt runs list). Task profiles named after the BioNLP and DDI
shared tasks preset detectors, styles and grids (tt tasks list).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := buildLogger(viper.GetString("log-level"), viper.GetString("log-format"))
		if err != nil {
			return err
		}
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if domain.IsConfig(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TEXTRAIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func trainCmd() *cobra.Command {
	var o pipeline.Options
	var connection, corpusDir string
	var unmerging, modifiers bool
	var noLog bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train event and relation extraction models",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			s, err := app.Resolve(workspace, app.Overrides{
				CorpusDir:  settingOverride(corpusDir, "corpus-dir"),
				Connection: settingOverride(connection, "connection"),
			})
			if err != nil {
				return err
			}
			o.Workspace = workspace
			o.CorpusDir = s.CorpusDir
			o.Connection = s.Connection
			if cmd.Flags().Changed("unmerging") {
				o.Unmerging = &unmerging
			}
			if cmd.Flags().Changed("modifiers") {
				o.Modifiers = &modifiers
			}
			if noLog {
				o.LogFile = ""
			}
			o.LogHandler, err = logHandlerFor(viper.GetString("log-level"), viper.GetString("log-format"))
			if err != nil {
				return err
			}
			return pipeline.Run(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.Output, "output", "o", "", "output directory for the run (required)")
	f.StringVarP(&o.Task, "task", "t", "", "task id (GE11, DDI11, REN11, ...)")
	f.StringVarP(&o.Parse, "parse", "p", "", "parse name (default McCC)")
	f.StringVarP(&connection, "connection", "c", "", "connection name (settings connection when unset)")
	f.StringVar(&o.Files.Train, "train-file", "", "training corpus file")
	f.StringVar(&o.Files.Devel, "devel-file", "", "development corpus file")
	f.StringVar(&o.Files.Test, "test-file", "", "test corpus file")
	f.StringVar(&o.DevelModel, "devel-model", "", `devel model target (default "model-devel"; "none" disables)`)
	f.StringVar(&o.TestModel, "test-model", "", `test model target (default "model-test"; "none" disables)`)
	f.StringVar(&o.Detector, "detector", "", "detector name (task default when unset)")
	f.BoolVar(&o.SingleStage, "single-stage", false, "train a single-stage detector")
	f.StringVar(&o.ExamplesStyle, "example-style", "", "single-stage example style overrides")
	f.StringVar(&o.TriggerStyle, "trigger-style", "", "trigger example style overrides")
	f.StringVar(&o.EdgeStyle, "edge-style", "", "edge example style overrides")
	f.StringVar(&o.UnmergingStyle, "unmerging-style", "", "unmerging example style overrides")
	f.StringVar(&o.ModifierStyle, "modifier-style", "", "modifier example style overrides")
	f.StringVarP(&o.ExamplesGrid, "example-params", "e", "", "single-stage classifier parameter grid")
	f.StringVarP(&o.TriggerGrid, "trigger-params", "r", "", "trigger classifier parameter grid")
	f.StringVarP(&o.RecallGrid, "recall-params", "a", "", "recall adjustment grid")
	f.StringVarP(&o.EdgeGrid, "edge-params", "d", "", "edge classifier parameter grid")
	f.StringVarP(&o.UnmergingGrid, "unmerging-params", "n", "", "unmerging classifier parameter grid")
	f.StringVarP(&o.ModifierGrid, "modifier-params", "f", "", "modifier classifier parameter grid")
	f.BoolVar(&o.FullGrid, "full-grid", false, "grid-search trigger and recall parameters together")
	f.StringVar(&o.Evaluation, "evaluation-params", "", "evaluation chain (task default when unset)")
	f.StringVar(&o.Preprocessor, "preprocessor-params", "", "preprocessor parameters to store in the models")
	f.BoolVarP(&unmerging, "unmerging", "u", false, "force unmerging on or off (task default when unset)")
	f.BoolVarP(&modifiers, "modifiers", "m", false, "force modifier detection on or off (task default when unset)")
	f.StringVar(&o.Step, "step", "", "resume point (TRAIN, DEVEL, EMPTY, TEST or TRAIN:substep)")
	f.StringVar(&o.OmitSteps, "omit-steps", "", "phases or TRAIN substeps to leave out (colon-separated)")
	f.StringVar(&o.Subset, "subset", "", "train on a corpus subset (train=0.5 or train=0.5:seed=7)")
	f.StringVar(&o.Folds, "folds", "", "rebuild the sets from folds (train=f1,f2:devel=f3)")
	f.StringVar(&o.CopyFrom, "copy-from", "", "seed the output directory from this template directory")
	f.BoolVar(&o.DeleteOutput, "clear-all", false, "delete an existing output directory first")
	f.StringVar(&o.LogFile, "log-file", "log.txt", "run log file inside the output directory")
	f.BoolVar(&noLog, "no-log", false, "disable the run log file")
	f.BoolVar(&o.Debug, "debug", false, "keep debug detail in the stored example styles")
	f.StringVar(&corpusDir, "corpus-dir", "", "corpus directory (settings corpus_dir when unset)")
	return cmd
}

func tasksCmd() *cobra.Command {
	t := &cobra.Command{Use: "tasks", Short: "Inspect the task catalog"}
	t.AddCommand(tasksListCmd())
	t.AddCommand(tasksShowCmd())
	return t
}

func tasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recognized tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			type row struct {
				ID          string `json:"id"`
				Detector    string `json:"detector"`
				SingleStage bool   `json:"single_stage"`
				Unmerging   bool   `json:"unmerging"`
				Modifiers   bool   `json:"modifiers"`
			}
			ctx := quiet(cmd.Context())
			var rows []row
			for _, id := range tasks.Recognized() {
				p, err := tasks.Resolve(ctx, id, tasks.Overrides{PlanOnly: true})
				if err != nil {
					return err
				}
				rows = append(rows, row{ID: id, Detector: p.Detector, SingleStage: p.SingleStage, Unmerging: p.Unmerging, Modifiers: p.Modifiers})
			}
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Detector", "Single-stage", "Unmerging", "Modifiers"})
			for _, r := range rows {
				tw.AppendRow(table.Row{r.ID, r.Detector, r.SingleStage, r.Unmerging, r.Modifiers})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func tasksShowCmd() *cobra.Command {
	var corpusDir string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a resolved task profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Resolve(viper.GetString("workspace"), app.Overrides{
				CorpusDir: settingOverride(corpusDir, "corpus-dir"),
			})
			if err != nil {
				return err
			}
			p, err := tasks.Resolve(quiet(cmd.Context()), args[0], tasks.Overrides{CorpusDir: s.CorpusDir, PlanOnly: true})
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&corpusDir, "corpus-dir", "", "corpus directory (settings corpus_dir when unset)")
	return cmd
}

func runsCmd() *cobra.Command {
	r := &cobra.Command{Use: "runs", Short: "Inspect the run ledger"}
	r.AddCommand(runsListCmd())
	r.AddCommand(runsShowCmd())
	return r
}

func runsListCmd() *cobra.Command {
	var f runlog.RunFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *runlog.Log) error {
				runs, err := l.ListRuns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Detector", "Status", "Started", "Finished"})
				for _, r := range runs {
					finished := ""
					if r.FinishedAt != nil {
						finished = *r.FinishedAt
					}
					tw.AppendRow(table.Row{r.ID, r.Task, r.Detector, r.Status, r.StartedAt, finished})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (running, finished, failed)")
	cmd.Flags().StringVar(&f.Task, "task", "", "task filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum runs to list")
	return cmd
}

func runsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run with its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *runlog.Log) error {
				r, err := l.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := l.ListEvents(ctx, r.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": r, "events": events})
				}
				fmt.Printf("Run:        %s\n", r.ID)
				fmt.Printf("Output:     %s\n", r.OutputDir)
				fmt.Printf("Task:       %s\n", r.Task)
				fmt.Printf("Detector:   %s\n", r.Detector)
				fmt.Printf("Connection: %s\n", r.Connection)
				fmt.Printf("Status:     %s\n", r.Status)
				fmt.Printf("Started:    %s\n", r.StartedAt)
				if r.FinishedAt != nil {
					fmt.Printf("Finished:   %s\n", *r.FinishedAt)
				}
				if r.Error != "" {
					fmt.Printf("Error:      %s\n", r.Error)
				}
				if len(events) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Phase", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.Phase, truncate(ev.Payload, 48)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func modelsCmd() *cobra.Command {
	m := &cobra.Command{Use: "models", Short: "Inspect model artifacts"}
	m.AddCommand(modelsShowCmd())
	return m
}

func modelsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <path>",
		Short: "Show the settings stored in a model artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := model.Open(args[0], model.Read)
			if err != nil {
				return err
			}
			defer m.Close()
			keys, err := m.Keys()
			if err != nil {
				return err
			}
			values := make(map[string]string, len(keys))
			for _, k := range keys {
				v, err := m.GetStr(k)
				if err != nil {
					return err
				}
				values[k] = v
			}
			if viper.GetBool("json") {
				return printJSON(values)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Key", "Value"})
			for _, k := range keys {
				tw.AppendRow(table.Row{k, truncate(values[k], 64)})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func settingsCmd() *cobra.Command {
	s := &cobra.Command{Use: "settings", Short: "Manage workspace settings"}
	s.AddCommand(settingsInitCmd())
	return s
}

func settingsInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default textrain.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settings.Init(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"path": path})
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger and task catalog over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			s, err := app.Resolve(workspace, app.Overrides{
				Addr:     settingOverride(addr, "addr"),
				BasePath: settingOverride(basePath, "base-path"),
			})
			if err != nil {
				return err
			}
			ledger, err := runlog.Open(workspace)
			if err != nil {
				return err
			}
			defer ledger.Close()
			handler, err := server.New(server.Config{
				Ledger:    ledger,
				CorpusDir: s.CorpusDir,
				BasePath:  s.Server.BasePath,
				Auth:      server.AuthConfig{JWTSecret: os.Getenv("TEXTRAIN_JWT_SECRET")},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: s.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving textrain API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", s.Server.Addr, s.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (settings server.addr when unset)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (settings server.base_path when unset)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tt version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(map[string]string{"version": app.Version})
			}
			fmt.Println("tt", app.Version)
			return nil
		},
	}
}

// --- helpers ---

func withLedger(ctx context.Context, fn func(context.Context, *runlog.Log) error) error {
	l, err := runlog.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(ctx, l)
}

// settingOverride resolves a per-command settings override: an explicit
// flag wins, then the TEXTRAIN_* environment; empty hands the decision to
// the settings file.
func settingOverride(flagValue, key string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(key)
}

func buildLogger(level, format string) (*slog.Logger, error) {
	build, err := logHandlerFor(level, format)
	if err != nil {
		return nil, err
	}
	return slog.New(build(os.Stderr)), nil
}

func logHandlerFor(level, format string) (func(io.Writer) slog.Handler, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, domain.Configf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: l}
	switch format {
	case "", "text":
		return func(w io.Writer) slog.Handler { return slog.NewTextHandler(w, opts) }, nil
	case "json":
		return func(w io.Writer) slog.Handler { return slog.NewJSONHandler(w, opts) }, nil
	default:
		return nil, domain.Configf("invalid log format %q (text or json)", format)
	}
}

// quiet drops resolution logging from catalog commands; the table is the
// output there.
func quiet(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
