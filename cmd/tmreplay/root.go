package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/threatmodel"
	"github.com/zero-day-ai/threatmodel/config"
	"github.com/zero-day-ai/threatmodel/presence"
	"github.com/zero-day-ai/threatmodel/redisconn"
	"github.com/zero-day-ai/threatmodel/session"
	"github.com/zero-day-ai/threatmodel/telemetry"
)

// rootOpts holds the flag values of one invocation.
type rootOpts struct {
	configFile   string
	scenarioFile string
	projectID    string
	traceparent  string
	check        bool
	jsonOutput   bool
}

func newRootCmd() *cobra.Command {
	o := &rootOpts{}

	cmd := &cobra.Command{
		Use:           "tmreplay",
		Short:         "Replay a threat-model editing scenario",
		Long:          "tmreplay loads a project through the configured backend, applies the steps of a scenario file as editor commands, saves and prints a summary.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	addRootFlags(cmd, o)
	return cmd
}

// addRootFlags adds the command's flags.
func addRootFlags(cmd *cobra.Command, o *rootOpts) {
	cmd.PersistentFlags().StringVarP(&o.configFile, "config", "c", "", "config file path (default: search for threatmodel.yaml)")
	cmd.Flags().StringVarP(&o.scenarioFile, "scenario", "s", "", "scenario file to replay")
	cmd.Flags().StringVarP(&o.projectID, "project", "p", "", "project id (overrides scenario and config)")
	cmd.Flags().StringVar(&o.traceparent, "traceparent", "", "W3C traceparent to parent the replay spans")
	cmd.Flags().BoolVar(&o.check, "check", false, "check the configured dependencies and exit")
	cmd.Flags().BoolVar(&o.jsonOutput, "json", false, "print the summary as JSON")
}

func (o *rootOpts) loadConfig() (*config.Config, error) {
	if o.configFile != "" {
		return config.Load(o.configFile)
	}
	cfg, err := config.LoadFromDir(".")
	if errors.Is(err, config.ErrNotFound) {
		return config.Default(), nil
	}
	return cfg, err
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.GetLevel()}
	if cfg.GetFormat() == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (o *rootOpts) run(ctx context.Context, stdout, stderr io.Writer) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.Logging, stderr)

	if o.check {
		return runChecks(ctx, cfg, o.configFile, stdout, logger)
	}

	if o.scenarioFile == "" {
		return errors.New("--scenario is required unless --check is set")
	}
	sc, err := LoadScenario(o.scenarioFile)
	if err != nil {
		return err
	}

	projectID := o.projectID
	if projectID == "" {
		projectID = sc.ProjectID
	}
	if projectID == "" {
		projectID = cfg.ProjectID
	}
	if projectID == "" {
		return errors.New("no project id: pass --project or set project_id in the scenario or config")
	}

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, stderr, logger)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	if o.traceparent != "" {
		ctx = telemetry.ContextFromTraceparent(ctx, o.traceparent)
	}

	backend, err := newBackend(cfg.Backend, cfg.Autosave.GetTimeout(), logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	sessionID := uuid.NewString()

	editorOpts := []threatmodel.Option{
		threatmodel.WithConfig(cfg),
		threatmodel.WithLogger(logger),
		threatmodel.WithTracer(providers.Tracer),
		threatmodel.WithMeterProvider(providers.MeterProvider),
	}
	if backend.Backend != nil {
		editorOpts = append(editorOpts, threatmodel.WithBackend(backend.Backend))
	}

	var tracker *presence.Tracker
	if cfg.Presence.IsEnabled() {
		tracker, err = presence.New(projectID, sessionID, presence.Options{
			Options: redisconn.Options{URL: cfg.Presence.URL},
			Prefix:  cfg.Presence.Prefix,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("connecting presence: %w", err)
		}
		defer threatmodel.CloseWithLog(tracker, logger, "presence tracker")
		editorOpts = append(editorOpts, threatmodel.WithPresence(tracker))
	}

	if cfg.Session != nil {
		registry, err := session.New(cfg.Session.SessionRegistry(), logger)
		if err != nil {
			return fmt.Errorf("connecting session registry: %w", err)
		}
		defer threatmodel.CloseWithLog(registry, logger, "session registry")

		info := sessionInfo(projectID, sessionID)
		if err := registry.Register(ctx, info); err != nil {
			return fmt.Errorf("registering session: %w", err)
		}
		defer func() {
			deregCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := registry.Deregister(deregCtx, info); err != nil {
				logger.Warn("failed to deregister session", "error", err)
			}
		}()
	}

	editor, err := threatmodel.New(projectID, editorOpts...)
	if err != nil {
		return err
	}
	defer threatmodel.CloseWithLog(editor, logger, "editor")

	editor.OnAlert(func(a threatmodel.Alert) {
		logger.Warn("editor alert", "op", a.Op, "kind", a.Kind, "message", a.Message)
	})

	if err := editor.Load(ctx); err != nil {
		return err
	}

	result, err := replay(ctx, editor, sc, tracker, logger)
	if err != nil {
		return err
	}
	return printResult(stdout, result, o.jsonOutput)
}

// replay runs the scenario while listening for other clients' presence
// events.
func replay(ctx context.Context, editor *threatmodel.Editor, sc *Scenario, tracker *presence.Tracker, logger *slog.Logger) (Result, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if tracker != nil {
		events, err := tracker.Subscribe(gctx)
		if err != nil {
			return Result{}, fmt.Errorf("subscribing to presence: %w", err)
		}
		g.Go(func() error {
			for ev := range events {
				logger.Info("presence event",
					"type", ev.Type,
					"client", ev.ClientID,
					"component", ev.ComponentID,
				)
			}
			return nil
		})
	}

	var result Result
	g.Go(func() error {
		defer stop()
		var err error
		result, err = NewRunner(editor).Run(gctx, sc)
		return err
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return result, nil
}

func sessionInfo(projectID, sessionID string) session.Info {
	host, _ := os.Hostname()
	return session.Info{
		ProjectID: projectID,
		SessionID: sessionID,
		User:      os.Getenv("USER"),
		Host:      host,
		Version:   Version,
		Metadata:  map[string]string{"client": "tmreplay"},
		StartedAt: time.Now().UTC(),
	}
}

func printResult(w io.Writer, r Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "project:           %s\n", r.ProjectID)
	if r.SystemID != "" {
		fmt.Fprintf(w, "system:            %s\n", r.SystemID)
	}
	fmt.Fprintf(w, "steps:             %d\n", r.Steps)
	fmt.Fprintf(w, "status:            %s\n", r.Status)
	fmt.Fprintf(w, "components:        %d\n", r.Components)
	fmt.Fprintf(w, "connections:       %d\n", r.Connections)
	fmt.Fprintf(w, "connection points: %d\n", r.ConnectionPoints)
	fmt.Fprintf(w, "points of attack:  %d\n", r.PointsOfAttack)
	return nil
}
