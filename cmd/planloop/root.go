package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/planloop-dev/planloop/decision"
	"github.com/planloop-dev/planloop/llm"
	"github.com/planloop-dev/planloop/memory"
	"github.com/planloop-dev/planloop/perception"
	"github.com/planloop-dev/planloop/sessionloop"
	"github.com/planloop-dev/planloop/toolexec"
)

var version = "dev"

var (
	flagConfig   string
	flagProvider string
	flagModel    string
	flagStrategy string
	flagVerbose  bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "planloop [query]",
		Short: "Run agent sessions: perceive, plan, execute, replan",
		Long: `planloop drives a query through an agent session loop: prior sessions are
searched for a ready answer, a plan is drafted, and plan steps execute
against a tool registry until the goal is met, the session needs
clarification, or a safety ceiling stops it.

With a query argument it runs one session and exits; with no argument it
starts an interactive prompt.`,
		Version: version,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&flagProvider, "provider", "", "LLM provider (openai, anthropic)")
	cmd.Flags().StringVar(&flagModel, "model", "", "model override")
	cmd.Flags().StringVar(&flagStrategy, "strategy", "", "planning strategy (default exploratory)")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
	return cmd
}

func run(ctx context.Context, args []string) error {
	cfg, err := LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagProvider != "" {
		cfg.Provider = flagProvider
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagStrategy != "" {
		cfg.Strategy = flagStrategy
	}
	if flagVerbose {
		cfg.Verbose = true
	}

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if len(args) > 0 {
		return app.RunOnce(ctx, strings.Join(args, " "))
	}
	return app.RunREPL(ctx)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

// app holds the wired session stack.
type app struct {
	loop   *sessionloop.Loop
	store  *memory.Store
	trace  *sessionloop.ChannelSink
	done   chan struct{}
	client *llm.Client
	logger *zap.Logger
	cfg    Config
}

func buildApp(cfg Config, logger *zap.Logger) (*app, error) {
	var clientOpts []llm.ClientOption
	if cfg.Provider != "" {
		clientOpts = append(clientOpts, llm.WithDefaultProvider(cfg.Provider))
	}
	client, err := llm.NewClientFromEnv(clientOpts...)
	if err != nil {
		return nil, err
	}

	store, err := memory.NewStore(expandHome(cfg.MemoryDir), memory.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	fileSink, err := memory.NewFileSink(expandHome(cfg.SessionsDir), logger)
	if err != nil {
		return nil, err
	}

	registry := toolexec.Builtins()
	executor := toolexec.NewExecutor(registry)

	perceiver := perception.New(client, perception.WithModel(cfg.Model))
	decider := decision.New(client,
		decision.WithModel(cfg.Model),
		decision.WithToolDocs(registry.Docs()),
	)

	trace := sessionloop.NewChannelSink(256)
	loopCfg := sessionloop.Config{
		Strategy:            cfg.Strategy,
		FailureWindowSize:   cfg.FailureWindow,
		FailureSummaryLimit: cfg.FailureSummaryLimit,
		MaxPlanVersions:     cfg.MaxPlanVersions,
		RepeatLimit:         cfg.RepeatLimit,
	}
	loop := sessionloop.New(store, perceiver, decider, executor, &loopCfg, fileSink, trace)

	a := &app{
		loop:   loop,
		store:  store,
		trace:  trace,
		done:   make(chan struct{}),
		client: client,
		logger: logger,
		cfg:    cfg,
	}
	go func() {
		defer close(a.done)
		for u := range trace.Updates() {
			printUpdate(u)
		}
	}()
	return a, nil
}

// RunOnce drives a single session and prints its outcome.
func (a *app) RunOnce(ctx context.Context, query string) error {
	session, err := a.loop.Run(ctx, query)
	if err != nil {
		return fmt.Errorf("session failed: %w", err)
	}
	a.finishSession(ctx, session)
	return nil
}

// finishSession indexes a completed session and prints the outcome banner.
func (a *app) finishSession(ctx context.Context, session *sessionloop.Session) {
	if session == nil {
		return
	}
	if err := a.store.IndexSession(ctx, session); err != nil {
		a.logger.Warn("failed to index session",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
	printOutcome(session)
}

// Close shuts the trace stream down and releases the LLM client.
func (a *app) Close() {
	a.trace.Close()
	<-a.done
	if err := a.client.Close(); err != nil {
		a.logger.Warn("closing llm client", zap.Error(err))
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
