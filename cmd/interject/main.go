// Command interject runs the chat-participation agent: it connects to
// Discord, archives everything it can see, and joins conversations when the
// two-stage pipeline decides a reply is warranted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"interject"
	"interject/embed"
	"interject/gateway/discord"
	"interject/internal/config"
	"interject/internal/logsink"
	"interject/llm"
	"interject/observer"
	"interject/semindex"
	"interject/store/postgres"
	"interject/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "interject:", err)
		os.Exit(1)
	}
}

func run() error {
	envPath := flag.String("env", "ENV.cfg", "path to the credential file")
	profilePath := flag.String("profile", "", "path to the TOML profile (default interject.toml)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	// The log sink comes up first and is drained last.
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	sink, logger := logsink.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	defer sink.Close()

	env, err := config.LoadEnvFile(*envPath, logger)
	if err != nil {
		return err
	}
	llmKey, ok := env.Str(config.KeyLLMToken)
	if !ok || llmKey == "" {
		return fmt.Errorf("%s missing from %s", config.KeyLLMToken, *envPath)
	}
	botKey, ok := env.Str(config.KeyGatewayToken)
	if !ok || botKey == "" {
		return fmt.Errorf("%s missing from %s", config.KeyGatewayToken, *envPath)
	}

	profile := config.LoadProfile(*profilePath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst := observer.Noop()
	if profile.Observer.Enabled {
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("observer init: %w", err)
		}
		defer shutdown(context.Background())
		logger.Info("observer enabled")
	}

	open, closePool, err := storeFactory(ctx, profile.Store, inst, logger)
	if err != nil {
		return err
	}
	defer closePool()

	embedder := observer.WrapEmbedder(
		embed.New(profile.Embed.BaseURL, embed.WithLogger(logger.With("component", "embed"))),
		inst,
	)

	arch := interject.NewArchiver(open, embedder,
		interject.ArchiverLogger(logger.With("component", "archiver")))
	defer arch.Close()

	index := semindex.New(arch.ChannelEmbeddings,
		semindex.WithLogger(logger.With("component", "semindex")))
	defer index.Close()

	llmOpts := []llm.Option{llm.WithLogger(logger.With("component", "llm"))}
	if profile.LLM.BaseURL != "" {
		llmOpts = append(llmOpts, llm.WithURL(profile.LLM.BaseURL))
	}
	llmClient := observer.WrapLLM(llm.New(llmKey, llmOpts...), inst)

	gw, err := discord.New(botKey, discord.WithLogger(logger.With("component", "gateway")))
	if err != nil {
		return err
	}

	var agentOpts []interject.AgentOption
	agentOpts = append(agentOpts, interject.WithLogger(logger.With("component", "agent")))
	if profile.LLM.Model != "" || profile.LLM.FastModel != "" {
		model, fast := profile.LLM.Model, profile.LLM.FastModel
		if model == "" {
			model = interject.DefaultModel
		}
		if fast == "" {
			fast = interject.DefaultFastModel
		}
		agentOpts = append(agentOpts, interject.WithModels(model, fast))
	}
	if profile.Agent.Instructions != "" || profile.Agent.PrefilterInstructions != "" {
		persona, prefilter := profile.Agent.Instructions, profile.Agent.PrefilterInstructions
		if persona == "" {
			persona = interject.DefaultInstructions
		}
		if prefilter == "" {
			prefilter = interject.DefaultPrefilterInstructions
		}
		agentOpts = append(agentOpts, interject.WithInstructions(persona, prefilter))
	}
	if profile.Agent.BackfillTarget > 0 {
		agentOpts = append(agentOpts, interject.WithBackfillTarget(profile.Agent.BackfillTarget))
	}

	agent := interject.NewAgent(observer.WrapGateway(gw, inst), arch, llmClient, embedder, index, agentOpts...)

	if err := gw.Open(ctx); err != nil {
		return err
	}
	logger.Info("gateway connected")

	err = agent.Run(ctx)

	// Orderly shutdown: stop event intake, join backfill workers and drain
	// the LLM queue, then let the deferred closes release storage and the
	// log sink.
	if cerr := gw.Close(); cerr != nil {
		logger.Warn("gateway close failed", "error", cerr)
	}
	if cerr := agent.Close(); cerr != nil {
		logger.Warn("agent close failed", "error", cerr)
	}
	return err
}

// storeFactory builds the per-server store opener for the configured
// backend and returns a pool closer (a no-op for sqlite).
func storeFactory(ctx context.Context, cfg config.StoreProfile, inst *observer.Instruments, logger *slog.Logger) (interject.OpenStore, func(), error) {
	switch cfg.Backend {
	case "", "sqlite":
		open := func(serverID interject.Snowflake) (interject.Store, error) {
			path := filepath.Join(cfg.Dir, serverID.String(), "persistence.db")
			st, err := sqlite.Open(path, sqlite.WithLogger(logger.With("component", "store", "server", serverID)))
			if err != nil {
				return nil, err
			}
			return observer.WrapStore(st, inst), nil
		}
		return open, func() {}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		open := func(serverID interject.Snowflake) (interject.Store, error) {
			st, err := postgres.New(ctx, pool, serverID,
				postgres.WithLogger(logger.With("component", "store", "server", serverID)))
			if err != nil {
				return nil, err
			}
			return observer.WrapStore(st, inst), nil
		}
		return open, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
