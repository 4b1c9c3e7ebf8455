package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nshkrdotcom/mcpflow/agent"
	"github.com/nshkrdotcom/mcpflow/config"
	"github.com/nshkrdotcom/mcpflow/llm"
	"github.com/nshkrdotcom/mcpflow/mcpconn"
)

// shutdownGrace is how long MCP servers get to exit cleanly before a
// force kill.
const shutdownGrace = 5 * time.Second

// runtime wires a loaded config into live components for one workflow.
type runtime struct {
	cfg     *config.Config
	manager *mcpconn.Manager
	client  *llm.Client
	gateway *llm.Gateway
	logger  *slog.Logger
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	path, err := config.Discover(opts.configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// newRuntime builds the MCP manager and LLM gateway for a workflow.
func newRuntime(cfg *config.Config, wf config.WorkflowConfig) (*runtime, error) {
	logger := slog.Default()

	provider := wf.Provider
	if provider == "" {
		provider = llm.InferProvider(wf.Model)
	}
	if provider == "" {
		provider = cfg.DefaultProvider
	}
	if provider == "" {
		return nil, fmt.Errorf("cannot determine provider for model %s; set provider in the workflow or default_provider", wf.Model)
	}

	adapter, err := llm.NewGollmAdapter(provider, "", llm.WithModel(wf.Model))
	if err != nil {
		return nil, err
	}

	rps, burst := cfg.LLM.RateLimit()
	client := llm.NewClient(
		llm.WithAdapter(provider, adapter),
		llm.WithDefaultProvider(provider),
		llm.WithMiddleware(llm.RateLimitMiddleware(rps, burst)),
	)

	gatewayOpts := []llm.GatewayOption{llm.WithLogger(logger)}
	if cfg.LLM.RequestTimeout > 0 {
		gatewayOpts = append(gatewayOpts, llm.WithRequestTimeout(cfg.LLM.RequestTimeout))
	}
	gateway := llm.NewGateway(client, gatewayOpts...)

	manager := mcpconn.NewManager(mcpconn.ManagerConfig{Logger: logger})
	for _, name := range wf.Servers {
		connCfg, err := cfg.ConnConfig(name)
		if err != nil {
			_ = manager.CloseAll(shutdownGrace)
			return nil, err
		}
		if err := manager.Register(connCfg); err != nil {
			_ = manager.CloseAll(shutdownGrace)
			return nil, err
		}
	}

	return &runtime{
		cfg:     cfg,
		manager: manager,
		client:  client,
		gateway: gateway,
		logger:  logger,
	}, nil
}

func (r *runtime) close() {
	if err := r.manager.CloseAll(shutdownGrace); err != nil {
		r.logger.Warn("shutdown incomplete", "error", err)
	}
	if err := r.client.Close(); err != nil {
		r.logger.Warn("llm client close failed", "error", err)
	}
}

// newSession creates an agent session over the workflow's servers.
func (r *runtime) newSession(ctx context.Context, wf config.WorkflowConfig, serverNames []string) (*agent.Session, error) {
	conns := make([]agent.Conn, 0, len(serverNames))
	for _, name := range serverNames {
		conn, err := r.manager.Get(name)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	return agent.NewSession(ctx, r.gateway, conns, agent.SessionConfig{
		Model:               wf.Model,
		Provider:            wf.Provider,
		InstructionTemplate: wf.InstructionTemplate,
		MaxTurns:            wf.MaxTurns,
		Temperature:         wf.Temperature,
	}, r.logger)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// drainEvents prints the session's progress stream for the user.
func drainEvents(session *agent.Session, progress bool) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range session.Events() {
			if !progress {
				continue
			}
			switch ev.Kind {
			case agent.EventThinking:
				fmt.Printf("... thinking (turn %v)\n", ev.Data["turn"])
			case agent.EventToolCall:
				fmt.Printf("-> calling %v %v\n", ev.Data["tool"], ev.Data["args"])
			case agent.EventToolResult:
				marker := ""
				if isErr, _ := ev.Data["is_error"].(bool); isErr {
					marker = " (tool error)"
				}
				fmt.Printf("<- %v%s: %v\n", ev.Data["tool"], marker, ev.Data["snippet"])
			case agent.EventWarning:
				fmt.Printf("warning: %v\n", ev.Data["message"])
			case agent.EventBudgetExhausted:
				fmt.Printf("turn budget exhausted after %v turns\n", ev.Data["turns"])
			}
		}
	}()
	return done
}
