package cli

import (
	"context"
	"fmt"

	"aiquery/internal/amqp"
	"aiquery/internal/config"
	"aiquery/internal/engine"
	"aiquery/internal/engine/claude"
	"aiquery/internal/engine/gemini"
	"aiquery/internal/engine/rules"
	"aiquery/internal/log"
	"aiquery/internal/metrics"
	"aiquery/internal/session"
	"aiquery/internal/speech"
	"aiquery/internal/tools"
)

// LoadRouting returns the routing metadata from cfg.RoutingFile, or the
// embedded default when unset.
func LoadRouting(cfg *config.Config) (*tools.Routing, error) {
	if cfg.RoutingFile == "" {
		return tools.DefaultRouting(), nil
	}
	return tools.LoadRouting(cfg.RoutingFile)
}

// NewDecisionEngine builds the engine selected by cfg.DecisionBackend.
func NewDecisionEngine(ctx context.Context, cfg *config.Config, routing *tools.Routing) (engine.DecisionEngine, error) {
	switch cfg.DecisionBackend {
	case config.DecisionClaude:
		return claude.New(cfg.AnthropicAPIKey, cfg.AnthropicModel, claude.WithMaxTokens(cfg.MaxTokens))
	case config.DecisionGemini:
		return gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.MaxTokens)
	case config.DecisionRules, "":
		return rules.New(routing)
	default:
		return nil, fmt.Errorf("unknown decision backend %q", cfg.DecisionBackend)
	}
}

// NewSynthesizer returns the speech backend, or nil when TTS is disabled.
func NewSynthesizer(ctx context.Context, cfg *config.Config, logger *log.Logger) (engine.Synthesizer, error) {
	if !cfg.TTSEnabled {
		return nil, nil
	}
	synth, err := speech.New(ctx, speech.Config{
		APIKey:          cfg.TTSAPIKey,
		CredentialsFile: cfg.TTSCredentialsFile,
		Language:        cfg.TTSLanguage,
		Voice:           cfg.TTSVoice,
	}, logger)
	if err != nil {
		return nil, err
	}
	return synth, nil
}

// NewOrchestrator wires the decision engine, speech and sessions per cfg.
func NewOrchestrator(ctx context.Context, cfg *config.Config, sessions engine.Sessions, logger *log.Logger, m *metrics.Metrics) (*engine.Orchestrator, error) {
	routing, err := LoadRouting(cfg)
	if err != nil {
		return nil, err
	}
	decider, err := NewDecisionEngine(ctx, cfg, routing)
	if err != nil {
		return nil, fmt.Errorf("initialize %s decision engine: %w", cfg.DecisionBackend, err)
	}
	synth, err := NewSynthesizer(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize speech synthesis: %w", err)
	}

	logger.Info("Initialized decision engine",
		log.FieldBackend, decider.Name(),
		"tts_enabled", synth != nil)

	return engine.NewOrchestrator(decider, synth, sessions, tools.NewCatalog(routing),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithMaxRounds(cfg.MaxRounds),
		engine.WithDecisionTimeout(cfg.DecisionTimeout),
		engine.WithSynthesisTimeout(cfg.TTSTimeout),
	), nil
}

// NewAMQPClient connects to the broker when cfg.AMQPURL is set. It returns
// nil without error when audit events are disabled.
func NewAMQPClient(cfg *config.Config, logger *log.Logger) (*amqp.Client, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
		amqp.WithPrefetch(cfg.AMQPPrefetch),
		amqp.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP broker: %w", err)
	}
	logger.Info("Initialized AMQP client",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)
	return client, nil
}

var _ engine.Sessions = (*session.Manager)(nil)
