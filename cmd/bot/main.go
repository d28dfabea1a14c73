// Command bot is the composition root: it wires the security core (C1-C11),
// the chat providers, the scheduler, and the health surface into one running
// process.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/openpact/sandboxbot/internal/access"
	"github.com/openpact/sandboxbot/internal/agent"
	"github.com/openpact/sandboxbot/internal/approval"
	"github.com/openpact/sandboxbot/internal/chat"
	"github.com/openpact/sandboxbot/internal/concurrency"
	"github.com/openpact/sandboxbot/internal/config"
	"github.com/openpact/sandboxbot/internal/health"
	"github.com/openpact/sandboxbot/internal/logging"
	"github.com/openpact/sandboxbot/internal/pathguard"
	"github.com/openpact/sandboxbot/internal/patterns"
	"github.com/openpact/sandboxbot/internal/providers/discord"
	"github.com/openpact/sandboxbot/internal/providers/slack"
	"github.com/openpact/sandboxbot/internal/providers/telegram"
	"github.com/openpact/sandboxbot/internal/ratelimit"
	"github.com/openpact/sandboxbot/internal/sandbox"
	"github.com/openpact/sandboxbot/internal/scheduler"
	"github.com/openpact/sandboxbot/internal/session"
	"github.com/openpact/sandboxbot/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Workspace.EnsureRoot(); err != nil {
		log.Fatalf("workspace: %v", err)
	}

	logger := logging.New(logging.Config{
		Level: logging.ParseLevel(cfg.Logging.Level),
		JSON:  cfg.Logging.JSON,
	})

	store, err := patterns.Load(cfg.Patterns.Dir)
	if err != nil {
		log.Fatalf("patterns: %v", err)
	}

	guard := pathguard.New(cfg.Workspace, store)
	sandboxMgr := sandbox.NewManager(cfg.Sandbox, cfg.Workspace, logger.WithField("component", "sandbox"))
	approvals := approval.New()
	questions := agent.NewQuestions()
	sessions := session.New(cfg.Workspace)
	accessPolicy := access.New(func() config.AccessConfig { return cfg.Access })
	admitGate := concurrency.New(cfg.Server.MaxConcurrentUsers)

	groupInterval, err := time.ParseDuration(cfg.RateLimit.GroupInterval)
	if err != nil {
		groupInterval = 5 * time.Second
	}
	sendGate := ratelimit.NewGate(cfg.RateLimit.GlobalRate, cfg.RateLimit.GlobalBurst, groupInterval, cfg.RateLimit.MaxRetries, logger.WithField("component", "ratelimit"))

	var llmClient agent.Client
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		llmClient = agent.NewAnthropicClient(agent.AnthropicConfig{
			APIKey: apiKey,
			Model:  envOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		})
	} else {
		log.Fatal("ANTHROPIC_API_KEY not set; no LLM provider configured")
	}

	providerList := buildProviders(cfg, logger)

	notifier := &chatNotifier{providers: providerList, gate: sendGate}
	dispatcher := agent.NewDispatcher(cfg.Workspace, store, guard, sandboxMgr, approvals, questions, sessions, notifier, logger.WithField("component", "dispatcher"))
	loop := agent.New(llmClient, dispatcher, sessions, cfg.Workspace, cfg.Sandbox, logger.WithField("component", "loop"))

	resolver := &approvalResolver{
		approvals:  approvals,
		dispatcher: dispatcher,
		providers:  providerList,
		gate:       sendGate,
		logger:     logger,
	}
	for _, p := range providerList {
		p.SetApprovalHandler(resolver.handle)
	}

	router := &messageRouter{
		access:   accessPolicy,
		admit:    admitGate,
		loop:     loop,
		logger:   logger,
		sessions: sessions,
		patterns: store,
	}

	for _, p := range providerList {
		p.SetMessageHandler(router.handle)
	}

	healthSrv := health.NewServer(cfg.Server.HealthAddr)
	healthSrv.RegisterCheck("docker", func(ctx context.Context) health.CheckResult {
		if sandboxMgr.Available() {
			return health.CheckResult{Status: health.StatusHealthy}
		}
		return health.CheckResult{Status: health.StatusDegraded, Message: "container runtime unavailable, running in degraded host-exec mode"}
	})
	healthSrv.RegisterCheck("pattern_lists", func(ctx context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusHealthy}
	})
	healthSrv.SetGauges(health.GaugeFuncs{
		ActiveSandboxes:  sandboxMgr.ActiveCount,
		PendingApprovals: approvals.PendingCount,
	})

	sched, err := scheduler.New(sandboxMgr, scheduler.Config{SweepInterval: cfg.Sandbox.SweepInterval}, logger.WithField("component", "scheduler"))
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)
	go func() {
		if err := healthSrv.Start(); err != nil && err.Error() != "http: Server closed" {
			logger.Error("health server: %v", err)
		}
	}()
	for _, p := range providerList {
		if err := p.Start(); err != nil {
			logger.Error("provider %s failed to start: %v", p.Name(), err)
		}
	}

	logger.Info("sandboxbot started")
	<-ctx.Done()
	logger.Info("shutting down")

	sched.Stop()
	for _, p := range providerList {
		_ = p.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sandboxMgr.Shutdown(shutdownCtx)
	_ = healthSrv.Stop(shutdownCtx)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func buildProviders(cfg *config.Config, logger *logging.Logger) []chat.Provider {
	var providers []chat.Provider

	if cfg.Telegram.Enabled {
		bot, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token})
		if err != nil {
			logger.Error("telegram: %v", err)
		} else {
			providers = append(providers, bot)
		}
	}
	if cfg.Discord.Enabled {
		bot, err := discord.New(discord.Config{Token: cfg.Discord.Token})
		if err != nil {
			logger.Error("discord: %v", err)
		} else {
			providers = append(providers, bot)
		}
	}
	if cfg.Slack.Enabled {
		bot, err := slack.New(slack.Config{BotToken: cfg.Slack.BotToken, AppToken: cfg.Slack.AppToken})
		if err != nil {
			logger.Error("slack: %v", err)
		} else {
			providers = append(providers, bot)
		}
	}
	return providers
}

// messageRouter adapts one inbound chat.MessageHandler call into an access
// check, an injection screen, the concurrency gate, and a ReAct loop turn.
type messageRouter struct {
	access   *access.Policy
	admit    *concurrency.Gate
	loop     *agent.Loop
	logger   *logging.Logger
	sessions *session.Store
	patterns *patterns.Store
}

func (r *messageRouter) handle(provider, channelID, userIDStr, content string) (*chat.ChatResponse, error) {
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("non-numeric user id %q: %w", userIDStr, err)
	}

	kind := access.Private
	if channelID != userIDStr {
		kind = access.Group
	}

	switch r.access.Check(userID, kind) {
	case access.DenySilent:
		return nil, nil
	case access.DenyMessage:
		return &chat.ChatResponse{Text: "\U0001F6AB Access denied"}, nil
	}

	if v := validator.Check(content, r.patterns); v.Injection {
		r.logger.Warn("[INJECTION] user %d: %s", userID, v.Reason)
		return &chat.ChatResponse{Text: validator.RefusalMessage}, nil
	}

	if !r.admit.TryAdmit(userID) {
		return &chat.ChatResponse{Text: "The bot is at capacity right now, please try again shortly."}, nil
	}
	defer r.admit.Release(userID)

	release := r.admit.AcquireUserSlot(userID)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	chatID := channelID
	sessionID := fmt.Sprintf("%s:%s", provider, channelID)
	text, err := r.loop.Run(ctx, userID, chatID, sessionID, userIDStr, content, kind)
	if err != nil {
		r.logger.Error("loop run failed for user %d: %v", userID, err)
		return &chat.ChatResponse{Text: "⚠️ something went wrong processing that"}, nil
	}
	return &chat.ChatResponse{Text: text}, nil
}

// chatNotifier delivers agent.Notifier callbacks through the outbound
// rate-limit gate: approval prompts render as native inline buttons
// (SendApproval), ask_user questions as plain text with the option list.
type chatNotifier struct {
	providers []chat.Provider
	gate      *ratelimit.Gate
}

func (n *chatNotifier) NotifyApprovalRequired(chatID, approvalID, command, reason string) {
	for _, p := range n.providers {
		p := p
		n.gate.Send(chatID, func() (time.Duration, error) {
			return 0, p.SendApproval(chatID, approvalID, command, reason)
		})
	}
}

func (n *chatNotifier) NotifyAskUser(chatID string, question *agent.Question) {
	msg := question.Prompt
	if len(question.Options) > 0 {
		msg = fmt.Sprintf("%s\noptions: %v", question.Prompt, question.Options)
	}
	n.broadcast(chatID, msg)
}

func (n *chatNotifier) broadcast(chatID, content string) {
	for _, p := range n.providers {
		p := p
		n.gate.Send(chatID, func() (time.Duration, error) {
			return 0, p.SendMessage(chatID, content)
		})
	}
}

// approvalResolver is the approve/deny button callback shared by every
// provider: it consumes the pending approval entry and, if approved, runs
// the command directly through the sandbox manager — outside the ReAct loop
// of whatever turn originally requested it (§4.7).
type approvalResolver struct {
	approvals  *approval.Queue
	dispatcher *agent.Dispatcher
	providers  []chat.Provider
	gate       *ratelimit.Gate
	logger     *logging.Logger
}

func (r *approvalResolver) handle(provider, chatID, approvalID string, approve bool) {
	if !approve {
		r.approvals.Cancel(approvalID)
		r.reply(chatID, fmt.Sprintf("🚫 denied (id=%s)", approvalID))
		return
	}

	entry, ok := r.approvals.Consume(approvalID)
	if !ok {
		r.reply(chatID, fmt.Sprintf("approval %s already resolved or expired", approvalID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	result, err := r.dispatcher.ExecuteApproved(ctx, entry.UserID, entry.Command)
	if err != nil {
		r.logger.Error("approved command failed for user %d: %v", entry.UserID, err)
		r.reply(chatID, fmt.Sprintf("⚠️ command failed: %v", err))
		return
	}
	r.reply(chatID, fmt.Sprintf("✅ executed (id=%s)\n%s", approvalID, result))
}

func (r *approvalResolver) reply(chatID, content string) {
	for _, p := range r.providers {
		p := p
		r.gate.Send(chatID, func() (time.Duration, error) {
			return 0, p.SendMessage(chatID, content)
		})
	}
}
