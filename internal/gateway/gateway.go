package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/cexll/agentsdk-go/pkg/tool"

	"github.com/hollyoak/steward/internal/agents"
	"github.com/hollyoak/steward/internal/bus"
	"github.com/hollyoak/steward/internal/channel"
	"github.com/hollyoak/steward/internal/config"
	"github.com/hollyoak/steward/internal/cron"
	"github.com/hollyoak/steward/internal/dashboard"
	"github.com/hollyoak/steward/internal/memory"
	"github.com/hollyoak/steward/internal/review"
	"github.com/hollyoak/steward/internal/tools"
)

// Agent job names used by the cron scheduler.
const (
	JobMemoryAgent  = "memory-agent"
	JobEventsAgent  = "events-agent"
	JobContactAgent = "contact-agent"
)

// Runtime interface for agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config, sysPrompt string, customTools []tool.Tool) (Runtime, error)

// Options for creating a Gateway
type Options struct {
	RuntimeFactory RuntimeFactory
	SignalChan     chan os.Signal // for testing signal handling
}

func newRuntime(cfg *config.Config, sysPrompt string, customTools []tool.Tool) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
		CustomTools:   customTools,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	runtime  Runtime
	channels *channel.ChannelManager
	cron     *cron.Service

	reviews  *review.Store
	dash     *dashboard.Store
	memories *memory.Store
	memIndex *memory.SQLiteIndex

	executor  *tools.Executor
	approvals *review.ApprovalService
	committer *review.Committer

	memoryAgent  *agents.MemoryAgent
	eventsAgent  *agents.EventsAgent
	contactAgent *agents.ContactAgent

	chat       chatContext
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	reviews, err := review.NewStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open review store: %w", err)
	}
	g.reviews = reviews

	dash, err := dashboard.NewStore(cfg.Dashboard.DBPath)
	if err != nil {
		_ = reviews.Close()
		return nil, fmt.Errorf("open dashboard store: %w", err)
	}
	g.dash = dash

	embedder := memory.NewEmbedder(cfg.Memory.Embedding)
	index, err := memory.NewSQLiteIndex(cfg.Memory.IndexPath, embedder)
	if err != nil {
		g.closeStores()
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	g.memIndex = index
	g.memories = memory.NewStore(index)

	g.executor = tools.NewExecutor(g.memories, g.dash)

	location := time.UTC
	if tz := strings.TrimSpace(cfg.Agent.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			location = loc
		} else {
			log.Printf("[gateway] bad timezone %q, using UTC: %v", tz, err)
		}
	}
	g.approvals = review.NewApprovalService(reviews, g.executor, tools.ResolveDatePhrase, location)
	g.committer = review.NewCommitter(reviews, g.memories, g.dash, g.dash)

	g.memoryAgent = agents.NewMemoryAgent(reviews, g.memories, cfg.Agents.MaxConsolidations, cfg.Agents.MaxPromotions)
	g.eventsAgent = agents.NewEventsAgent(reviews, dash, cfg.Agents.MaxEventMemories)
	g.contactAgent = agents.NewContactAgent(reviews, dash, "", 15)

	rtFactory := opts.RuntimeFactory
	if rtFactory == nil {
		rtFactory = newRuntime
	}
	rt, err := rtFactory(cfg, g.buildSystemPrompt(), g.agentTools())
	if err != nil {
		g.closeStores()
		return nil, err
	}
	g.runtime = rt

	g.signalChan = opts.SignalChan

	statePath := filepath.Join(config.DataDir(), "cron", "agents.json")
	g.cron = cron.NewService(statePath, []cron.Job{
		{Name: JobMemoryAgent, Schedule: cfg.Agents.MemorySchedule},
		{Name: JobEventsAgent, Schedule: cfg.Agents.EventsSchedule},
		{Name: JobContactAgent, Schedule: cfg.Agents.ContactSchedule},
	})
	g.cron.OnJob = g.RunAgentJob

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		g.closeStores()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) buildSystemPrompt() string {
	var sb strings.Builder

	if data, err := os.ReadFile(filepath.Join(g.cfg.Agent.Workspace, "AGENTS.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	sb.WriteString("You are a personal assistant. Sensitive actions (calendar, reminders, ")
	sb.WriteString("todos, memory writes) require the user to confirm a pending approval ")
	sb.WriteString("by replying APPROVE <id>.\n")
	return sb.String()
}

// RunAgentJob executes one named background agent run. Used by the
// cron scheduler and the one-shot CLI command.
func (g *Gateway) RunAgentJob(ctx context.Context, name string) (string, error) {
	switch name {
	case JobMemoryAgent:
		summary, err := g.memoryAgent.Run(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("add=%d remove=%d consolidate=%d promote=%d",
			summary.Add, summary.Remove, summary.Consolidate, summary.Promote), nil
	case JobEventsAgent:
		summary, err := g.eventsAgent.Run(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("scheduled=%d event_memory=%d due_soon=%d",
			summary.ScheduledCreated, summary.EventMemory, len(summary.RequiresScheduling)), nil
	case JobContactAgent:
		messages, err := loadInboxSeed(filepath.Join(config.DataDir(), "inbox.json"))
		if err != nil {
			return "", err
		}
		proposed, err := g.contactAgent.ProcessInbox(ctx, messages)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("messages=%d proposals=%d", len(messages), proposed), nil
	default:
		return "", fmt.Errorf("unknown agent job: %s", name)
	}
}

// loadInboxSeed reads scanned mail headers dropped by an external
// mail integration. A missing file just means nothing to process.
func loadInboxSeed(path string) ([]agents.InboxMessage, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox seed: %w", err)
	}
	var messages []agents.InboxMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse inbox seed: %w", err)
	}
	return messages, nil
}

// RequestTool runs a tool call on behalf of a chat. Sensitive tools
// park as a pending approval instead of executing.
func (g *Gateway) RequestTool(ctx context.Context, chatID int64, name string, args map[string]any, originalMessage string) (string, error) {
	if !g.executor.RequiresApproval(name) {
		return g.executor.Execute(ctx, name, args)
	}

	preview := previewToolCall(name, args)
	id, err := g.approvals.Create(ctx, chatID, name, args, preview, originalMessage)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Approval required: %s\nReply APPROVE %s or REJECT %s.", preview, id, id), nil
}

func previewToolCall(name string, args map[string]any) string {
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	if len(parts) == 0 {
		return name
	}
	return name + " (" + strings.Join(parts, ", ") + ")"
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			reply := g.handleInbound(ctx, msg)
			if reply != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: reply,
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound intercepts review commands before the chat agent sees
// the message.
func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) string {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		log.Printf("[gateway] bad chat id %q: %v", msg.ChatID, err)
		return ""
	}

	fields := strings.Fields(strings.TrimSpace(msg.Content))
	if len(fields) > 0 {
		switch strings.ToUpper(fields[0]) {
		case "APPROVE":
			if len(fields) > 1 {
				_, reply := g.approvals.Execute(ctx, fields[1], chatID)
				return reply
			}
			return "Usage: APPROVE <id>"
		case "REJECT":
			if len(fields) > 1 {
				_, reply := g.approvals.Reject(ctx, fields[1], chatID)
				return reply
			}
			return "Usage: REJECT <id>"
		case "COMMIT":
			if len(fields) > 1 {
				_, reply := g.committer.Commit(ctx, fields[1])
				return reply
			}
			return "Usage: COMMIT <id>"
		case "PENDING":
			return g.formatPending(ctx, chatID)
		}
	}

	return g.chatTurn(ctx, msg, chatID)
}

func (g *Gateway) chatTurn(ctx context.Context, msg bus.InboundMessage, chatID int64) string {
	if err := g.reviews.AddMessage(ctx, chatID, "user", msg.Content); err != nil {
		log.Printf("[gateway] log message: %v", err)
	}

	prompt := msg.Content
	if recalled, err := g.memories.Search(ctx, msg.Content, 3, "", true); err == nil && len(recalled) > 0 {
		var sb strings.Builder
		sb.WriteString("[Relevant Memory]\n")
		for _, rec := range recalled {
			sb.WriteString("- " + rec.Text + "\n")
		}
		sb.WriteString("\n[User Message]\n" + msg.Content)
		prompt = sb.String()
		if _, err := g.memories.TouchOnSearch(ctx, msg.Content, 3); err != nil {
			log.Printf("[memory] touch on recall: %v", err)
		}
	}

	// Tool calls made during this run are attributed to the chat.
	g.chat.set(chatID, msg.Content)
	defer g.chat.clear()

	resp, err := g.runtime.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: msg.SessionKey(),
	})
	if err != nil {
		log.Printf("[gateway] agent error: %v", err)
		return "Sorry, I encountered an error processing your message."
	}
	if resp == nil || resp.Result == nil {
		return ""
	}

	result := resp.Result.Output
	if result != "" {
		if err := g.reviews.AddMessage(ctx, chatID, "assistant", result); err != nil {
			log.Printf("[gateway] log message: %v", err)
		}
	}
	return result
}

func (g *Gateway) formatPending(ctx context.Context, chatID int64) string {
	var sb strings.Builder

	approvals, err := g.approvals.ListPending(ctx, chatID)
	if err != nil {
		return err.Error()
	}
	if len(approvals) > 0 {
		sb.WriteString("Pending approvals:\n")
		for _, a := range approvals {
			fmt.Fprintf(&sb, "- %s: %s\n", a.ID, a.Preview)
		}
	}

	proposals, err := g.reviews.ListPendingProposals(ctx)
	if err != nil {
		return err.Error()
	}
	if len(proposals) > 0 {
		sb.WriteString("Pending proposals:\n")
		for _, p := range proposals {
			fmt.Fprintf(&sb, "- %s [%s] %s\n", p.ID, p.ActionType, p.Reason)
		}
	}

	if sb.Len() == 0 {
		return "Nothing pending."
	}
	return sb.String()
}

func (g *Gateway) closeStores() {
	if g.memIndex != nil {
		if err := g.memIndex.Close(); err != nil {
			log.Printf("[gateway] close memory index warning: %v", err)
		}
	}
	if g.dash != nil {
		if err := g.dash.Close(); err != nil {
			log.Printf("[gateway] close dashboard store warning: %v", err)
		}
	}
	if g.reviews != nil {
		if err := g.reviews.Close(); err != nil {
			log.Printf("[gateway] close review store warning: %v", err)
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.runtime != nil {
		g.runtime.Close()
	}
	g.closeStores()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
