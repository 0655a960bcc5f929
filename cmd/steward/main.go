package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/spf13/cobra"

	"github.com/hollyoak/steward/internal/agents"
	"github.com/hollyoak/steward/internal/config"
	"github.com/hollyoak/steward/internal/dashboard"
	"github.com/hollyoak/steward/internal/gateway"
	"github.com/hollyoak/steward/internal/memory"
	"github.com/hollyoak/steward/internal/review"
	"github.com/hollyoak/steward/internal/tools"
)

// Runtime interface for agent runtime (allows mocking in tests)
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeWrapper wraps api.Runtime to implement Runtime interface
type runtimeWrapper struct {
	rt *api.Runtime
}

func (r *runtimeWrapper) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeWrapper) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime instance
type RuntimeFactory func(cfg *config.Config) (Runtime, error)

// DefaultRuntimeFactory creates the default agentsdk-go runtime
func DefaultRuntimeFactory(cfg *config.Config) (Runtime, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'steward onboard' or set STEWARD_API_KEY / ANTHROPIC_API_KEY")
	}

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default:
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
		SystemPrompt:  buildSystemPrompt(cfg),
		MaxIterations: cfg.Agent.MaxToolIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeWrapper{rt: rt}, nil
}

// AgentOptions for running agent with custom dependencies
type AgentOptions struct {
	RuntimeFactory RuntimeFactory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "steward - personal assistant with reviewed actions",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent in single message or REPL mode",
	RunE:  runAgent,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + cron + background agents)",
	RunE:  runGateway,
}

var jobCmd = &cobra.Command{
	Use:   "job [memory-agent|events-agent|contact-agent]",
	Short: "Run one background agent pass now",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage pending tool-call approvals",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve and execute a pending tool call",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsApprove,
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending tool call",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsReject,
}

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "Review background agent proposals",
}

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending proposals",
	RunE:  runProposalsList,
}

var proposalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a proposal and commit it",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsApprove,
}

var proposalsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalsReject,
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit the weighted memory store",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryAdd,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by similarity and weight",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemorySearch,
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent memories",
	RunE:  runMemoryList,
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryDelete,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage scheduled event templates",
}

var templatesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import scheduled event templates from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesImport,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show steward status",
	RunE:  runStatus,
}

var (
	messageFlag      string
	chatFlag         int64
	memoryWeightFlag int
	memoryTypeFlag   string
	memoryLimitFlag  int
)

func init() {
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	approvalsCmd.PersistentFlags().Int64Var(&chatFlag, "chat", 0, "Chat the approval belongs to")
	memoryAddCmd.Flags().IntVar(&memoryWeightFlag, "weight", 5, "Importance weight (1-10)")
	memoryAddCmd.Flags().StringVar(&memoryTypeFlag, "type", "long", "Memory type (short|long)")
	memorySearchCmd.Flags().IntVar(&memoryLimitFlag, "n", 5, "Max results")
	memoryListCmd.Flags().IntVar(&memoryLimitFlag, "n", 20, "Max results")

	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsRejectCmd)
	proposalsCmd.AddCommand(proposalsListCmd, proposalsApproveCmd, proposalsRejectCmd)
	memoryCmd.AddCommand(memoryAddCmd, memorySearchCmd, memoryListCmd, memoryDeleteCmd)
	templatesCmd.AddCommand(templatesImportCmd)
	rootCmd.AddCommand(agentCmd, gatewayCmd, jobCmd, approvalsCmd, proposalsCmd,
		memoryCmd, templatesCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runAgent is the command handler that uses default options
func runAgent(cmd *cobra.Command, args []string) error {
	return runAgentWithOptions(AgentOptions{})
}

// runAgentWithOptions runs the agent with injectable dependencies for testing
func runAgentWithOptions(opts AgentOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.RuntimeFactory
	if factory == nil {
		factory = DefaultRuntimeFactory
	}

	rt, err := factory(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		resp, err := rt.Run(ctx, api.Request{
			Prompt:    messageFlag,
			SessionID: "cli",
		})
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		if resp != nil && resp.Result != nil {
			fmt.Fprintln(stdout, resp.Result.Output)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "steward agent (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		resp, err := rt.Run(ctx, api.Request{
			Prompt:    input,
			SessionID: "cli-repl",
		})
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		if resp != nil && resp.Result != nil {
			fmt.Fprintln(stdout, resp.Result.Output)
		}
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'steward onboard' or set STEWARD_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

// stores bundles the persistent layers the review commands need.
// The chat runtime is not required for any of them.
type stores struct {
	reviews  *review.Store
	dash     *dashboard.Store
	memories *memory.Store
	index    *memory.SQLiteIndex
}

func openStores(cfg *config.Config) (*stores, error) {
	reviews, err := review.NewStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open review store: %w", err)
	}
	dash, err := dashboard.NewStore(cfg.Dashboard.DBPath)
	if err != nil {
		_ = reviews.Close()
		return nil, fmt.Errorf("open dashboard store: %w", err)
	}
	embedder := memory.NewEmbedder(cfg.Memory.Embedding)
	index, err := memory.NewSQLiteIndex(cfg.Memory.IndexPath, embedder)
	if err != nil {
		_ = dash.Close()
		_ = reviews.Close()
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	return &stores{
		reviews:  reviews,
		dash:     dash,
		memories: memory.NewStore(index),
		index:    index,
	}, nil
}

func (s *stores) Close() {
	_ = s.index.Close()
	_ = s.dash.Close()
	_ = s.reviews.Close()
}

func withStores(fn func(ctx context.Context, cfg *config.Config, st *stores) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), cfg, st)
}

func runJob(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		var result string
		var err error
		switch args[0] {
		case gateway.JobMemoryAgent:
			agent := agents.NewMemoryAgent(st.reviews, st.memories, cfg.Agents.MaxConsolidations, cfg.Agents.MaxPromotions)
			var summary agents.MemorySummary
			summary, err = agent.Run(ctx)
			result = fmt.Sprintf("add=%d remove=%d consolidate=%d promote=%d",
				summary.Add, summary.Remove, summary.Consolidate, summary.Promote)
		case gateway.JobEventsAgent:
			agent := agents.NewEventsAgent(st.reviews, st.dash, cfg.Agents.MaxEventMemories)
			var summary agents.EventsSummary
			summary, err = agent.Run(ctx)
			result = fmt.Sprintf("scheduled=%d event_memory=%d due_soon=%d",
				summary.ScheduledCreated, summary.EventMemory, len(summary.RequiresScheduling))
		case gateway.JobContactAgent:
			agent := agents.NewContactAgent(st.reviews, st.dash, "", 15)
			var proposed int
			proposed, err = agent.ProcessInbox(ctx, nil)
			result = fmt.Sprintf("proposals=%d", proposed)
		default:
			return fmt.Errorf("unknown agent job: %s", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	})
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		var pending []review.Approval
		var err error
		if chatFlag == 0 {
			pending, err = st.reviews.ListAllPendingApprovals(ctx)
		} else {
			pending, err = st.reviews.ListPendingApprovals(ctx, chatFlag)
		}
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending approvals.")
			return nil
		}
		for _, a := range pending {
			fmt.Printf("%s  chat=%d  %s\n", a.ID, a.ChatID, a.Preview)
		}
		return nil
	})
}

// approvalService builds the approval service the same way the gateway
// does, minus the chat runtime.
func approvalService(cfg *config.Config, st *stores) *review.ApprovalService {
	location := time.UTC
	if tz := strings.TrimSpace(cfg.Agent.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			location = loc
		}
	}
	executor := tools.NewExecutor(st.memories, st.dash)
	return review.NewApprovalService(st.reviews, executor, tools.ResolveDatePhrase, location)
}

func runApprovalsApprove(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		svc := approvalService(cfg, st)
		_, msg := svc.Execute(ctx, args[0], chatFlag)
		fmt.Println(msg)
		return nil
	})
}

func runApprovalsReject(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		svc := approvalService(cfg, st)
		_, msg := svc.Reject(ctx, args[0], chatFlag)
		fmt.Println(msg)
		return nil
	})
}

func runProposalsList(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		pending, err := st.reviews.ListPendingProposals(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending proposals.")
			return nil
		}
		for _, p := range pending {
			payload := string(p.Payload)
			if len(payload) > 100 {
				payload = payload[:100] + "..."
			}
			fmt.Printf("%s  [%s]  %s\n    %s\n", p.ID, p.ActionType, p.Reason, payload)
		}
		return nil
	})
}

func runProposalsApprove(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		ok, err := st.reviews.ResolveProposal(ctx, args[0], review.StatusApproved)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Proposal is not pending.")
			return nil
		}
		committer := review.NewCommitter(st.reviews, st.memories, st.dash, st.dash)
		_, msg := committer.Commit(ctx, args[0])
		fmt.Println(msg)
		return nil
	})
}

func runProposalsReject(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		ok, err := st.reviews.ResolveProposal(ctx, args[0], review.StatusRejected)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Proposal is not pending.")
			return nil
		}
		fmt.Printf("Rejected proposal %s.\n", args[0])
		return nil
	})
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		text := strings.Join(args, " ")
		id, err := st.memories.Add(ctx, text, memoryWeightFlag, memory.Type(memoryTypeFlag), "cli")
		if err != nil {
			return err
		}
		fmt.Printf("Stored memory %s\n", id)
		return nil
	})
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		query := strings.Join(args, " ")
		records, err := st.memories.Search(ctx, query, memoryLimitFlag, "", true)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  [%s w=%d]  %s\n", r.ID, r.Type, r.Weight, r.Text)
		}
		return nil
	})
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		records, err := st.memories.List(ctx, memoryLimitFlag)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s  [%s w=%d]  %s\n", r.ID, r.Type, r.Weight, r.Text)
		}
		return nil
	})
}

func runMemoryDelete(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		ok, err := st.memories.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No such memory.")
			return nil
		}
		fmt.Println("Deleted.")
		return nil
	})
}

func runTemplatesImport(cmd *cobra.Command, args []string) error {
	return withStores(func(ctx context.Context, cfg *config.Config, st *stores) error {
		added, skipped, err := st.dash.ImportTemplates(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d templates (%d skipped as duplicates)\n", added, skipped)
		return nil
	})
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	writeIfNotExists(filepath.Join(ws, "AGENTS.md"), defaultAgentsMD)

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set STEWARD_API_KEY environment variable")
	fmt.Println("  3. Run 'steward agent -m \"Hello\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)

	st, err := openStores(cfg)
	if err != nil {
		fmt.Printf("Stores: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	ctx := context.Background()
	if pending, err := st.reviews.ListAllPendingApprovals(ctx); err == nil {
		fmt.Printf("Pending approvals: %d\n", len(pending))
	}
	if pending, err := st.reviews.ListPendingProposals(ctx); err == nil {
		fmt.Printf("Pending proposals: %d\n", len(pending))
	}
	if records, err := st.memories.List(ctx, 1000); err == nil {
		fmt.Printf("Memories: %d\n", len(records))
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func buildSystemPrompt(cfg *config.Config) string {
	var sb strings.Builder

	if data, err := os.ReadFile(filepath.Join(cfg.Agent.Workspace, "AGENTS.md")); err == nil {
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	sb.WriteString("You are steward, a personal assistant.\n")
	return sb.String()
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultAgentsMD = `# steward Agent

You are steward, a personal assistant.

Sensitive actions (calendar events, reminders, todos, memory edits) are
parked as approvals. Tell the user the approval id and ask them to reply
APPROVE <id> or REJECT <id>.

## Guidelines
- Be concise and helpful
- Surface pending approvals when the user asks what is waiting
- Store durable facts about the user in memory
`
