package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/cexll/agentsdk-go/pkg/tool"

	"github.com/hollyoak/steward/internal/tools"
)

// chatContext tracks which chat the runtime is currently serving so
// tool calls made by the agent can be attributed to it. The process
// loop handles one inbound message at a time, but the lock keeps the
// handoff safe if that ever changes.
type chatContext struct {
	mu      sync.Mutex
	active  bool
	chatID  int64
	message string
}

func (c *chatContext) set(chatID int64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.chatID = chatID
	c.message = message
}

func (c *chatContext) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.chatID = 0
	c.message = ""
}

func (c *chatContext) current() (int64, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID, c.message, c.active
}

// agentTool exposes one executor tool to the agent runtime. Every call
// routes through Gateway.RequestTool, so sensitive tools park as
// pending approvals instead of executing directly.
type agentTool struct {
	g   *Gateway
	def tools.Tool
}

func (t *agentTool) Name() string        { return t.def.Name }
func (t *agentTool) Description() string { return t.def.Description }

func (t *agentTool) Schema() *tool.JSONSchema {
	props := make(map[string]interface{}, len(t.def.Args))
	var required []string
	for _, arg := range t.def.Args {
		props[arg.Name] = map[string]interface{}{
			"type":        arg.Type,
			"description": arg.Description,
		}
		if arg.Required {
			required = append(required, arg.Name)
		}
	}
	return &tool.JSONSchema{Type: "object", Properties: props, Required: required}
}

func (t *agentTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.ToolResult, error) {
	chatID, message, ok := t.g.chat.current()
	if !ok {
		return nil, fmt.Errorf("%s: no active chat", t.def.Name)
	}
	out, err := t.g.RequestTool(ctx, chatID, t.def.Name, params, message)
	if err != nil {
		return &tool.ToolResult{Success: false, Output: err.Error(), Error: err}, nil
	}
	return &tool.ToolResult{Success: true, Output: out}, nil
}

// agentTools adapts the executor registry for api.Options.CustomTools.
func (g *Gateway) agentTools() []tool.Tool {
	defs := g.executor.List()
	out := make([]tool.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, &agentTool{g: g, def: def})
	}
	return out
}
