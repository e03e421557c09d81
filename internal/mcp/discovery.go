package mcp

import (
	"context"
	"fmt"

	"github.com/szaher/augur/internal/llm"
	"github.com/szaher/augur/internal/tools"
)

// Discover lists the tools of every client in the pool.
func Discover(ctx context.Context, pool *Pool) ([]ToolInfo, error) {
	var all []ToolInfo
	for _, c := range pool.All() {
		ts, err := c.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover tools from %s: %w", c.Name(), err)
		}
		all = append(all, ts...)
	}
	return all, nil
}

// Definition converts a tool to the generation API's shape. Tool names are
// used as-is; they must already be unique across servers.
func (t ToolInfo) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
}

// Register adds each discovered tool to reg, dispatching calls to the client
// that owns it. A name offered by two servers is an error.
func Register(reg *tools.Registry, pool *Pool, infos []ToolInfo) error {
	for _, info := range infos {
		if reg.Has(info.Name) {
			return fmt.Errorf("mcp tool %q from %s is already registered", info.Name, info.ServerName)
		}
		client, err := pool.Get(info.ServerName)
		if err != nil {
			return err
		}
		name := info.Name
		reg.Register(info.Definition(), tools.ExecutorFunc(func(ctx context.Context, input map[string]any) (string, error) {
			return client.CallTool(ctx, name, input)
		}))
	}
	return nil
}

// Names returns the tool names in infos.
func Names(infos []ToolInfo) []string {
	names := make([]string, len(infos))
	for i, t := range infos {
		names[i] = t.Name
	}
	return names
}
