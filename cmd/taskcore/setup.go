package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/llm/claude"
	"github.com/m-mizutani/taskcore/llm/gemini"
	"github.com/m-mizutani/taskcore/llm/openai"
	"github.com/m-mizutani/taskcore/mcp"
	"github.com/m-mizutani/taskcore/state"
	"github.com/m-mizutani/taskcore/state/filestore"
	"github.com/m-mizutani/taskcore/state/sqlitestore"
)

// openStore opens the configured backend. The returned closer releases it.
func openStore(ctx context.Context, cfg *config) (*state.Store, func() error, error) {
	switch cfg.Backend {
	case backendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0750); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create state directory", goerr.V("path", cfg.StatePath))
		}
		db, err := sqlitestore.Open(ctx, cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return state.New(db), db.Close, nil

	default:
		return state.New(filestore.New(cfg.StatePath)), func() error { return nil }, nil
	}
}

// apiKeyEnv is consulted when the config has no api_key.
var apiKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

func newOracle(ctx context.Context, cfg *config) (taskcore.Oracle, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(apiKeyEnv[cfg.Provider])
	}

	switch cfg.Provider {
	case "claude":
		var opts []claude.Option
		if cfg.Model != "" {
			opts = append(opts, claude.WithModel(cfg.Model))
		}
		return claude.New(ctx, apiKey, opts...)

	case "gemini":
		var opts []gemini.Option
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		if apiKey != "" {
			opts = append(opts, gemini.WithAPIKey(apiKey))
		}
		return gemini.New(ctx, cfg.ProjectID, cfg.Location, opts...)

	case "openai":
		var opts []openai.Option
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(ctx, apiKey, opts...)
	}

	return nil, goerr.New("unknown provider", goerr.V("provider", cfg.Provider))
}

// newToolSets creates one MCP client per configured server. The returned closer stops all of them.
func newToolSets(cfg *config) ([]taskcore.ToolSet, func()) {
	var sets []taskcore.ToolSet
	var clients []*mcp.Client
	for _, m := range cfg.MCP {
		var c *mcp.Client
		if m.Command != "" {
			c = mcp.NewStdio(m.Command, m.Args, mcp.WithEnvVars(m.Env))
		} else {
			c = mcp.NewSSE(m.URL, mcp.WithHeaders(m.Headers))
		}
		clients = append(clients, c)
		sets = append(sets, c)
	}

	return sets, func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}
}
