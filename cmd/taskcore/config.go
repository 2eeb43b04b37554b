package main

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/agent"
	"github.com/m-mizutani/taskcore/replan"
	"github.com/m-mizutani/taskcore/toolrunner"
	"gopkg.in/yaml.v3"
)

type backendKind string

const (
	backendFile   backendKind = "file"
	backendSQLite backendKind = "sqlite"
)

type config struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	ProjectID string `yaml:"project_id"`
	Location  string `yaml:"location"`

	Backend   backendKind `yaml:"backend"`
	StatePath string      `yaml:"state_path"`

	EventFile string `yaml:"event_file"`

	Agent agentConfig `yaml:"agent"`
	Tools toolConfig  `yaml:"tools"`
	MCP   []mcpConfig `yaml:"mcp"`
}

type agentConfig struct {
	MaxAttempts         int     `yaml:"max_attempts"`
	MaxReplans          int     `yaml:"max_replans"`
	IterationLimit      int     `yaml:"iteration_limit"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SummaryThreshold    int     `yaml:"summary_threshold"`
	MaxMessages         int     `yaml:"max_messages"`
	SystemPrompt        string  `yaml:"system_prompt"`
}

type toolConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffUnit time.Duration `yaml:"backoff_unit"`
}

// mcpConfig is one MCP server. Command runs a local server over stdio, URL connects over SSE.
type mcpConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     []string          `yaml:"env"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

func defaultConfig() *config {
	return &config{
		Provider:  "openai",
		Backend:   backendFile,
		StatePath: ".taskcore",
		Agent: agentConfig{
			MaxAttempts:         taskcore.DefaultMaxAttempts,
			MaxReplans:          taskcore.DefaultMaxReplans,
			IterationLimit:      agent.DefaultIterationLimit,
			ConfidenceThreshold: replan.DefaultConfidenceThreshold,
			SummaryThreshold:    taskcore.DefaultSummaryThreshold,
			MaxMessages:         taskcore.DefaultMaxMessages,
		},
		Tools: toolConfig{
			Timeout:     toolrunner.DefaultTimeout,
			MaxRetries:  toolrunner.DefaultMaxRetries,
			BackoffUnit: toolrunner.DefaultBackoffUnit,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}
	return cfg, nil
}

func (x *config) validate() error {
	switch x.Provider {
	case "openai", "claude", "gemini":
	default:
		return goerr.New("unknown provider", goerr.V("provider", x.Provider))
	}

	switch x.Backend {
	case backendFile, backendSQLite:
	default:
		return goerr.New("unknown backend", goerr.V("backend", x.Backend))
	}
	if x.StatePath == "" {
		return goerr.New("state path is required")
	}

	for i, m := range x.MCP {
		if (m.Command == "") == (m.URL == "") {
			return goerr.New("mcp server needs exactly one of command or url", goerr.V("index", i), goerr.V("name", m.Name))
		}
	}
	return nil
}
