package main

type (
	Config    = config
	MCPConfig = mcpConfig
)

var (
	NewApp        = newApp
	LoadConfig    = loadConfig
	ParseLogLevel = parseLogLevel
)

func (x *config) Validate() error {
	return x.validate()
}
