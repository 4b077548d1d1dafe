package httpapi

// Config defines HTTP API settings.
type Config struct {
	Addr string

	AgentEnabled    bool
	RoomsEnabled    bool
	TerminalEnabled bool
	MCPEnabled      bool

	AgentBinary string
	AgentArgs   []string
	AgentEnv    []string

	RoomMessageMaxChars int
	RoomHistoryLimit    int

	TerminalShell string
}
