package taskcore

// MessageRole is the role of a message in the conversation window.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one entry of the conversation window sent to the oracle.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	// Name distinguishes synthetic entries such as summaries and replan notes.
	Name string `json:"name,omitempty"`
}

const (
	MessageNameSummary    = "summary"
	MessageNameReplanNote = "replan_note"
)

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

func ToolMessage(tool, content string) Message {
	return Message{Role: RoleTool, Name: tool, Content: content}
}
