package core

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Message is one entry in a conversation as exchanged with the language
// model and as returned to clients in history payloads.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// SystemMessage builds the leading instruction entry for a context.
func SystemMessage(prompt string) Message {
	return Message{Role: MessageRoleSystem, Content: prompt}
}

// UserMessage builds a user utterance entry.
func UserMessage(text string) Message {
	return Message{Role: MessageRoleUser, Content: text}
}

// AssistantMessage builds an assistant reply entry.
func AssistantMessage(text string) Message {
	return Message{Role: MessageRoleAssistant, Content: text}
}
