package semantic

import (
	"strings"

	"github.com/goccy/go-json"
)

// maxPromptLength caps how much text is embedded. Longer prompts are
// truncated; the tail rarely changes the similarity decision and embedding
// models have their own input limits.
const maxPromptLength = 8192

// ExtractPrompt pulls the natural-language content out of an LLM request
// body. It understands the chat-completions messages array plus the prompt,
// input, and content field shapes used by completion and embedding requests.
// An empty result means the request has no embeddable text.
func ExtractPrompt(body []byte) string {
	var req llmRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}

	if len(req.Messages) > 0 {
		return truncate(messagesToPrompt(req.Messages))
	}
	if text := rawToText(req.Prompt); text != "" {
		return truncate(text)
	}
	if text := rawToText(req.Input); text != "" {
		return truncate(text)
	}
	if text := rawToText(req.Content); text != "" {
		return truncate(text)
	}
	return ""
}

type llmRequest struct {
	Messages []chatMessage   `json:"messages"`
	Prompt   json.RawMessage `json:"prompt"`
	Input    json.RawMessage `json:"input"`
	Content  json.RawMessage `json:"content"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// messagesToPrompt flattens a chat history into one embeddable string with
// role prefixes, following LiteLLM's get_str_from_messages logic.
func messagesToPrompt(messages []chatMessage) string {
	var sb strings.Builder
	for i, msg := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(rawToText(msg.Content))
	}
	return sb.String()
}

// rawToText extracts text from a value that may be a string, an array of
// strings, or an array of multimodal content parts.
func rawToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}

	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		return strings.Join(strs, "\n")
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, part := range parts {
			if part.Type == "text" && part.Text != "" {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString(part.Text)
			}
		}
		return sb.String()
	}
	return ""
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func truncate(s string) string {
	if len(s) <= maxPromptLength {
		return s
	}
	return s[:maxPromptLength]
}
