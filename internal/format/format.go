package format

import (
	"encoding/json"
	"fmt"
)

// Kind is the closed set of event shapes the formatter understands.
// Unrecognized event names map to KindGeneric, which renders the payload
// as JSON, so any event can be forwarded, just less prettily.
type Kind int

const (
	KindGeneric Kind = iota
	KindSessionStart
	KindPromptSubmit
	KindPromptComplete
	KindProviderRequest
	KindProviderResponse
	KindToolPost
)

// KindOf maps an event name to its formatter kind.
func KindOf(event string) Kind {
	switch event {
	case "session:start":
		return KindSessionStart
	case "prompt:submit":
		return KindPromptSubmit
	case "prompt:complete":
		return KindPromptComplete
	case "provider:request":
		return KindProviderRequest
	case "provider:response":
		return KindProviderResponse
	case "tool:post":
		return KindToolPost
	default:
		return KindGeneric
	}
}

// Event renders a host event as Telegram Markdown message chunks.
//
// It never fails and always returns at least one chunk; every chunk fits
// within the Telegram message limit.
func Event(event string, payload map[string]any) []string {
	switch KindOf(event) {
	case KindSessionStart:
		return sessionStart(payload)
	case KindPromptSubmit:
		return promptSubmit(payload)
	case KindPromptComplete:
		return promptComplete(payload)
	case KindProviderRequest:
		return providerRequest(payload)
	case KindProviderResponse:
		return providerResponse(payload)
	case KindToolPost:
		return toolPost(payload)
	default:
		return generic(event, payload)
	}
}

func sessionStart(payload map[string]any) []string {
	sessionID := stringField(payload, "session_id", "unknown")
	return []string{fmt.Sprintf("🚀 *Session Started*\n\nSession ID: `%s`", sessionID)}
}

func promptSubmit(payload map[string]any) []string {
	prompt := stringField(payload, "prompt", "")
	return Chunks(fmt.Sprintf("💬 *Prompt Submitted*\n\n%s", Truncate(prompt, 500)))
}

func promptComplete(payload map[string]any) []string {
	response := stringField(payload, "response", "")
	return Chunks(fmt.Sprintf("✅ *Prompt Complete*\n\n%s", Truncate(response, 1000)))
}

func providerRequest(payload map[string]any) []string {
	provider := stringField(payload, "provider", "unknown")
	count := 0
	if msgs, ok := payload["messages"].([]any); ok {
		count = len(msgs)
	}
	return []string{fmt.Sprintf("🤖 *Provider Request*\n\nProvider: %s\nMessages: %d", provider, count)}
}

func providerResponse(payload map[string]any) []string {
	provider := stringField(payload, "provider", "unknown")
	msg := fmt.Sprintf("📊 *Provider Response*\n\nProvider: %s\n", provider)
	if usage, ok := payload["usage"].(map[string]any); ok && len(usage) > 0 {
		msg += fmt.Sprintf("Tokens: input=%v, output=%v", numField(usage, "input_tokens"), numField(usage, "output_tokens"))
	}
	return []string{msg}
}

func toolPost(payload map[string]any) []string {
	toolName := stringField(payload, "tool_name", "unknown")
	success, _ := payload["success"].(bool)
	status := "❌"
	if success {
		status = "✅"
	}
	return []string{fmt.Sprintf("%s *Tool Executed*\n\nTool: `%s`\nSuccess: %t", status, toolName, success)}
}

func generic(event string, payload map[string]any) []string {
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		// Still produce something: the bridge relies on at least one chunk.
		return []string{fmt.Sprintf("❌ Error formatting event: %s", event)}
	}
	msg := fmt.Sprintf("📝 *Event: %s*\n\n```json\n%s\n```", event, Truncate(string(b), 1000))
	return Chunks(msg)
}

func stringField(payload map[string]any, key, def string) string {
	if payload == nil {
		return def
	}
	if s, ok := payload[key].(string); ok && s != "" {
		return s
	}
	return def
}

func numField(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	return 0
}
