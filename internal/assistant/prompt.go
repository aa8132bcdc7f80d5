package assistant

import (
	"fmt"
	"strings"

	"inkwell/api/internal/store"
)

const systemPromptBase = `You are a writing assistant embedded in a collaborative document editor. Help the user draft, rewrite, and polish their text. Ground your answers in the provided document context when it is relevant, and cite passages by their [n] marker. If the context does not cover the question, say so rather than inventing document content. Keep answers concise and in the document's language.`

// historyShare is the fraction of the context budget reserved for
// conversation history; retrieved chunks may use the rest.
const historyShare = 4

// BuildSystemPrompt appends the user's style hints to the base
// instructions.
func BuildSystemPrompt(styleHints string) string {
	styleHints = strings.TrimSpace(styleHints)
	if styleHints == "" {
		return systemPromptBase
	}
	return systemPromptBase + "\n\nStyle preferences for this user: " + styleHints
}

// buildContextBlock renders retrieved chunks as a numbered block the
// model can cite.
func buildContextBlock(matches []store.ChunkMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Document context:\n")
	for i, m := range matches {
		title := m.DocumentTitle
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n[%d] (%s)\n%s\n", i+1, title, strings.TrimSpace(m.Content))
	}
	return b.String()
}

// selectChunks keeps matches best-first while their token estimates fit
// the budget. Matches arrive ordered by similarity, so this is a simple
// prefix take with skips for oversized entries.
func selectChunks(matches []store.ChunkMatch, budget int) ([]store.ChunkMatch, int) {
	selected := make([]store.ChunkMatch, 0, len(matches))
	used := 0
	for _, m := range matches {
		tokens := m.TokenEstimate
		if tokens <= 0 {
			tokens = EstimateTokens(m.Content)
		}
		if used+tokens > budget {
			continue
		}
		selected = append(selected, m)
		used += tokens
	}
	return selected, used
}

// truncateHistory keeps the newest turns whose combined estimate fits
// the budget, preserving chronological order in the result.
func truncateHistory(history []store.Message, budget int) []store.Message {
	if budget <= 0 || len(history) == 0 {
		return nil
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		tokens := history[i].TokenEstimate
		if tokens <= 0 {
			tokens = EstimateTokens(history[i].Content)
		}
		if used+tokens > budget {
			break
		}
		used += tokens
		start = i
	}
	if start == len(history) {
		return nil
	}
	return history[start:]
}

// assembleMessages builds the chat-completions message list: system
// instructions with the context block folded in, prior turns, then the
// user's message.
func assembleMessages(systemPrompt, contextBlock string, history []store.Message, userMessage string) []ChatMessage {
	system := systemPrompt
	if contextBlock != "" {
		system += "\n\n" + contextBlock
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: system})
	for _, m := range history {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, ChatMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: userMessage})
	return messages
}
