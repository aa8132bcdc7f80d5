package assistant

import "unicode/utf8"

// EstimateTokens approximates how many model tokens s occupies. The
// rule of thumb is two characters per token; chunking, budgeting and
// history truncation all use this same estimate so their numbers stay
// comparable.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 2
}

// TokenBudget describes the model's context window.
type TokenBudget struct {
	MaxContext     int
	ReservedOutput int
}

// ContextBudget returns the tokens left for retrieved context and
// conversation history once the fixed prompt parts are accounted for.
func (b TokenBudget) ContextBudget(systemPrompt, userMessage string) int {
	budget := b.MaxContext - b.ReservedOutput - EstimateTokens(systemPrompt) - EstimateTokens(userMessage)
	if budget < 0 {
		return 0
	}
	return budget
}
