package assistant

import "strings"

// DefaultChunkTokens caps a chunk's estimated token count.
const DefaultChunkTokens = 400

// SplitText splits plain text into retrieval chunks. Splits happen on
// paragraph boundaries; consecutive chunks overlap by one paragraph so a
// thought cut at a boundary is still retrievable from both sides.
// Paragraphs longer than maxTokens are hard-split on word boundaries.
func SplitText(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultChunkTokens
	}

	paragraphs := splitParagraphs(text, maxTokens)
	if len(paragraphs) == 0 {
		return nil
	}

	chunks := make([]string, 0)
	current := make([]string, 0)
	currentTokens := 0

	for _, para := range paragraphs {
		tokens := EstimateTokens(para)
		if len(current) > 0 && currentTokens+tokens > maxTokens {
			chunks = append(chunks, strings.Join(current, "\n\n"))

			// Carry the last paragraph over as overlap, unless doing so
			// would immediately overflow the new chunk.
			last := current[len(current)-1]
			lastTokens := EstimateTokens(last)
			if lastTokens+tokens <= maxTokens {
				current = []string{last}
				currentTokens = lastTokens
			} else {
				current = current[:0]
				currentTokens = 0
			}
		}
		current = append(current, para)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}

func splitParagraphs(text string, maxTokens int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	rough := strings.Split(text, "\n\n")

	out := make([]string, 0, len(rough))
	for _, p := range rough {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if EstimateTokens(p) <= maxTokens {
			out = append(out, p)
			continue
		}
		out = append(out, splitLongParagraph(p, maxTokens)...)
	}
	return out
}

func splitLongParagraph(p string, maxTokens int) []string {
	words := strings.Fields(p)

	pieces := make([]string, 0)
	current := make([]string, 0)
	currentTokens := 0
	for _, w := range words {
		tokens := EstimateTokens(w) + 1
		if len(current) > 0 && currentTokens+tokens > maxTokens {
			pieces = append(pieces, strings.Join(current, " "))
			current = current[:0]
			currentTokens = 0
		}
		current = append(current, w)
		currentTokens += tokens
	}
	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, " "))
	}
	return pieces
}
