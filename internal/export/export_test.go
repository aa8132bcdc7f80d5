package export

import (
	"encoding/json"
	"html/template"
	"strings"
	"testing"
	"time"
)

func TestProseMirrorToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "simple paragraph",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Hello world"}]}]}`,
			expected: "<p>Hello world</p>",
		},
		{
			name:     "heading with levels",
			input:    `{"type":"doc","content":[{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"Section Title"}]}]}`,
			expected: "<h2>Section Title</h2>",
		},
		{
			name:     "bold and italic text",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Bold and italic","marks":[{"type":"bold"},{"type":"italic"}]}]}]}`,
			expected: "<strong><em>Bold and italic</em></strong>",
		},
		{
			name:     "bullet list",
			input:    `{"type":"doc","content":[{"type":"bulletList","content":[{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"Item 1"}]}]}]}]}`,
			expected: "<ul>",
		},
		{
			name:     "code block",
			input:    `{"type":"doc","content":[{"type":"codeBlock","content":[{"type":"text","text":"func main() {}"}]}]}`,
			expected: "<pre><code>func main() {}</code></pre>",
		},
		{
			name:     "link mark",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"see here","marks":[{"type":"link","attrs":{"href":"https://example.com"}}]}]}]}`,
			expected: `<a href="https://example.com">see here</a>`,
		},
		{
			name:     "escapes raw text",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"<script>alert(1)</script>"}]}]}`,
			expected: "&lt;script&gt;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := strings.TrimSpace(ProseMirrorToHTML(json.RawMessage(tt.input)))
			if !strings.Contains(result, tt.expected) && !(tt.expected == "" && result == "") {
				t.Errorf("ProseMirrorToHTML() = %v, want it to contain %v", result, tt.expected)
			}
		})
	}
}

func TestProseMirrorToMarkdown(t *testing.T) {
	doc := json.RawMessage(`{
		"type": "doc",
		"content": [
			{"type": "heading", "attrs": {"level": 2}, "content": [{"type": "text", "text": "Chapter"}]},
			{"type": "paragraph", "content": [
				{"type": "text", "text": "Plain, "},
				{"type": "text", "marks": [{"type": "bold"}], "text": "bold"},
				{"type": "text", "text": " and "},
				{"type": "text", "marks": [{"type": "italic"}], "text": "italic"},
				{"type": "text", "text": "."}
			]},
			{"type": "bulletList", "content": [
				{"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "first"}]}]},
				{"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "second"}]}]}
			]},
			{"type": "orderedList", "content": [
				{"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "one"}]}]},
				{"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "two"}]}]}
			]},
			{"type": "blockquote", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "quoted"}]}]},
			{"type": "codeBlock", "content": [{"type": "text", "text": "x := 1"}]}
		]
	}`)

	md := ProseMirrorToMarkdown(doc)

	for _, want := range []string{
		"## Chapter",
		"Plain, **bold** and *italic*.",
		"- first",
		"- second",
		"1. one",
		"2. two",
		"> quoted",
		"```\nx := 1\n```",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown output missing %q:\n%s", want, md)
		}
	}
}

func TestPlainTextAndWordCount(t *testing.T) {
	doc := json.RawMessage(`{
		"type": "doc",
		"content": [
			{"type": "heading", "attrs": {"level": 1}, "content": [{"type": "text", "text": "Title here"}]},
			{"type": "paragraph", "content": [
				{"type": "text", "text": "One two "},
				{"type": "text", "marks": [{"type": "bold"}], "text": "three"}
			]},
			{"type": "paragraph", "content": [{"type": "text", "text": "four five"}]}
		]
	}`)

	text := PlainText(doc)
	if !strings.Contains(text, "Title here") || !strings.Contains(text, "One two three") {
		t.Fatalf("PlainText() = %q, want the document text", text)
	}
	if !strings.Contains(text, "\n\n") {
		t.Fatalf("PlainText() = %q, want blank lines between blocks", text)
	}

	if got := CountWords(doc); got != 7 {
		t.Fatalf("CountWords() = %d, want 7", got)
	}
	if got := CountWords(nil); got != 0 {
		t.Fatalf("CountWords(nil) = %d, want 0", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	data := TemplateData{
		Title:       "Test Document",
		ProjectName: "Test Project",
		ContentHTML: template.HTML("<p>This is the content.</p>"),
		Author:      "Test Author",
		UpdatedAt:   time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
		WordCount:   42,
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	if !strings.Contains(html, "Test Document") {
		t.Error("HTML missing title")
	}
	if !strings.Contains(html, "Test Project") {
		t.Error("HTML missing project name")
	}
	if !strings.Contains(html, "Test Author") {
		t.Error("HTML missing author")
	}

	// Content must be rendered as raw HTML, not escaped.
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("HTML content was escaped - should be rendered as raw HTML")
	}
	if !strings.Contains(html, "<p>This is the content.</p>") {
		t.Error("HTML content should contain unescaped <p> tags")
	}
}
