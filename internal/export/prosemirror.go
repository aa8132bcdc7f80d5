package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// ProseMirrorToHTML converts a ProseMirror JSON document to HTML.
func ProseMirrorToHTML(doc json.RawMessage) string {
	root := parseDoc(doc)
	if root == nil {
		return ""
	}
	return renderNode(root)
}

// PlainText extracts the readable text of a ProseMirror document. Block
// nodes are separated by blank lines so downstream chunking can split on
// paragraph boundaries.
func PlainText(doc json.RawMessage) string {
	root := parseDoc(doc)
	if root == nil {
		return ""
	}
	var b strings.Builder
	writeNodeText(&b, root)
	return strings.TrimSpace(b.String())
}

// CountWords counts whitespace-separated words in the document text.
func CountWords(doc json.RawMessage) int {
	return len(strings.Fields(PlainText(doc)))
}

func parseDoc(doc json.RawMessage) map[string]interface{} {
	if len(doc) == 0 {
		return nil
	}
	var root map[string]interface{}
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil
	}
	return root
}

// renderNode recursively renders a ProseMirror node to HTML
func renderNode(node map[string]interface{}) string {
	nodeType, _ := node["type"].(string)
	if nodeType == "" {
		return ""
	}

	switch nodeType {
	case "doc":
		return renderContent(node["content"])
	case "paragraph":
		content := renderContent(node["content"])
		return fmt.Sprintf("<p>%s</p>\n", content)
	case "heading":
		level := headingLevel(node)
		content := renderContent(node["content"])
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, content, level)
	case "bulletList":
		content := renderContent(node["content"])
		return fmt.Sprintf("<ul>\n%s</ul>\n", content)
	case "orderedList":
		content := renderContent(node["content"])
		return fmt.Sprintf("<ol>\n%s</ol>\n", content)
	case "listItem":
		content := renderContent(node["content"])
		return fmt.Sprintf("<li>%s</li>\n", content)
	case "blockquote":
		content := renderContent(node["content"])
		return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", content)
	case "codeBlock":
		content := renderContent(node["content"])
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", html.EscapeString(content))
	case "text":
		text, _ := node["text"].(string)
		marks, _ := node["marks"].([]interface{})
		return renderTextWithMarks(text, marks)
	case "hardBreak":
		return "<br>"
	case "horizontalRule":
		return "<hr>\n"
	default:
		// Unknown node type - render content if any
		return renderContent(node["content"])
	}
}

// renderContent renders a slice of content nodes
func renderContent(content interface{}) string {
	items, ok := content.([]interface{})
	if !ok {
		return ""
	}

	var result strings.Builder
	for _, item := range items {
		if node, ok := item.(map[string]interface{}); ok {
			result.WriteString(renderNode(node))
		}
	}
	return result.String()
}

// renderTextWithMarks renders text with formatting marks
func renderTextWithMarks(text string, marks []interface{}) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]interface{})
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)

		switch markType {
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		case "code":
			htmlText = fmt.Sprintf("<code>%s</code>", htmlText)
		case "link":
			href := ""
			if attrs, ok := mark["attrs"].(map[string]interface{}); ok {
				if hrefVal, ok := attrs["href"].(string); ok {
					href = hrefVal
				}
			}
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		case "strike":
			htmlText = fmt.Sprintf("<s>%s</s>", htmlText)
		case "underline":
			htmlText = fmt.Sprintf("<u>%s</u>", htmlText)
		}
	}

	return htmlText
}

func headingLevel(node map[string]interface{}) int {
	if attrs, ok := node["attrs"].(map[string]interface{}); ok {
		if lvl, ok := attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
			return int(lvl)
		}
	}
	return 1
}

// writeNodeText appends the plain text of a node. Block boundaries become
// blank lines, hard breaks single newlines.
func writeNodeText(b *strings.Builder, node map[string]interface{}) {
	nodeType, _ := node["type"].(string)

	switch nodeType {
	case "text":
		text, _ := node["text"].(string)
		b.WriteString(text)
		return
	case "hardBreak":
		b.WriteString("\n")
		return
	}

	items, _ := node["content"].([]interface{})
	for _, item := range items {
		child, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		writeNodeText(b, child)
		if isBlockNode(child) {
			b.WriteString("\n\n")
		}
	}
}

// Lists and list items are not separators themselves; the paragraphs
// inside them already are.
func isBlockNode(node map[string]interface{}) bool {
	nodeType, _ := node["type"].(string)
	switch nodeType {
	case "paragraph", "heading", "blockquote", "codeBlock", "horizontalRule":
		return true
	}
	return false
}
