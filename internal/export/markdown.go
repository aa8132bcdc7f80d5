package export

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProseMirrorToMarkdown converts a ProseMirror JSON document to Markdown.
func ProseMirrorToMarkdown(doc json.RawMessage) string {
	root := parseDoc(doc)
	if root == nil {
		return ""
	}
	out := markdownBlocks(root["content"], "")
	return strings.TrimSpace(out) + "\n"
}

func markdownBlocks(content interface{}, indent string) string {
	items, ok := content.([]interface{})
	if !ok {
		return ""
	}

	var b strings.Builder
	for _, item := range items {
		node, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		b.WriteString(markdownBlock(node, indent))
	}
	return b.String()
}

func markdownBlock(node map[string]interface{}, indent string) string {
	nodeType, _ := node["type"].(string)

	switch nodeType {
	case "paragraph":
		return indent + markdownInline(node["content"]) + "\n\n"
	case "heading":
		level := headingLevel(node)
		return strings.Repeat("#", level) + " " + markdownInline(node["content"]) + "\n\n"
	case "bulletList":
		return markdownList(node["content"], indent, func(int) string { return "- " })
	case "orderedList":
		return markdownList(node["content"], indent, func(i int) string { return fmt.Sprintf("%d. ", i+1) })
	case "blockquote":
		inner := strings.TrimRight(markdownBlocks(node["content"], ""), "\n")
		var b strings.Builder
		for _, line := range strings.Split(inner, "\n") {
			b.WriteString(indent + "> " + line + "\n")
		}
		b.WriteString("\n")
		return b.String()
	case "codeBlock":
		return indent + "```\n" + markdownInline(node["content"]) + "\n" + indent + "```\n\n"
	case "horizontalRule":
		return indent + "---\n\n"
	default:
		return markdownBlocks(node["content"], indent)
	}
}

func markdownList(content interface{}, indent string, marker func(int) string) string {
	items, ok := content.([]interface{})
	if !ok {
		return ""
	}

	var b strings.Builder
	for i, item := range items {
		node, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		// A list item is a sequence of blocks; the first line carries the
		// marker, continuation blocks are indented under it.
		inner := strings.TrimRight(markdownBlocks(node["content"], ""), "\n")
		lines := strings.Split(inner, "\n")
		for j, line := range lines {
			if j == 0 {
				b.WriteString(indent + marker(i) + line + "\n")
				continue
			}
			if line == "" {
				b.WriteString("\n")
				continue
			}
			b.WriteString(indent + "  " + line + "\n")
		}
	}
	b.WriteString("\n")
	return b.String()
}

func markdownInline(content interface{}) string {
	items, ok := content.([]interface{})
	if !ok {
		return ""
	}

	var b strings.Builder
	for _, item := range items {
		node, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		nodeType, _ := node["type"].(string)
		switch nodeType {
		case "text":
			text, _ := node["text"].(string)
			marks, _ := node["marks"].([]interface{})
			b.WriteString(markdownText(text, marks))
		case "hardBreak":
			b.WriteString("  \n")
		default:
			b.WriteString(markdownInline(node["content"]))
		}
	}
	return b.String()
}

func markdownText(text string, marks []interface{}) string {
	out := text
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]interface{})
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)

		switch markType {
		case "bold":
			out = "**" + out + "**"
		case "italic":
			out = "*" + out + "*"
		case "code":
			out = "`" + out + "`"
		case "strike":
			out = "~~" + out + "~~"
		case "link":
			href := ""
			if attrs, ok := mark["attrs"].(map[string]interface{}); ok {
				if hrefVal, ok := attrs["href"].(string); ok {
					href = hrefVal
				}
			}
			out = fmt.Sprintf("[%s](%s)", out, href)
		}
	}
	return out
}
