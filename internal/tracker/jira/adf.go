package jira

import "strings"

// PlainTextToADF converts plain text to an Atlassian Document Format
// document, one paragraph per line.
func PlainTextToADF(text string) map[string]any {
	var content []any
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			content = append(content, map[string]any{"type": "paragraph", "content": []any{}})
			continue
		}
		content = append(content, map[string]any{
			"type":    "paragraph",
			"content": []any{map[string]any{"type": "text", "text": para}},
		})
	}
	return map[string]any{"type": "doc", "version": 1, "content": content}
}
