package spec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML header of spec.md.
type Frontmatter struct {
	Increment string `yaml:"increment" json:"increment,omitempty"`
	Title     string `yaml:"title" json:"title,omitempty"`
	Status    string `yaml:"status" json:"status,omitempty"`
	Priority  string `yaml:"priority" json:"priority,omitempty"`
	Type      string `yaml:"type" json:"type,omitempty"`
	Created   string `yaml:"created" json:"created,omitempty"`
}

// parseFrontmatter decodes a leading "---" block. It returns the index of the
// first line after the block, or 0 when there is none.
func parseFrontmatter(buf lineBuffer) (*Frontmatter, int, error) {
	if len(buf.lines) == 0 || strings.TrimSpace(buf.text(0)) != "---" {
		return nil, 0, nil
	}
	for i := 1; i < len(buf.lines); i++ {
		if strings.TrimSpace(buf.text(i)) != "---" {
			continue
		}
		body := make([]string, 0, i-1)
		for j := 1; j < i; j++ {
			body = append(body, buf.text(j))
		}
		var fm Frontmatter
		if err := yaml.Unmarshal([]byte(strings.Join(body, "\n")), &fm); err != nil {
			return nil, i + 1, fmt.Errorf("invalid YAML: %w", err)
		}
		return &fm, i + 1, nil
	}
	return nil, 0, fmt.Errorf("unterminated frontmatter block")
}
