package spec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/specweave/specweave/internal/types"
)

var acLinePattern = regexp.MustCompile(`^(\s*)[-*]\s+\[([ xX])\]\s+\*\*(AC-US\d+-\d+):?\*\*:?\s*(.*)$`)

// manualMarker on an AC line keeps the reconciler from flipping it.
const manualMarker = "<!-- manual -->"

// UserStory is a "### US-001: Title" section of spec.md.
type UserStory struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	LineNumber int      `json:"line"`
	ACs        []string `json:"acs"`
}

// SpecDocument is a parsed spec.md.
type SpecDocument struct {
	Frontmatter *Frontmatter
	Stories     []*UserStory
	ACs         []*types.AcceptanceCriterion
	Warnings    []ParseWarning

	buf     lineBuffer
	acByID  map[string]*types.AcceptanceCriterion
	stories map[string]*UserStory
}

// ParseSpec scans spec.md for user stories and their acceptance criteria.
// A story opens at a heading such as "### US-001: Login" and closes at the
// next heading of the same or higher level. AC lines outside a story are
// reported and skipped.
func ParseSpec(content string) *SpecDocument {
	doc := &SpecDocument{
		buf:     newLineBuffer(content),
		acByID:  make(map[string]*types.AcceptanceCriterion),
		stories: make(map[string]*UserStory),
	}

	start := 0
	fm, end, err := parseFrontmatter(doc.buf)
	if err != nil {
		doc.warn(1, "frontmatter: %v", err)
	}
	doc.Frontmatter = fm
	if end > 0 {
		start = end
	}

	var (
		story      *UserStory
		storyLevel int
		inFence    bool
	)
	for i := start; i < len(doc.buf.lines); i++ {
		line := doc.buf.text(i)
		lineNo := i + 1

		if fencePattern.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		if level, text, ok := heading(line); ok {
			if m := storyHeading.FindStringSubmatch(text); m != nil {
				story = doc.addStory(m[1], m[2], lineNo)
				storyLevel = level
				continue
			}
			if story != nil && level <= storyLevel {
				story = nil
			}
			continue
		}

		idx := acLinePattern.FindStringSubmatchIndex(line)
		if idx == nil {
			continue
		}
		id := types.NormalizeACID(line[idx[6]:idx[7]])
		if story == nil {
			doc.warn(lineNo, "%s appears outside any user story, skipped", id)
			continue
		}
		doc.addAC(story, line, idx, id, lineNo)
	}

	return doc
}

func (d *SpecDocument) addStory(rawID, title string, lineNo int) *UserStory {
	id := types.NormalizeUserStoryID(rawID)
	if s, ok := d.stories[id]; ok {
		d.warn(lineNo, "user story %s declared twice, merging into line %d", id, s.LineNumber)
		return s
	}
	s := &UserStory{ID: id, Title: strings.TrimSpace(title), LineNumber: lineNo}
	d.stories[id] = s
	d.Stories = append(d.Stories, s)
	return s
}

func (d *SpecDocument) addAC(story *UserStory, line string, idx []int, id string, lineNo int) {
	if _, dup := d.acByID[id]; dup {
		d.warn(lineNo, "duplicate acceptance criterion %s, keeping the first occurrence", id)
		return
	}
	if n, ok := types.ACStoryNumber(id); ok {
		if sn, _ := types.UserStoryNumber(story.ID); sn != n {
			d.warn(lineNo, "%s is declared under %s", id, story.ID)
		}
	}

	desc := strings.TrimSpace(line[idx[8]:idx[9]])
	protected := strings.Contains(desc, manualMarker)
	if protected {
		desc = strings.TrimSpace(strings.ReplaceAll(desc, manualMarker, ""))
	}

	ac := &types.AcceptanceCriterion{
		ID:          id,
		UserStory:   story.ID,
		Description: desc,
		Checked:     line[idx[4]] != ' ',
		Protected:   protected,
		LineNumber:  lineNo,
		MarkerCol:   idx[4],
	}
	d.acByID[id] = ac
	d.ACs = append(d.ACs, ac)
	story.ACs = append(story.ACs, id)
}

func (d *SpecDocument) warn(line int, format string, args ...any) {
	d.Warnings = append(d.Warnings, ParseWarning{Line: line, Message: fmt.Sprintf(format, args...)})
}

// AC returns the acceptance criterion with the given id.
func (d *SpecDocument) AC(id string) (*types.AcceptanceCriterion, bool) {
	ac, ok := d.acByID[types.NormalizeACID(id)]
	return ac, ok
}

// Story returns the user story with the given id in any accepted spelling.
func (d *SpecDocument) Story(id string) (*UserStory, bool) {
	s, ok := d.stories[types.NormalizeUserStoryID(id)]
	return s, ok
}

// SetChecked rewrites the checkbox of an AC. Returns true if the line changed.
func (d *SpecDocument) SetChecked(id string, checked bool) bool {
	ac, ok := d.AC(id)
	if !ok || ac.Checked == checked {
		return false
	}
	marker := byte(' ')
	if checked {
		marker = 'x'
	}
	d.buf.setMarker(ac.LineNumber-1, ac.MarkerCol, marker)
	ac.Checked = checked
	return true
}

// Serialize renders the document with any checkbox edits applied.
func (d *SpecDocument) Serialize() string {
	return d.buf.String()
}
