package spec

import (
	"strings"
	"testing"
)

const sampleSpec = `---
increment: 0007-auth
title: Authentication
status: active
priority: P1
---

# Authentication

## User Stories

### US-001: Login

- [ ] **AC-US1-01**: Form validates email
- [x] **AC-US1-02**: Session cookie is set
- [x] **AC-US1-03**: Remember me <!-- manual -->

### US-002: Logout

- [ ] **AC-US2-01**: Logout clears session
- [ ] **AC-US3-01**: Misfiled criterion

## Out of scope

- [ ] **AC-US9-01**: Not inside a story
`

func TestParseSpec(t *testing.T) {
	doc := ParseSpec(sampleSpec)

	if doc.Frontmatter == nil || doc.Frontmatter.Increment != "0007-auth" || doc.Frontmatter.Status != "active" {
		t.Fatalf("frontmatter = %+v", doc.Frontmatter)
	}
	if len(doc.Stories) != 2 {
		t.Fatalf("got %d stories, want 2", len(doc.Stories))
	}
	if doc.Stories[0].Title != "Login" {
		t.Errorf("story title = %q", doc.Stories[0].Title)
	}
	if len(doc.ACs) != 5 {
		t.Fatalf("got %d ACs, want 5", len(doc.ACs))
	}

	ac, ok := doc.AC("AC-US1-02")
	if !ok || !ac.Checked || ac.UserStory != "US-001" {
		t.Errorf("AC-US1-02 = %+v", ac)
	}
	ac, _ = doc.AC("AC-US1-03")
	if !ac.Protected || ac.Description != "Remember me" {
		t.Errorf("AC-US1-03 = %+v", ac)
	}
	if _, ok := doc.AC("AC-US9-01"); ok {
		t.Error("AC outside a story should be skipped")
	}

	var misfiled, outside bool
	for _, w := range doc.Warnings {
		if strings.Contains(w.Message, "AC-US3-01 is declared under US-002") {
			misfiled = true
		}
		if strings.Contains(w.Message, "AC-US9-01 appears outside") {
			outside = true
		}
	}
	if !misfiled || !outside {
		t.Errorf("missing warnings: %v", doc.Warnings)
	}
}

func TestParseSpecRoundTrip(t *testing.T) {
	for _, in := range []string{sampleSpec, "", "# Empty\n", "---\nbad: [yaml\n---\n"} {
		if got := ParseSpec(in).Serialize(); got != in {
			t.Errorf("round trip mismatch for %q", in)
		}
	}
}

func TestParseSpecMalformedFrontmatter(t *testing.T) {
	doc := ParseSpec("---\nbad: [yaml\n---\n### US-1: A\n- [x] **AC-US1-01**: ok\n")
	if doc.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %+v", doc.Frontmatter)
	}
	if len(doc.Warnings) == 0 {
		t.Error("expected a frontmatter warning")
	}
	if _, ok := doc.AC("AC-US1-01"); !ok {
		t.Error("ACs after bad frontmatter should still parse")
	}
}

func TestSetChecked(t *testing.T) {
	doc := ParseSpec(sampleSpec)
	if !doc.SetChecked("AC-US1-01", true) {
		t.Fatal("SetChecked returned false")
	}
	if doc.SetChecked("AC-US1-01", true) {
		t.Error("second SetChecked should be a no-op")
	}
	if !doc.SetChecked("AC-US1-02", false) {
		t.Fatal("uncheck returned false")
	}
	want := strings.Replace(sampleSpec, "- [ ] **AC-US1-01**", "- [x] **AC-US1-01**", 1)
	want = strings.Replace(want, "- [x] **AC-US1-02**", "- [ ] **AC-US1-02**", 1)
	if got := doc.Serialize(); got != want {
		t.Errorf("unexpected serialization:\n%s", got)
	}
}

func TestParseSpecWithoutStories(t *testing.T) {
	doc := ParseSpec("# Spec\n\nJust prose.\n")
	if len(doc.ACs) != 0 || len(doc.Stories) != 0 {
		t.Errorf("expected empty result, got %d ACs %d stories", len(doc.ACs), len(doc.Stories))
	}
}
