package increment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/specweave/specweave/internal/metadata"
	"github.com/specweave/specweave/internal/types"
)

func writeIncrement(t *testing.T, root, id, specContent, tasksContent string) {
	t.Helper()
	dir := filepath.Join(root, ".specweave", "increments", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if specContent != "" {
		if err := os.WriteFile(filepath.Join(dir, "spec.md"), []byte(specContent), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if tasksContent != "" {
		if err := os.WriteFile(filepath.Join(dir, "tasks.md"), []byte(tasksContent), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListSkipsNonIncrements(t *testing.T) {
	root := t.TempDir()
	writeIncrement(t, root, "0002-beta", "# Beta\n", "")
	writeIncrement(t, root, "0001-alpha", "# Alpha\n", "")
	writeIncrement(t, root, "0003-nospec", "", "- [ ] **T-001**: x\n")
	writeIncrement(t, root, "_archive", "# old\n", "")

	s := NewStore(root, nil)
	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 || ids[0] != "0001-alpha" || ids[1] != "0002-beta" {
		t.Errorf("ids = %v", ids)
	}
}

func TestListWithoutIncrementsDir(t *testing.T) {
	ids, err := NewStore(t.TempDir(), nil).List()
	if err != nil || len(ids) != 0 {
		t.Errorf("List() = %v, %v", ids, err)
	}
}

func TestLoadMergesFrontmatter(t *testing.T) {
	root := t.TempDir()
	writeIncrement(t, root, "0007-auth", "---\ntitle: Authentication\nstatus: in-progress\npriority: P1\n---\n# Auth\n", "")

	s := NewStore(root, nil)
	inc, err := s.Load("0007-auth")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if inc.Number != 7 || inc.Slug != "auth" {
		t.Errorf("number/slug = %d/%s", inc.Number, inc.Slug)
	}
	if inc.Title != "Authentication" || inc.Priority != "P1" {
		t.Errorf("title/priority = %q/%q", inc.Title, inc.Priority)
	}
	if inc.Status != types.IncrementActive {
		t.Errorf("status = %q, want active", inc.Status)
	}

	if _, err := s.Metadata.Update("0007-auth", func(md *metadata.Metadata) error {
		md.Status = types.IncrementPaused
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	inc, _ = s.Load("0007-auth")
	if inc.Status != types.IncrementPaused {
		t.Errorf("metadata status should win, got %q", inc.Status)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := NewStore(t.TempDir(), nil).Load("0009-none")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckDiscipline(t *testing.T) {
	incs := []*types.Increment{
		{ID: "0001-a", Status: types.IncrementActive},
		{ID: "0002-b", Status: types.IncrementActive},
		{ID: "0003-c", Status: types.IncrementPaused},
		{ID: "0004-d", Status: types.IncrementCompleted},
	}
	r := CheckDiscipline(incs, 2)
	if r.Violation || len(r.Active) != 2 || len(r.Paused) != 1 {
		t.Errorf("unexpected report: %+v", r)
	}

	incs = append(incs, &types.Increment{ID: "0005-e", Status: types.IncrementActive})
	r = CheckDiscipline(incs, 0)
	if !r.Violation || r.HardCap != DefaultHardCap {
		t.Errorf("expected violation with default cap: %+v", r)
	}
}
