// Package increment locates increments under .specweave/increments and loads
// their spec, tasks and metadata.
package increment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/specweave/specweave/internal/metadata"
	"github.com/specweave/specweave/internal/spec"
	"github.com/specweave/specweave/internal/types"
	"github.com/specweave/specweave/internal/utils"
)

// ErrNotFound is returned when an increment directory does not exist.
var ErrNotFound = errors.New("increment not found")

const (
	specFile  = "spec.md"
	tasksFile = "tasks.md"
)

// Store resolves increment paths under a project root.
type Store struct {
	Root     string
	Metadata *metadata.Store
}

// NewStore creates a store for the project at root.
func NewStore(root string, md *metadata.Store) *Store {
	if md == nil {
		md = metadata.NewStore(root)
	}
	return &Store{Root: root, Metadata: md}
}

// Dir returns the directory of an increment.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.Root, utils.ProjectDirName, "increments", id)
}

// SpecPath returns the path of spec.md.
func (s *Store) SpecPath(id string) string { return filepath.Join(s.Dir(id), specFile) }

// TasksPath returns the path of tasks.md.
func (s *Store) TasksPath(id string) string { return filepath.Join(s.Dir(id), tasksFile) }

// List returns the ids of all increments that have a spec.md, in directory order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Root, utils.ProjectDirName, "increments"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list increments: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !types.IsIncrementID(e.Name()) {
			continue
		}
		if _, err := os.Stat(s.SpecPath(e.Name())); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// Exists reports whether the increment directory exists.
func (s *Store) Exists(id string) bool {
	info, err := os.Stat(s.Dir(id))
	return err == nil && info.IsDir()
}

// ReadSpec reads and parses spec.md.
func (s *Store) ReadSpec(id string) (*spec.SpecDocument, error) {
	data, err := s.read(id, specFile)
	if err != nil {
		return nil, err
	}
	return spec.ParseSpec(string(data)), nil
}

// ReadTasks reads and parses tasks.md.
func (s *Store) ReadTasks(id string) (*spec.TaskDocument, error) {
	data, err := s.read(id, tasksFile)
	if err != nil {
		return nil, err
	}
	return spec.ParseTasks(string(data)), nil
}

// WriteSpec writes spec.md atomically.
func (s *Store) WriteSpec(id string, doc *spec.SpecDocument) error {
	if err := utils.AtomicWriteFile(s.SpecPath(id), []byte(doc.Serialize()), 0o644); err != nil {
		return fmt.Errorf("write spec.md for %s: %w", id, err)
	}
	return nil
}

// WriteTasks writes tasks.md atomically.
func (s *Store) WriteTasks(id string, doc *spec.TaskDocument) error {
	if err := utils.AtomicWriteFile(s.TasksPath(id), []byte(doc.Serialize()), 0o644); err != nil {
		return fmt.Errorf("write tasks.md for %s: %w", id, err)
	}
	return nil
}

func (s *Store) read(id, name string) ([]byte, error) {
	if !s.Exists(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(id), name))
	if err != nil {
		return nil, fmt.Errorf("read %s for %s: %w", name, id, err)
	}
	return data, nil
}

// Load assembles an Increment from metadata.json, falling back to spec.md
// frontmatter for fields the metadata does not carry.
func (s *Store) Load(id string) (*types.Increment, error) {
	if !s.Exists(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	num, slug, err := types.ParseIncrementID(id)
	if err != nil {
		return nil, err
	}
	md, err := s.Metadata.Load(id)
	if err != nil {
		return nil, err
	}

	inc := &types.Increment{
		ID:       id,
		Number:   num,
		Slug:     slug,
		Title:    md.Title,
		Status:   md.Status,
		Priority: md.Priority,
		Type:     md.Type,
		External: md.External,
	}

	if doc, err := s.ReadSpec(id); err == nil && doc.Frontmatter != nil {
		fm := doc.Frontmatter
		if inc.Title == "" {
			inc.Title = fm.Title
		}
		if inc.Priority == "" {
			inc.Priority = fm.Priority
		}
		if inc.Type == "" {
			inc.Type = fm.Type
		}
		if inc.Status == "" && fm.Status != "" {
			if st, err := types.ParseIncrementStatus(fm.Status); err == nil {
				inc.Status = st
			}
		}
	}
	if inc.Status == "" {
		inc.Status = types.IncrementPlanning
	}
	if inc.Title == "" {
		inc.Title = slug
	}
	return inc, nil
}

// LoadAll loads every listed increment. Unloadable increments are skipped
// and returned as errors keyed by id.
func (s *Store) LoadAll() ([]*types.Increment, map[string]error, error) {
	ids, err := s.List()
	if err != nil {
		return nil, nil, err
	}
	var (
		incs []*types.Increment
		errs = make(map[string]error)
	)
	for _, id := range ids {
		inc, err := s.Load(id)
		if err != nil {
			errs[id] = err
			continue
		}
		incs = append(incs, inc)
	}
	return incs, errs, nil
}
