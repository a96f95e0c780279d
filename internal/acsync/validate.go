package acsync

import (
	"fmt"

	"github.com/specweave/specweave/internal/spec"
)

// Warning categories
const (
	CategoryOrphanedAC      = "orphaned-ac"
	CategoryInvalidACRef    = "invalid-ac-reference"
	CategoryInvalidUSRef    = "invalid-us-reference"
	CategoryUnknownDep      = "unknown-dependency"
	CategoryDependencyCycle = "dependency-cycle"
	CategoryParse           = "parse"
)

// Warning is a non-blocking reference problem between spec.md and tasks.md.
type Warning struct {
	Category string `json:"category"`
	ID       string `json:"id,omitempty"`
	Message  string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s", w.Category, w.Message)
}

// ValidateACMapping cross-checks task AC references against the ACs declared
// in spec.md. Orphaned ACs (declared but satisfied by no task) and invalid
// references (cited by a task but never declared) are reported separately.
func ValidateACMapping(specDoc *spec.SpecDocument, taskDoc *spec.TaskDocument) []Warning {
	var warnings []Warning

	for _, pw := range specDoc.Warnings {
		warnings = append(warnings, Warning{Category: CategoryParse, Message: "spec.md " + pw.String()})
	}
	for _, pw := range taskDoc.Warnings {
		warnings = append(warnings, Warning{Category: CategoryParse, Message: "tasks.md " + pw.String()})
	}

	referenced := make(map[string]bool)
	for _, t := range taskDoc.Tasks {
		for _, ac := range t.SatisfiesACs {
			referenced[ac] = true
			if _, ok := specDoc.AC(ac); !ok {
				warnings = append(warnings, Warning{
					Category: CategoryInvalidACRef,
					ID:       ac,
					Message:  fmt.Sprintf("%s references %s, which is not declared in spec.md", t.ID, ac),
				})
			}
		}
		if t.UserStory != "" && len(specDoc.Stories) > 0 {
			if _, ok := specDoc.Story(t.UserStory); !ok {
				warnings = append(warnings, Warning{
					Category: CategoryInvalidUSRef,
					ID:       t.UserStory,
					Message:  fmt.Sprintf("%s belongs to %s, which is not declared in spec.md", t.ID, t.UserStory),
				})
			}
		}
	}

	for _, ac := range specDoc.ACs {
		if !referenced[ac.ID] {
			warnings = append(warnings, Warning{
				Category: CategoryOrphanedAC,
				ID:       ac.ID,
				Message:  fmt.Sprintf("%s is not satisfied by any task", ac.ID),
			})
		}
	}

	for _, dep := range spec.ValidateDependencies(taskDoc) {
		warnings = append(warnings, Warning{Category: dep.Kind, ID: dep.TaskID, Message: dep.Message})
	}
	return warnings
}
