package increment

import (
	"fmt"
	"strings"

	"github.com/specweave/specweave/internal/types"
)

// DefaultHardCap is the maximum number of concurrently active increments.
const DefaultHardCap = 2

// DisciplineReport summarizes how many increments are in flight.
type DisciplineReport struct {
	Active    []string `json:"active"`
	Paused    []string `json:"paused,omitempty"`
	HardCap   int      `json:"hardCap"`
	Violation bool     `json:"violation"`
	Message   string   `json:"message"`
}

// CheckDiscipline verifies that no more than hardCap increments are active.
func CheckDiscipline(incs []*types.Increment, hardCap int) DisciplineReport {
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	r := DisciplineReport{HardCap: hardCap}
	for _, inc := range incs {
		switch inc.Status {
		case types.IncrementActive:
			r.Active = append(r.Active, inc.ID)
		case types.IncrementPaused:
			r.Paused = append(r.Paused, inc.ID)
		}
	}
	if len(r.Active) > hardCap {
		r.Violation = true
		r.Message = fmt.Sprintf("%d active increments exceed the limit of %d: %s",
			len(r.Active), hardCap, strings.Join(r.Active, ", "))
	} else {
		r.Message = fmt.Sprintf("%d of %d active increment slots in use", len(r.Active), hardCap)
	}
	return r
}
