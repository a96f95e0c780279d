package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	taskIDPattern      = regexp.MustCompile(`^T-\d+$`)
	userStoryIDPattern = regexp.MustCompile(`(?i)^US-?(\d+)$`)
	acIDPattern        = regexp.MustCompile(`(?i)^AC-US(\d+)-(\d+)$`)
	incrementIDPattern = regexp.MustCompile(`^(\d{4})-([a-z0-9][a-z0-9-]*)$`)
)

// IsValidTaskID reports whether id looks like T-001.
func IsValidTaskID(id string) bool {
	return taskIDPattern.MatchString(id)
}

// NormalizeUserStoryID canonicalizes US-1, us1 and US-001 to US-001.
// Unrecognized input is returned unchanged.
func NormalizeUserStoryID(id string) string {
	m := userStoryIDPattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return strings.TrimSpace(id)
	}
	n, _ := strconv.Atoi(m[1])
	return fmt.Sprintf("US-%03d", n)
}

// UserStoryNumber returns the numeric part of a user story id.
func UserStoryNumber(id string) (int, bool) {
	m := userStoryIDPattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// IsValidACID reports whether id looks like AC-US1-01.
func IsValidACID(id string) bool {
	return acIDPattern.MatchString(id)
}

// NormalizeACID upper-cases an AC id.
func NormalizeACID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ACStoryNumber extracts the user story number an AC id refers to:
// AC-US3-02 belongs to story 3.
func ACStoryNumber(id string) (int, bool) {
	m := acIDPattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// ParseIncrementID splits "0043-status-sync" into its number and slug.
func ParseIncrementID(id string) (int, string, error) {
	m := incrementIDPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, "", fmt.Errorf("invalid increment id %q (expected NNNN-slug)", id)
	}
	n, _ := strconv.Atoi(m[1])
	return n, m[2], nil
}

// IsIncrementID reports whether a directory name is an increment id.
func IsIncrementID(name string) bool {
	return incrementIDPattern.MatchString(name)
}
