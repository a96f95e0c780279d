package tracker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Issue is the tracker-agnostic view of an external issue.
type Issue struct {
	// ID is the identifier used in API calls ("42", "PROJ-12", "1034").
	ID string `json:"id"`
	// Number orders issues created at the same instant. For JIRA it is the
	// numeric suffix of the key.
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	URL       string    `json:"url,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	Closed    bool      `json:"closed"`
}

// IssueRequest describes an issue to create.
type IssueRequest struct {
	Title  string
	Body   string
	Labels []string
}

// StatusUpdate is the set of fields the sync engine writes. A nil slice
// leaves the field untouched; an empty non-nil slice clears it.
type StatusUpdate struct {
	State     string
	Labels    []string
	Assignees []string
}

// ErrNotFound is returned when an issue does not exist.
var ErrNotFound = errors.New("issue not found")

// ErrNotInitialized is returned when a client is used before Init.
type ErrNotInitialized struct {
	Tracker string
}

func (e *ErrNotInitialized) Error() string {
	return fmt.Sprintf("%s tracker not initialized", e.Tracker)
}

// APIError is a failed call to a tracker API.
type APIError struct {
	Tracker    string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Tracker, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": API error %d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", truncate(e.Body, 300))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// NumberFromKey extracts the trailing number of "PROJ-123" or "123".
func NumberFromKey(key string) int {
	if i := strings.LastIndexByte(key, '-'); i >= 0 {
		key = key[i+1:]
	}
	n, _ := strconv.Atoi(key)
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
