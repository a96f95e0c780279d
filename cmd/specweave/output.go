package main

import (
	"encoding/json"
	"fmt"

	"github.com/specweave/specweave/internal/ui"
)

// outputJSON writes v as indented JSON to stdout.
func (a *app) outputJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

// printf writes human output unless --quiet or --json is set.
func (a *app) printf(format string, args ...interface{}) {
	if a.quiet || a.jsonOutput {
		return
	}
	fmt.Fprintf(a.stdout, format, args...)
}

func (a *app) message(msg string) {
	a.printf("  %s\n", msg)
}

// warn writes a warning to stderr. Warnings are shown even with --quiet.
func (a *app) warn(msg string) {
	fmt.Fprintf(a.stderr, "%s %s\n", ui.RenderWarn("Warning:"), msg)
}
