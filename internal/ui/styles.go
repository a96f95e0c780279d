// Package ui provides terminal styling for specweave CLI output.
// Colors adapt to light and dark backgrounds.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorPass = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	// ColorMuted is used for ids, timestamps and skipped items.
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

// TreeLast prefixes detail lines under an item.
const TreeLast = "└─ "

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a section header in uppercase.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color.
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

func RenderPassIcon() string { return PassStyle.Render(IconPass) }
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }
func RenderFailIcon() string { return FailStyle.Render(IconFail) }
func RenderSkipIcon() string { return MutedStyle.Render(IconSkip) }
func RenderInfoIcon() string { return AccentStyle.Render(IconInfo) }

// RenderSyncState colors a sync classification: in-sync passes, one-sided
// drift warns, conflicts fail.
func RenderSyncState(state string) string {
	switch state {
	case "in-sync":
		return RenderPass(state)
	case "local-ahead", "external-ahead":
		return RenderWarn(state)
	case "conflict":
		return RenderFail(state)
	default:
		return RenderMuted(state)
	}
}

// RenderProgress renders "done/total" with the icon for its completeness.
func RenderProgress(done, total int) string {
	label := fmt.Sprintf("%d/%d", done, total)
	switch {
	case total == 0:
		return RenderSkipIcon() + " " + RenderMuted(label)
	case done == total:
		return RenderPassIcon() + " " + RenderPass(label)
	default:
		return RenderWarnIcon() + " " + RenderWarn(label)
	}
}
