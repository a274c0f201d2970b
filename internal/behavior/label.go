// Package behavior turns per-frame perception output into a coarse
// behavior label using fixed geometric thresholds.
package behavior

import (
	"fmt"
	"strings"
)

// Label is one of the closed set of behaviors the classifier can emit.
type Label string

const (
	Normal     Label = "Normal"
	Sleeping   Label = "Sleeping"
	UsingPhone Label = "Using Phone"
	Eating     Label = "Eating"
)

var allLabels = []Label{Normal, Sleeping, UsingPhone, Eating}

// Labels returns the closed label set in declaration order.
func Labels() []Label {
	out := make([]Label, len(allLabels))
	copy(out, allLabels)
	return out
}

// Valid reports whether l belongs to the closed set.
func (l Label) Valid() bool {
	for _, known := range allLabels {
		if l == known {
			return true
		}
	}
	return false
}

// Slug is a filename-safe lowercase form ("using-phone").
func (l Label) Slug() string {
	return strings.ReplaceAll(strings.ToLower(string(l)), " ", "-")
}

// ParseLabel accepts a label name case-insensitively, with surrounding
// whitespace ignored.
func ParseLabel(s string) (Label, error) {
	trimmed := strings.TrimSpace(s)
	for _, known := range allLabels {
		if strings.EqualFold(trimmed, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown behavior label %q", s)
}
