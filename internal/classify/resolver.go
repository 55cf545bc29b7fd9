// Package classify resolves the 3-level green project taxonomy
// (large/medium/small) into its canonical coded label.
package classify

import (
	"context"
	"fmt"
	"strings"
)

// Fixed terminal classification applied when a record is marked non-green.
const (
	NonGreenLarge  = "Other"
	NonGreenMedium = "Non-green loan"
	NonGreenSmall  = "Non-green loan"
	NonGreenLabel  = "10 Other / 10.1 Non-green loan / 10.1.1 Non-green loan"
)

// segmentSeparator joins the per-level "<code> <name>" segments.
const segmentSeparator = " / "

// CategoryStore reads the classification reference table. Lookups returning
// "" mean no matching row; ties between candidate codes are broken by the
// highest code value (the store orders descending).
type CategoryStore interface {
	// FormattedForTriple returns the canonical label for an exact
	// (large, medium, small) name match.
	FormattedForTriple(ctx context.Context, large, medium, small string) (string, error)
	// FormattedForPrefix returns the canonical label for a (large, medium)
	// match whose table entry has no small-level code.
	FormattedForPrefix(ctx context.Context, large, medium string) (string, error)
	// LargeCodeForName returns the highest large code registered for a
	// large-level name.
	LargeCodeForName(ctx context.Context, large string) (string, error)
	// MediumCodeForName returns the medium code for (large, medium),
	// restricted to largeCode when non-empty. The second result is the large
	// code of the matched row.
	MediumCodeForName(ctx context.Context, large, largeCode, medium string) (mediumCode, matchedLarge string, err error)
	// SmallCodeForName returns the small code for (large, medium, small),
	// restricted to the given parent codes when non-empty. The trailing
	// results are the large and medium codes of the matched row.
	SmallCodeForName(ctx context.Context, large, largeCode, medium, mediumCode, small string) (smallCode, matchedLarge, matchedMedium string, err error)
}

// Resolver resolves classification labels against a category store.
type Resolver struct {
	store CategoryStore
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(store CategoryStore) *Resolver {
	return &Resolver{store: store}
}

// Label resolves a 3-level classification into its canonical coded label.
// Lookup order: exact triple match, then two-level prefix match, then manual
// reconstruction from the most specific per-level codes. Returns "" only
// when all three inputs are empty. Resolution is idempotent: identical
// inputs always produce an identical label.
func (r *Resolver) Label(ctx context.Context, large, medium, small string) (string, error) {
	if large == "" && medium == "" && small == "" {
		return "", nil
	}

	if large != "" && medium != "" && small != "" {
		label, err := r.store.FormattedForTriple(ctx, large, medium, small)
		if err != nil {
			return "", fmt.Errorf("classification lookup: %w", err)
		}
		if label != "" {
			return label, nil
		}
	}

	if large != "" && medium != "" {
		label, err := r.store.FormattedForPrefix(ctx, large, medium)
		if err != nil {
			return "", fmt.Errorf("classification lookup: %w", err)
		}
		if label != "" {
			return label, nil
		}
	}

	return r.reconstruct(ctx, large, medium, small)
}

// reconstruct independently resolves the most specific code for each
// provided level, then concatenates "<code> <name>" segments, omitting
// absent levels. Later levels are constrained by codes already matched so
// the assembled label stays internally consistent.
func (r *Resolver) reconstruct(ctx context.Context, large, medium, small string) (string, error) {
	var largeCode, mediumCode, smallCode string

	if large != "" {
		code, err := r.store.LargeCodeForName(ctx, large)
		if err != nil {
			return "", fmt.Errorf("classification lookup: %w", err)
		}
		largeCode = code
	}

	if medium != "" {
		code, matchedLarge, err := r.store.MediumCodeForName(ctx, large, largeCode, medium)
		if err != nil {
			return "", fmt.Errorf("classification lookup: %w", err)
		}
		mediumCode = code
		if largeCode == "" {
			largeCode = matchedLarge
		}
	}

	if small != "" {
		code, matchedLarge, matchedMedium, err := r.store.SmallCodeForName(ctx, large, largeCode, medium, mediumCode, small)
		if err != nil {
			return "", fmt.Errorf("classification lookup: %w", err)
		}
		smallCode = code
		if matchedLarge != "" {
			largeCode = matchedLarge
		}
		if matchedMedium != "" {
			mediumCode = matchedMedium
		}
	}

	var parts []string
	parts = appendSegment(parts, largeCode, large)
	parts = appendSegment(parts, mediumCode, medium)
	parts = appendSegment(parts, smallCode, small)
	return strings.Join(parts, segmentSeparator), nil
}

func appendSegment(parts []string, code, name string) []string {
	switch {
	case name == "":
		return parts
	case code == "":
		return append(parts, name)
	default:
		return append(parts, code+" "+name)
	}
}
