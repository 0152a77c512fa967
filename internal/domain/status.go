package domain

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what a failed splitter invocation does to the run.
type FailurePolicy int

const (
	// ContinueOnFailure logs the failed config and keeps going; the run still
	// publishes once every config has been attempted.
	ContinueOnFailure FailurePolicy = iota
	// AbortOnFailure stops at the first failed config and never publishes.
	AbortOnFailure
)

var failurePolicyLabels = map[FailurePolicy]string{
	ContinueOnFailure: "continue",
	AbortOnFailure:    "abort",
}

var failurePolicyCodes = map[string]FailurePolicy{
	"continue": ContinueOnFailure,
	"abort":    AbortOnFailure,
}

func (p FailurePolicy) String() string {
	if label, ok := failurePolicyLabels[p]; ok {
		return label
	}
	return "unknown"
}

// ParseFailurePolicy returns the policy for a given label (case-insensitive).
func ParseFailurePolicy(label string) (FailurePolicy, error) {
	p, ok := failurePolicyCodes[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return ContinueOnFailure, fmt.Errorf("unknown failure policy %q", label)
	}
	return p, nil
}

// PointerMode selects how the latest pointer is replaced on publish.
type PointerMode int

const (
	// PointerRename links under a temporary name and renames it over the
	// pointer. The pointer is never absent.
	PointerRename PointerMode = iota
	// PointerReplace removes the pointer and links it again. A crash in
	// between leaves no pointer; rerunning the commit repairs it.
	PointerReplace
)

var pointerModeCodes = map[string]PointerMode{
	"rename":  PointerRename,
	"replace": PointerReplace,
}

func (m PointerMode) String() string {
	if m == PointerReplace {
		return "replace"
	}
	return "rename"
}

// ParsePointerMode returns the pointer mode for a given label (case-insensitive).
func ParsePointerMode(label string) (PointerMode, error) {
	m, ok := pointerModeCodes[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return PointerRename, fmt.Errorf("unknown pointer mode %q", label)
	}
	return m, nil
}
