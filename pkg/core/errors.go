package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotImplemented is returned by validation hooks a rule has not written yet.
// The engine reports it as ValidationNotImplemented, never as a failure.
var ErrNotImplemented = errors.New("not implemented")

// ErrUnsupported is returned by wrapping clients when the underlying store
// client lacks an optional capability.
var ErrUnsupported = errors.New("not supported by store client")

// ConfigError is a fatal configuration problem detected before execution.
type ConfigError struct {
	Rule   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Rule != "" {
		fmt.Fprintf(&b, " in rule %s", e.Rule)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UnknownRuleError is returned when a tag is not registered.
type UnknownRuleError struct {
	Tag        string
	RequiredBy string
	Available  []string
}

func (e *UnknownRuleError) Error() string {
	msg := fmt.Sprintf("unknown rule %q", e.Tag)
	if e.RequiredBy != "" {
		msg += fmt.Sprintf(" (declared as dependency of %s)", e.RequiredBy)
	}
	if len(e.Available) > 0 {
		msg += fmt.Sprintf("\nAvailable rules: %v", e.Available)
	}
	return msg
}

// CyclicDependencyError is returned when rule dependencies form a cycle.
// Cycle lists the members in traversal order, starting and ending with the same tag.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic rule dependency: %s", strings.Join(e.Cycle, " -> "))
}

// Members returns the distinct rules on the cycle.
func (e *CyclicDependencyError) Members() []string {
	if len(e.Cycle) > 1 && e.Cycle[0] == e.Cycle[len(e.Cycle)-1] {
		return e.Cycle[:len(e.Cycle)-1]
	}
	return e.Cycle
}

// SandboxCollisionError is returned when two rules would write the same sandbox table.
type SandboxCollisionError struct {
	Table    string
	Owner    string
	Source   string
	Claimant string
	Other    string
}

func (e *SandboxCollisionError) Error() string {
	return fmt.Sprintf("sandbox table %q claimed by rule %s (source %q) is also claimed by rule %s (source %q)",
		e.Table, e.Owner, e.Source, e.Claimant, e.Other)
}

// SetupError is returned when a rule's one-time preparation fails.
type SetupError struct {
	Rule string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup of rule %s failed: %v", e.Rule, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ExecutionError is returned when the store rejects or fails a statement.
type ExecutionError struct {
	Rule      string
	Index     int
	JobID     string
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	job := ""
	if e.JobID != "" {
		job = fmt.Sprintf(" (job %s)", e.JobID)
	}
	return fmt.Sprintf("rule %s: statement %d failed%s: %v\nstatement:\n%s", e.Rule, e.Index+1, job, e.Err, e.Statement)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ValidationError is returned when a rule's post-condition does not hold.
// The rule's statements succeeded; the data is not assumed corrupt.
type ValidationError struct {
	Rule  string
	Phase string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation of rule %s failed during %s: %v", e.Rule, e.Phase, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
