package executor

import (
	"fmt"
	"strings"
)

// Result holds the captured output of one remote command
type Result struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitStatus int    `json:"exit_status"`
}

// FailurePolicy decides from a Result whether a command failed.
// Each remote command declares its policy next to where it is built.
type FailurePolicy string

const (
	// PolicyStderrNonEmpty treats any stderr output as failure.
	// Used for generic commands (setup, transfers, unzip, rename).
	PolicyStderrNonEmpty FailurePolicy = "stderr_non_empty"
	// PolicyStderrContainsError treats stderr containing "Error" as failure.
	// Used for toolkit steps, which print progress to stderr.
	PolicyStderrContainsError FailurePolicy = "stderr_contains_error"
	// PolicyExitStatus only looks at the exit status; stderr is diagnostic.
	PolicyExitStatus FailurePolicy = "exit_status"
)

// ClassifyMode reconciles the stderr heuristics with the exit status
type ClassifyMode string

const (
	// ModeLegacy applies the policy heuristic alone and ignores exit status.
	ModeLegacy ClassifyMode = "legacy"
	// ModeExitStatus applies the exit status alone.
	ModeExitStatus ClassifyMode = "exit_status"
	// ModeCombined fails when either the heuristic or the exit status does.
	ModeCombined ClassifyMode = "combined"
)

// ParseClassifyMode parses a mode name, defaulting to ModeCombined
func ParseClassifyMode(s string) (ClassifyMode, error) {
	switch ClassifyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCombined:
		return ModeCombined, nil
	case ModeLegacy:
		return ModeLegacy, nil
	case ModeExitStatus:
		return ModeExitStatus, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q", s)
	}
}

// CommandError is returned when a command is classified as failed
type CommandError struct {
	Command string
	Policy  FailurePolicy
	Result  Result
}

func (e *CommandError) Error() string {
	detail := strings.TrimSpace(e.Result.Stderr)
	if detail == "" {
		detail = fmt.Sprintf("exit status %d", e.Result.ExitStatus)
	}
	return fmt.Sprintf("command failed: %s", detail)
}

// heuristicFailed applies the stderr half of a policy
func heuristicFailed(r Result, policy FailurePolicy) bool {
	switch policy {
	case PolicyStderrNonEmpty:
		return r.Stderr != ""
	case PolicyStderrContainsError:
		return strings.Contains(r.Stderr, "Error")
	default:
		return false
	}
}

// Failed reports whether r counts as a failure under policy and mode
func Failed(r Result, policy FailurePolicy, mode ClassifyMode) bool {
	exitFailed := r.ExitStatus != 0
	if policy == PolicyExitStatus {
		return exitFailed
	}

	switch mode {
	case ModeLegacy:
		return heuristicFailed(r, policy)
	case ModeExitStatus:
		return exitFailed
	default:
		return exitFailed || heuristicFailed(r, policy)
	}
}

// Classify returns a *CommandError when r is a failure, nil otherwise
func Classify(command string, r Result, policy FailurePolicy, mode ClassifyMode) error {
	if !Failed(r, policy, mode) {
		return nil
	}
	return &CommandError{Command: command, Policy: policy, Result: r}
}
