package executor

import (
	"fmt"
	"time"

	"github.com/entrhq/patchgate/pkg/patch"
	"github.com/entrhq/patchgate/pkg/preflight"
	"github.com/entrhq/patchgate/pkg/security/allowlist"
	"github.com/entrhq/patchgate/pkg/workspace"
)

// Operation is dry-run or apply.
type Operation string

const (
	OperationDryRun Operation = "dry-run"
	OperationApply  Operation = "apply"
)

// State is a step of the execution state machine.
type State string

const (
	StateIdle         State = "idle"
	StateProvisioned  State = "provisioned"
	StatePatchApplied State = "patch_applied"
	StateGated        State = "gated"
	StateCommitted    State = "committed"
	StateDiscarded    State = "discarded"
)

// Request is one pipeline invocation.
type Request struct {
	ProposalID string
	Patch      patch.Patch
	// Allowlist overrides the configured guard when set.
	Allowlist *allowlist.Guard
	// Branch is the target branch for apply. Ignored by dry-run.
	Branch string
}

// Result is the terminal artifact of one run.
type Result struct {
	OK          bool                  `json:"ok"`
	Reason      string                `json:"reason,omitempty"`
	ExecutionID string                `json:"executionId"`
	ProposalID  string                `json:"proposalId,omitempty"`
	Operation   Operation             `json:"operation"`
	State       State                 `json:"state"`
	Transitions []State               `json:"transitions"`
	Strategy    workspace.Strategy    `json:"strategy,omitempty"`
	BranchName  string                `json:"branchName,omitempty"`
	CommitSHA   string                `json:"commitSha,omitempty"`
	Checklist   *preflight.Checklist  `json:"checklist,omitempty"`
	Changes     *patch.Report         `json:"changes,omitempty"`
	Logs        map[string]string     `json:"logs,omitempty"`
	Rollback    *RollbackInstructions `json:"rollback,omitempty"`
	StartTime   time.Time             `json:"startTime"`
	EndTime     time.Time             `json:"endTime"`
	Duration    time.Duration         `json:"duration"`
}

func (r *Result) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *Result) fail(format string, args ...interface{}) *Result {
	r.OK = false
	r.Reason = fmt.Sprintf(format, args...)
	return r
}

func (r *Result) addLog(key, value string) {
	if value == "" {
		return
	}
	if r.Logs == nil {
		r.Logs = make(map[string]string)
	}
	r.Logs[key] = value
}

// Status renders the outcome for audit and artifacts.
func (r *Result) Status() string {
	if r.OK {
		return "succeeded"
	}
	return "failed"
}
