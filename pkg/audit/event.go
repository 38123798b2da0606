// Package audit delivers execution lifecycle notifications to pluggable sinks.
//
// Delivery is fire-and-forget: sink failures are logged and never change
// the outcome of the execution being reported.
package audit

import (
	"time"

	"github.com/entrhq/patchgate/pkg/preflight"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindExecutionStarted   Kind = "execution_started"
	KindPreflightCompleted Kind = "preflight_completed"
	KindApplyCompleted     Kind = "apply_completed"
	KindExecutionEnded     Kind = "execution_ended"
)

// ApplyInfo describes the VCS outcome of an apply.
type ApplyInfo struct {
	Branch    string `json:"branch"`
	CommitSHA string `json:"commitSha,omitempty"`
	ApplyLog  string `json:"applyLog,omitempty"`
	Success   bool   `json:"success"`
}

// Event is one audit record.
type Event struct {
	ID          string               `json:"id"`
	Kind        Kind                 `json:"kind"`
	ProposalID  string               `json:"proposalId,omitempty"`
	ExecutionID string               `json:"executionId"`
	Operation   string               `json:"operation"`
	Status      string               `json:"status,omitempty"`
	Details     string               `json:"details,omitempty"`
	Checklist   *preflight.Checklist `json:"checklist,omitempty"`
	Apply       *ApplyInfo           `json:"apply,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}
