package executor

import (
	"fmt"
	"strings"
)

// RollbackInstructions describe how a human reverts an applied patch. The
// pipeline never runs them.
type RollbackInstructions struct {
	Branch    string     `json:"branch"`
	CommitSHA string     `json:"commitSha"`
	Remote    string     `json:"remote,omitempty"`
	Commands  [][]string `json:"commands"`
	Text      string     `json:"text"`
}

// BuildRollback derives "revert this commit on this branch" instructions.
func BuildRollback(remote, branch, sha string) *RollbackInstructions {
	if remote == "" {
		remote = "origin"
	}
	commands := [][]string{
		{"git", "fetch", remote, branch},
		{"git", "checkout", branch},
		{"git", "revert", "--no-edit", sha},
		{"git", "push", remote, branch},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "To roll back commit %s on branch %s:\n\n", sha, branch)
	for i, cmd := range commands {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, strings.Join(cmd, " "))
	}
	b.WriteString("\nIf the branch was never merged it can instead be deleted from the remote:\n\n")
	fmt.Fprintf(&b, "  git push %s --delete %s\n", remote, branch)

	return &RollbackInstructions{
		Branch:    branch,
		CommitSHA: sha,
		Remote:    remote,
		Commands:  commands,
		Text:      b.String(),
	}
}

// BuildLocalRollback covers a commit that was never pushed: revert it on
// the local branch, or drop the branch.
func BuildLocalRollback(branch, sha string) *RollbackInstructions {
	commands := [][]string{
		{"git", "checkout", branch},
		{"git", "revert", "--no-edit", sha},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "To roll back local commit %s on branch %s:\n\n", sha, branch)
	for i, cmd := range commands {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, strings.Join(cmd, " "))
	}
	b.WriteString("\nThe branch was not pushed; it can instead be deleted:\n\n")
	fmt.Fprintf(&b, "  git branch -D %s\n", branch)

	return &RollbackInstructions{
		Branch:    branch,
		CommitSHA: sha,
		Commands:  commands,
		Text:      b.String(),
	}
}
