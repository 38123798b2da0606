// Package patch describes change sets and applies them inside a workspace.
//
// A Patch is either a unified diff or an ordered operation list. Both variants
// go through the same Applier contract so the orchestrator never depends on
// how a patch is interpreted.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind tags the Patch variant.
type Kind string

const (
	// KindUnified is a textual unified diff
	KindUnified Kind = "unified"
	// KindOperations is an ordered list of file operations
	KindOperations Kind = "operations"
)

// OpKind is a single file operation.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpReplace OpKind = "replace"
	OpRemove  OpKind = "remove"
)

// ErrInvalidFormat is returned for patches whose shape is not recognized.
var ErrInvalidFormat = errors.New("invalid patch format")

// Operation mutates one file.
type Operation struct {
	Path    string `yaml:"path" json:"path"`
	Op      OpKind `yaml:"operation" json:"operation"`
	Content string `yaml:"content,omitempty" json:"content,omitempty"`
}

// Patch is the tagged union of the two change-set shapes.
// It is treated as read-only once constructed.
type Patch struct {
	Kind       Kind        `yaml:"kind" json:"kind"`
	Diff       string      `yaml:"diff,omitempty" json:"diff,omitempty"`
	Operations []Operation `yaml:"operations,omitempty" json:"operations,omitempty"`
}

// Unified builds a unified-diff patch.
func Unified(diff string) Patch {
	return Patch{Kind: KindUnified, Diff: diff}
}

// Operations builds an operation-list patch.
func Operations(ops ...Operation) Patch {
	return Patch{Kind: KindOperations, Operations: ops}
}

// Validate checks that the patch is well formed. It does not consult any
// allowlist and does not touch the filesystem.
func (p Patch) Validate() error {
	switch p.Kind {
	case KindUnified:
		if strings.TrimSpace(p.Diff) == "" {
			return fmt.Errorf("%w: empty diff", ErrInvalidFormat)
		}
	case KindOperations:
		if len(p.Operations) == 0 {
			return fmt.Errorf("%w: no operations", ErrInvalidFormat)
		}
		for i, op := range p.Operations {
			if strings.TrimSpace(op.Path) == "" {
				return fmt.Errorf("%w: operation %d has no path", ErrInvalidFormat, i+1)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFormat, p.Kind)
	}
	return nil
}

// Decode reads a patch from YAML or JSON, or from raw unified diff text.
//
// Structured documents use the keys `diff` or `operations`; `kind` is
// optional and inferred when absent.
func Decode(data []byte) (Patch, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Patch{}, fmt.Errorf("%w: empty input", ErrInvalidFormat)
	}

	if looksLikeDiff(trimmed) {
		p := Unified(string(data))
		return p, p.Validate()
	}

	var p Patch
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if p.Kind == "" {
		switch {
		case p.Diff != "" && len(p.Operations) == 0:
			p.Kind = KindUnified
		case len(p.Operations) > 0 && p.Diff == "":
			p.Kind = KindOperations
		default:
			return Patch{}, fmt.Errorf("%w: expected exactly one of 'diff' or 'operations'", ErrInvalidFormat)
		}
	}

	return p, p.Validate()
}

func looksLikeDiff(data []byte) bool {
	for _, prefix := range []string{"diff --git ", "--- ", "+++ ", "@@ ", "Index: "} {
		if bytes.HasPrefix(data, []byte(prefix)) {
			return true
		}
	}
	return false
}
