package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// Profile names a gate set.
type Profile string

const (
	ProfileAuto Profile = "auto"
	ProfileNode Profile = "node"
	ProfileGo   Profile = "go"
)

// NodeGates checks TypeScript/JavaScript projects.
func NodeGates() []Gate {
	return []Gate{
		{
			Check:    CheckTSC,
			Command:  []string{"npx", "--no-install", "tsc", "--noEmit"},
			Requires: []string{"tsconfig.json"},
			Missing:  StatusSkipped,
		},
		{
			Check:    CheckESLint,
			Command:  []string{"npx", "--no-install", "eslint", "."},
			Requires: []string{".eslintrc*", "eslint.config.*"},
			Missing:  StatusSkipped,
		},
		{
			Check:   CheckBuild,
			Command: []string{"npm", "run", "build"},
			Detect:  detectBuildScript,
			Missing: StatusSkipped,
		},
		{
			Check:   CheckTests,
			Command: []string{"npm", "test"},
			Detect:  detectTestScript,
			Missing: StatusPass,
		},
	}
}

// GoGates checks Go modules. The tsc slot runs go vet and the eslint slot
// runs golangci-lint.
func GoGates() []Gate {
	return []Gate{
		{
			Check:    CheckTSC,
			Command:  []string{"go", "vet", "./..."},
			Requires: []string{"go.mod"},
			Missing:  StatusSkipped,
		},
		{
			Check:    CheckESLint,
			Command:  []string{"golangci-lint", "run"},
			Requires: []string{".golangci.*"},
			Missing:  StatusSkipped,
		},
		{
			Check:    CheckBuild,
			Command:  []string{"go", "build", "./..."},
			Requires: []string{"go.mod"},
			Missing:  StatusSkipped,
		},
		{
			Check:   CheckTests,
			Command: []string{"go", "test", "./..."},
			Detect:  detectGoTests,
			Missing: StatusPass,
		},
	}
}

// Resolve picks the concrete profile for dir.
func (p Profile) Resolve(dir string) Profile {
	if p != ProfileAuto && p != "" {
		return p
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return ProfileGo
	}
	return ProfileNode
}

// Gates returns the built-in gates of a concrete profile.
func (p Profile) Gates() ([]Gate, error) {
	switch p {
	case ProfileNode:
		return NodeGates(), nil
	case ProfileGo:
		return GoGates(), nil
	}
	return nil, fmt.Errorf("unknown preflight profile: %s", p)
}
