// Package preflight runs the fixed sequence of validation checks
// (type-check, lint, build, tests) inside a workspace.
package preflight

import (
	"fmt"
	"strings"
)

// Check names one preflight gate.
type Check string

const (
	CheckTSC    Check = "tsc"
	CheckESLint Check = "eslint"
	CheckBuild  Check = "build"
	CheckTests  Check = "tests"
)

// Checks is the fixed execution order.
var Checks = []Check{CheckTSC, CheckESLint, CheckBuild, CheckTests}

// DefaultCritical are the gates whose failure blocks an apply.
var DefaultCritical = []Check{CheckTSC, CheckESLint, CheckBuild}

// ParseCheck converts a configuration name into a Check.
func ParseCheck(name string) (Check, error) {
	switch c := Check(strings.ToLower(strings.TrimSpace(name))); c {
	case CheckTSC, CheckESLint, CheckBuild, CheckTests:
		return c, nil
	}
	return "", fmt.Errorf("unknown preflight check: %s", name)
}

// Status is the outcome of one check.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Checklist is the complete result of one preflight run. It is not modified
// after Run returns.
type Checklist struct {
	TSC    Status           `json:"tsc"`
	ESLint Status           `json:"eslint"`
	Build  Status           `json:"build"`
	Tests  Status           `json:"tests"`
	Logs   map[Check]string `json:"logs"`
}

func newChecklist() *Checklist {
	return &Checklist{
		TSC:    StatusSkipped,
		ESLint: StatusSkipped,
		Build:  StatusSkipped,
		Tests:  StatusSkipped,
		Logs:   make(map[Check]string, len(Checks)),
	}
}

// Get returns the status recorded for c.
func (c *Checklist) Get(check Check) Status {
	if c == nil {
		return ""
	}
	switch check {
	case CheckTSC:
		return c.TSC
	case CheckESLint:
		return c.ESLint
	case CheckBuild:
		return c.Build
	case CheckTests:
		return c.Tests
	}
	return ""
}

func (c *Checklist) set(check Check, status Status, log string) {
	switch check {
	case CheckTSC:
		c.TSC = status
	case CheckESLint:
		c.ESLint = status
	case CheckBuild:
		c.Build = status
	case CheckTests:
		c.Tests = status
	}
	c.Logs[check] = log
}

// Failed returns every check with status fail, in execution order.
func (c *Checklist) Failed() []Check {
	var out []Check
	for _, check := range Checks {
		if c.Get(check) == StatusFail {
			out = append(out, check)
		}
	}
	return out
}

// CriticalFailures returns the failed checks that belong to critical.
func (c *Checklist) CriticalFailures(critical []Check) []Check {
	var out []Check
	for _, check := range c.Failed() {
		for _, crit := range critical {
			if check == crit {
				out = append(out, check)
				break
			}
		}
	}
	return out
}

// Passed reports whether no check failed.
func (c *Checklist) Passed() bool {
	return c != nil && len(c.Failed()) == 0
}

// Summary renders "tsc=pass eslint=skipped ..." for log lines.
func (c *Checklist) Summary() string {
	parts := make([]string, 0, len(Checks))
	for _, check := range Checks {
		parts = append(parts, fmt.Sprintf("%s=%s", check, c.Get(check)))
	}
	return strings.Join(parts, " ")
}

// JoinChecks renders checks as a comma separated list.
func JoinChecks(checks []Check) string {
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
