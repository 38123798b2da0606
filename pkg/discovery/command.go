package discovery

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// path:line(:col)?: message( [rule])?
	unixLine = regexp.MustCompile(`^(.+?):(\d+)(?::\d+)?:\s*(.*?)(?:\s+\[([^\]]+)\])?$`)
	// path(line,col): error TS1234: message
	tscLine = regexp.MustCompile(`^(.+?)\((\d+),\d+\):\s*(?:error|warning)\s+(TS\d+):\s*(.*)$`)
)

// CommandScanner runs an external analyzer and parses its line output.
// A non-zero exit with parsable output is treated as findings, not failure.
type CommandScanner struct {
	name    string
	command []string
	rule    string
	timeout time.Duration
}

// NewCommandScanner creates a scanner. rule is used for lines that carry
// no rule of their own.
func NewCommandScanner(name string, command []string, rule string, timeout time.Duration) *CommandScanner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandScanner{name: name, command: command, rule: rule, timeout: timeout}
}

func (s *CommandScanner) Name() string { return s.name }

func (s *CommandScanner) Scan(ctx context.Context, root string) ([]Evidence, error) {
	if len(s.command) == 0 {
		return nil, errors.New("empty command")
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(execCtx, s.command[0], s.command[1:]...)
	cmd.Dir = root
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()
	found := ParseOutput(out.String(), s.rule)

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return found, nil
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return found, fmt.Errorf("scanner timed out after %s", s.timeout)
	case errors.As(runErr, &exitErr) && len(found) > 0:
		return found, nil
	default:
		return found, fmt.Errorf("%s: %w", strings.Join(s.command, " "), runErr)
	}
}

// ParseOutput extracts evidence from analyzer output in unix or tsc format.
// Unrecognized lines are ignored.
func ParseOutput(output, defaultRule string) []Evidence {
	var found []Evidence
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if m := tscLine.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			found = append(found, Evidence{File: m[1], Line: n, Rule: m[3], Note: m[4]})
			continue
		}
		if m := unixLine.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[2])
			rule := m[4]
			if rule == "" {
				rule = defaultRule
			}
			found = append(found, Evidence{File: m[1], Line: n, Rule: rule, Note: m[3]})
		}
	}
	return found
}
