package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// maxLogBytes bounds the captured output kept per check.
const maxLogBytes = 256 * 1024

// Gate describes how one check runs.
type Gate struct {
	Check   Check
	Command []string

	// Requires lists files or glob patterns relative to the workspace. At
	// least one must exist for the gate to run. Empty means always run.
	Requires []string

	// Detect replaces Requires when set. It returns false with a log line
	// when the prerequisite is absent.
	Detect func(dir string) (bool, string)

	// Missing is the status recorded when the prerequisite is absent.
	Missing Status

	Disabled bool
}

// ready reports whether the gate's prerequisites exist in dir.
func (g Gate) ready(dir string) (bool, string) {
	if g.Detect != nil {
		return g.Detect(dir)
	}
	if len(g.Requires) == 0 {
		return true, ""
	}
	for _, pattern := range g.Requires {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err == nil && len(matches) > 0 {
			return true, ""
		}
	}
	return false, fmt.Sprintf("no %s found", strings.Join(g.Requires, " or "))
}

// GateError reports a failed check command.
type GateError struct {
	Check   Check
	Command string
	Output  string
	Err     error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("preflight check '%s' failed: %v", e.Check, e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// execute runs the gate command in dir and returns its combined output.
func (g Gate) execute(ctx context.Context, dir string, timeout time.Duration) (string, error) {
	if len(g.Command) == 0 {
		return "", &GateError{Check: g.Check, Err: errors.New("empty command")}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(execCtx, g.Command[0], g.Command[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Env = append(os.Environ(), "CI=true")
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	output := truncate(out.String())
	if err == nil {
		return output, nil
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("check timed out after %s", timeout)
		output = strings.TrimRight(output+"\n"+err.Error(), "\n")
	} else if output == "" {
		output = err.Error()
	}

	return output, &GateError{
		Check:   g.Check,
		Command: strings.Join(g.Command, " "),
		Output:  output,
		Err:     err,
	}
}

// truncate keeps the tail of s, starting on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxLogBytes {
		return s
	}
	start := len(s) - maxLogBytes
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "[output truncated]\n" + s[start:]
}

// packageScripts reads the scripts table of package.json in dir.
func packageScripts(dir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, err
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("invalid package.json: %w", err)
	}
	return pkg.Scripts, nil
}

// npmPlaceholderTest is the script npm init writes.
const npmPlaceholderTest = `echo "Error: no test specified" && exit 1`

func detectBuildScript(dir string) (bool, string) {
	scripts, err := packageScripts(dir)
	if err != nil {
		return false, "no package.json build script"
	}
	if strings.TrimSpace(scripts["build"]) == "" {
		return false, "no build script configured"
	}
	return true, ""
}

func detectTestScript(dir string) (bool, string) {
	scripts, err := packageScripts(dir)
	if err != nil {
		return false, "no test script configured"
	}
	test := strings.TrimSpace(scripts["test"])
	if test == "" || test == npmPlaceholderTest {
		return false, "no test script configured"
	}
	return true, ""
}

// errFound stops the walk early.
var errFound = errors.New("found")

func detectGoTests(dir string) (bool, string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), "_test.go") {
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return true, ""
	}
	return false, "no test files found"
}
