package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// lineOp is one collected `+` or `-` line.
type lineOp struct {
	add  bool
	text string
}

// FileDiff is the line-level change set for one file in a unified diff.
type FileDiff struct {
	Path   string
	Delete bool
	ops    []lineOp
}

// Added returns the number of `+` lines.
func (f *FileDiff) Added() int {
	n := 0
	for _, op := range f.ops {
		if op.add {
			n++
		}
	}
	return n
}

// Removed returns the number of `-` lines.
func (f *FileDiff) Removed() int {
	return len(f.ops) - f.Added()
}

// diffState is the accumulator threaded through the line fold. It lives
// only for one ParseUnified call.
type diffState struct {
	files   []*FileDiff
	byPath  map[string]*FileDiff
	current *FileDiff
	oldPath string
	pending []lineOp
	inHunk  bool
	// counted is set when the hunk header carried parseable line counts.
	counted bool
	oldLeft int
	newLeft int
}

// inBody reports whether the current hunk still expects lines. Such lines
// are content even when they look like file headers.
func (s *diffState) inBody() bool {
	return s.inHunk && s.counted && (s.oldLeft > 0 || s.newLeft > 0)
}

// bodyLine consumes one line of a counted hunk.
func (s *diffState) bodyLine(line string) {
	switch {
	case strings.HasPrefix(line, "+"):
		s.pending = append(s.pending, lineOp{add: true, text: line[1:]})
		s.newLeft--
	case strings.HasPrefix(line, "-"):
		s.pending = append(s.pending, lineOp{text: line[1:]})
		s.oldLeft--
	case strings.HasPrefix(line, `\`):
		return
	default:
		s.oldLeft--
		s.newLeft--
	}
	if s.oldLeft <= 0 && s.newLeft <= 0 {
		s.inHunk = false
	}
}

// flush moves pending line operations onto the current file.
func (s *diffState) flush() {
	if s.current != nil && len(s.pending) > 0 {
		s.current.ops = append(s.current.ops, s.pending...)
	}
	s.pending = nil
}

func (s *diffState) selectFile(path string, del bool) {
	s.flush()
	if f, ok := s.byPath[path]; ok {
		f.Delete = f.Delete || del
		s.current = f
		return
	}
	f := &FileDiff{Path: path, Delete: del}
	s.byPath[path] = f
	s.files = append(s.files, f)
	s.current = f
}

// ParseUnified folds a unified diff into per-file line operations.
//
// The model is deliberately simple: `+++` headers select the target file,
// `+`/`-` lines are collected in order and attached to the file when the
// next `@@` header or the end of the diff is reached. Context lines are
// ignored. `+++ /dev/null` marks the `---` file for deletion. While a hunk
// still owes lines according to its `@@ -a,b +c,d @@` counts, every line
// belongs to that hunk.
func ParseUnified(diff string) ([]*FileDiff, error) {
	lines := strings.Split(strings.ReplaceAll(diff, "\r\n", "\n"), "\n")
	s := &diffState{byPath: make(map[string]*FileDiff)}

	for i, line := range lines {
		if s.inBody() && !strings.HasPrefix(line, "diff --git ") && !strings.HasPrefix(line, "@@") {
			s.bodyLine(line)
			continue
		}

		switch {
		case strings.HasPrefix(line, "diff --git "):
			s.flush()
			s.inHunk = false
			s.current = nil
		case strings.HasPrefix(line, "--- ") && isHeaderPair(lines, i):
			s.flush()
			s.inHunk = false
			s.oldPath = headerPath(line[4:])
		case strings.HasPrefix(line, "+++ ") && !s.inHunk:
			target := headerPath(line[4:])
			if target == "/dev/null" {
				if s.oldPath == "" || s.oldPath == "/dev/null" {
					return nil, fmt.Errorf("%w: deletion without source path at line %d", ErrInvalidFormat, i+1)
				}
				s.selectFile(s.oldPath, true)
			} else {
				s.selectFile(target, false)
			}
		case strings.HasPrefix(line, "@@"):
			if s.current == nil {
				return nil, fmt.Errorf("%w: hunk before file header at line %d", ErrInvalidFormat, i+1)
			}
			s.flush()
			s.inHunk = true
			s.oldLeft, s.newLeft, s.counted = hunkCounts(line)
		case strings.HasPrefix(line, "+"):
			if s.current == nil {
				return nil, fmt.Errorf("%w: added line before file header at line %d", ErrInvalidFormat, i+1)
			}
			s.pending = append(s.pending, lineOp{add: true, text: line[1:]})
		case strings.HasPrefix(line, "-"):
			if s.current == nil {
				return nil, fmt.Errorf("%w: removed line before file header at line %d", ErrInvalidFormat, i+1)
			}
			s.pending = append(s.pending, lineOp{text: line[1:]})
		default:
			// context lines, "\ No newline at end of file", index/mode headers
		}
	}
	s.flush()

	if len(s.files) == 0 {
		return nil, fmt.Errorf("%w: no file headers found", ErrInvalidFormat)
	}
	return s.files, nil
}

var hunkHeader = regexp.MustCompile(`^@@ -\d+(?:,(\d+))? \+\d+(?:,(\d+))? @@`)

// hunkCounts returns the old and new line counts of a hunk header. An
// omitted count means one line. ok is false for malformed headers.
func hunkCounts(line string) (oldN, newN int, ok bool) {
	m := hunkHeader.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	oldN, newN = 1, 1
	if m[1] != "" {
		oldN, _ = strconv.Atoi(m[1])
	}
	if m[2] != "" {
		newN, _ = strconv.Atoi(m[2])
	}
	return oldN, newN, true
}

// isHeaderPair reports whether the `---` line at i is a file header, that is
// immediately followed by a `+++` line.
func isHeaderPair(lines []string, i int) bool {
	return i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ")
}

// headerPath strips timestamps and the conventional a/ b/ prefixes.
func headerPath(raw string) string {
	p := raw
	if tab := strings.IndexByte(p, '\t'); tab >= 0 {
		p = p[:tab]
	}
	p = strings.TrimSpace(p)
	p = strings.Trim(p, `"`)
	if p == "/dev/null" {
		return p
	}
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		p = p[2:]
	}
	return p
}

// applyLines applies the line operations to existing content: removed lines
// are dropped by first value match, added lines are appended at the end.
func applyLines(content string, ops []lineOp) string {
	var lines []string
	if content != "" {
		lines = strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	}

	for _, op := range ops {
		if op.add {
			lines = append(lines, op.text)
			continue
		}
		for i, l := range lines {
			if l == op.text {
				lines = append(lines[:i], lines[i+1:]...)
				break
			}
		}
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
