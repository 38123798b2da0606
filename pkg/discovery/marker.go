package discovery

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/entrhq/patchgate/pkg/security/allowlist"
)

// Marker is a named line pattern.
type Marker struct {
	Rule    string
	Pattern *regexp.Regexp
	Note    string
}

// DefaultMarkers flag leftover work notes and likely hard-coded secrets.
var DefaultMarkers = []Marker{
	{Rule: "todo", Pattern: regexp.MustCompile(`\b(TODO|FIXME|XXX)\b`), Note: "unresolved work marker"},
	{Rule: "secret", Pattern: regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*["'][^"']{8,}["']`), Note: "possible hard-coded credential"},
	{Rule: "private-key", Pattern: regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`), Note: "embedded private key"},
}

// maxScanFileSize skips large files, which are rarely hand-written source.
const maxScanFileSize = 1 << 20

// MarkerScanner walks the tree and matches markers line by line.
type MarkerScanner struct {
	markers []Marker
}

// NewMarkerScanner uses DefaultMarkers when none are given.
func NewMarkerScanner(markers ...Marker) *MarkerScanner {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	return &MarkerScanner{markers: markers}
}

func (s *MarkerScanner) Name() string { return "markers" }

func (s *MarkerScanner) Scan(ctx context.Context, root string) ([]Evidence, error) {
	var found []Evidence
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxScanFileSize {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		found = append(found, s.scanFile(path, filepath.ToSlash(rel))...)
		return nil
	})
	return found, err
}

func (s *MarkerScanner) scanFile(path, rel string) []Evidence {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var found []Evidence
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanFileSize)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if n == 1 && strings.ContainsRune(line, 0) {
			return nil
		}
		for _, m := range s.markers {
			if m.Pattern.MatchString(line) {
				found = append(found, Evidence{File: rel, Line: n, Rule: m.Rule, Note: m.Note})
			}
		}
	}
	return found
}

func skipDir(name string) bool {
	for _, d := range allowlist.DeniedDirs {
		if name == d {
			return true
		}
	}
	return strings.HasPrefix(name, ".")
}
