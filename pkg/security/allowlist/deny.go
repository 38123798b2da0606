package allowlist

import (
	"path"
	"strings"
)

// DeniedDirs are directory names that may never appear in a mutated path.
var DeniedDirs = []string{
	// version control internals
	".git", ".hg", ".svn",
	// dependency directories
	"node_modules", "vendor", "bower_components",
	// build output
	"dist", "build", ".next", "out", "coverage", ".turbo", ".cache",
}

// DeniedNames are file basenames that hold credentials or environment.
var DeniedNames = []string{
	".env", ".npmrc", ".netrc", ".pgpass", "id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
}

// DeniedExtensions are key and certificate material.
var DeniedExtensions = []string{
	".pem", ".key", ".p12", ".pfx", ".jks", ".keystore", ".crt",
}

// denied applies the static deny rules to a normalized relative path.
func denied(rel string) (string, bool) {
	segments := strings.Split(rel, "/")
	for _, seg := range segments[:len(segments)-1] {
		for _, d := range DeniedDirs {
			if seg == d {
				return "directory '" + d + "' is protected", true
			}
		}
	}

	base := segments[len(segments)-1]
	for _, d := range DeniedDirs {
		// .git can also be a file in worktrees and submodules
		if base == d && strings.HasPrefix(d, ".") {
			return "'" + d + "' is protected", true
		}
	}
	for _, n := range DeniedNames {
		if base == n {
			return "'" + n + "' files are protected", true
		}
	}
	if strings.HasPrefix(base, ".env.") {
		return "environment files are protected", true
	}

	ext := strings.ToLower(path.Ext(base))
	for _, e := range DeniedExtensions {
		if ext == e {
			return "'" + e + "' files are protected", true
		}
	}
	return "", false
}
