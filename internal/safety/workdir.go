package safety

import (
	"os"
	"path/filepath"
	"strings"
)

// escapedWorkdirTarget scans a shell command for a directory or path target
// that falls outside root. It understands `cd` targets, absolute paths, and
// `~` expansion. This is a best-effort textual heuristic over the command
// string, not a sandboxing guarantee.
func escapedWorkdirTarget(command, root string) (string, bool) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", false
	}
	rootAbs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", false
	}

	tokens := tokenizeCommand(command)
	for i, token := range tokens {
		if token == "cd" && i+1 < len(tokens) {
			target := expandHome(tokens[i+1])
			if !filepath.IsAbs(target) {
				target = filepath.Join(rootAbs, target)
			}
			if !pathWithinBase(rootAbs, target) {
				return tokens[i+1], true
			}
			continue
		}

		candidate := token
		if strings.HasPrefix(candidate, "~") {
			candidate = expandHome(candidate)
		}
		if !filepath.IsAbs(candidate) {
			continue
		}
		if isHarmlessAbsPath(candidate) {
			continue
		}
		if !pathWithinBase(rootAbs, candidate) {
			return token, true
		}
	}
	return "", false
}

// tokenizeCommand splits on whitespace and drops shell connectors so `cd`
// targets after `&&` or `;` still line up with their verb.
func tokenizeCommand(command string) []string {
	fields := strings.Fields(command)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.Trim(field, ";|&()")
		if trimmed == "" {
			continue
		}
		tokens = append(tokens, trimmed)
	}
	return tokens
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// isHarmlessAbsPath filters absolute paths that commands name routinely
// without touching anything outside the workspace.
func isHarmlessAbsPath(path string) bool {
	switch path {
	case "/dev/null", "/dev/stdin", "/dev/stdout", "/dev/stderr":
		return true
	}
	for _, prefix := range []string{"/usr/bin/", "/usr/local/bin/", "/bin/", "/sbin/", "/opt/homebrew/bin/"} {
		if strings.HasPrefix(path, prefix) && !strings.Contains(strings.TrimPrefix(path, prefix), "/") {
			return true
		}
	}
	return false
}

func pathWithinBase(base, target string) bool {
	baseClean, err := filepath.Abs(filepath.Clean(base))
	if err != nil {
		return false
	}
	targetClean, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(baseClean, targetClean)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}
