// Package pathguard implements the file-path guard (C5): the checks applied
// to every file operation (read, write, edit, delete, list, search) before
// it is allowed to touch the filesystem.
package pathguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openpact/sandboxbot/internal/config"
	"github.com/openpact/sandboxbot/internal/patterns"
)

// Operation identifies the kind of file access being guarded.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpEdit   Operation = "edit"
	OpDelete Operation = "delete"
	OpList   Operation = "list"
	OpSearch Operation = "search"
)

// Denial is returned when a guarded operation is rejected; Reason is safe to
// surface back to the agent as a tool error.
type Denial struct {
	Reason string
}

func (d *Denial) Error() string { return d.Reason }

func deny(format string, args ...interface{}) error {
	return &Denial{Reason: fmt.Sprintf(format, args...)}
}

var protectedSymlinkTargets = []string{"/etc", "/root", "/home", "/proc", "/sys", "/dev", "/var"}

// Guard confines file operations to a single user's workspace directory.
type Guard struct {
	workspace config.WorkspaceConfig
	store     *patterns.Store
}

// New builds a Guard over the given workspace layout and pattern store.
func New(workspace config.WorkspaceConfig, store *patterns.Store) *Guard {
	return &Guard{workspace: workspace, store: store}
}

// ResolvePath validates rawPath for userId and op, returning the confined
// absolute path to operate on, or a *Denial describing why it was rejected.
func (g *Guard) ResolvePath(userID int64, op Operation, rawPath string) (string, error) {
	base := filepath.Clean(g.workspace.UserDir(userID))

	joined := rawPath
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(base, joined)
	}
	cleaned := filepath.Clean(joined)

	if err := g.checkConfinement(cleaned, base); err != nil {
		return "", err
	}

	if real, err := filepath.EvalSymlinks(cleaned); err == nil {
		if err := g.checkConfinement(filepath.Clean(real), base); err != nil {
			return "", err
		}
	}

	if target, err := os.Readlink(cleaned); err == nil {
		for _, protected := range protectedSymlinkTargets {
			if strings.HasPrefix(target, protected) {
				return "", deny("symlink targets protected path %s", protected)
			}
		}
	}

	basename := filepath.Base(cleaned)
	if p, ok := patterns.MatchFirst(g.store.SensitiveFiles, basename); ok {
		return "", deny("sensitive file name (%s)", p.Reason)
	}

	return cleaned, nil
}

// checkConfinement applies the workspace-isolation rules from the classifier's
// workspace-isolation gate: the resolved path must stay within base, and
// must never be the global workspace root, the shared directory, or another
// user's workspace directory.
func (g *Guard) checkConfinement(cleaned, base string) error {
	if cleaned != base && !strings.HasPrefix(cleaned, base+string(os.PathSeparator)) {
		return deny("path escapes the user workspace")
	}

	root := filepath.Clean(g.workspace.Root)
	if cleaned == root {
		return deny("path is the shared workspace root")
	}

	shared := filepath.Clean(g.workspace.SharedDir())
	if cleaned == shared || strings.HasPrefix(cleaned, shared+string(os.PathSeparator)) {
		return deny("path is the operator-only shared directory")
	}

	if strings.HasPrefix(cleaned, root+string(os.PathSeparator)) {
		rest := strings.TrimPrefix(cleaned, root+string(os.PathSeparator))
		firstComponent := rest
		if idx := strings.IndexRune(rest, os.PathSeparator); idx >= 0 {
			firstComponent = rest[:idx]
		}
		if otherID, err := strconv.ParseInt(firstComponent, 10, 64); err == nil {
			userBase := filepath.Base(base)
			if strconv.FormatInt(otherID, 10) != userBase {
				return deny("path reaches another user's workspace")
			}
		}
	}

	return nil
}

// CheckContent scans write/edit content for dangerous-code patterns: direct
// reads of secrets are useless to block if the agent can write a script
// that does the same thing.
func (g *Guard) CheckContent(op Operation, content string) error {
	if op != OpWrite && op != OpEdit {
		return nil
	}
	if p, ok := patterns.MatchFirst(g.store.DangerousCode, content); ok {
		return deny("content matches dangerous-code pattern (%s)", p.Reason)
	}
	return nil
}

// CheckListDir rejects directory listings against the fixed host-path
// blocklist, independent of workspace confinement (these are absolute host
// paths the agent should never be able to name at all).
func (g *Guard) CheckListDir(rawPath string) error {
	cleaned := filepath.Clean(rawPath)
	if strings.Contains(cleaned, "/.ssh") {
		return deny("path references an SSH directory")
	}
	for _, blocked := range g.store.BlockedDirs {
		if cleaned == blocked || strings.HasPrefix(cleaned, blocked+"/") {
			return deny("directory %s is blocked from listing", blocked)
		}
	}
	return nil
}

// CheckGrepPattern rejects grep/search patterns that themselves name
// secret-like terms, so grep cannot be used as a read primitive against
// files the guard would otherwise refuse to open directly.
func (g *Guard) CheckGrepPattern(pattern string) error {
	if p, ok := patterns.MatchFirst(g.store.GrepSecretTerms, pattern); ok {
		return deny("search pattern names a secret-like term (%s)", p.Reason)
	}
	return nil
}
