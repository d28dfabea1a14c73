// Package classifier implements the command classifier (C4): the decision
// of whether a shell command submitted by the agent runs unconditionally,
// runs only after user approval, or never runs at all.
package classifier

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/openpact/sandboxbot/internal/access"
	"github.com/openpact/sandboxbot/internal/patterns"
)

// Decision is the classifier's verdict on a command.
type Decision int

const (
	Allowed Decision = iota
	Dangerous
	Blocked
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Dangerous:
		return "dangerous"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Result carries the decision plus the reason that produced it.
type Result struct {
	Decision Decision
	Reason   string
}

var listingCommandNames = []string{"find", "ls", "cat", "head", "tail", "grep", "less", "more", "tree", "du", "wc"}

// Classify decides a command for userId's workspace within root, given the
// chat kind the command originated in.
func Classify(cmd string, root string, userID int64, kind access.ChatKind, store *patterns.Store) Result {
	if reason, matched := checkWorkspaceIsolation(cmd, root, userID); matched {
		return Result{Decision: Blocked, Reason: reason}
	}

	if p, ok := patterns.MatchFirst(store.Blocked, cmd); ok {
		return Result{Decision: Blocked, Reason: p.Reason}
	}

	if p, ok := patterns.MatchFirst(store.Dangerous, cmd); ok {
		if kind == access.Group {
			// dangerous collapses to blocked: there is no user in a shared
			// context who can approve it.
			return Result{Decision: Blocked, Reason: p.Reason + " (dangerous collapses to blocked in group chats)"}
		}
		return Result{Decision: Dangerous, Reason: p.Reason}
	}

	return Result{Decision: Allowed}
}

// isolationMatchers holds the compiled, root-specific shapes checked by
// checkWorkspaceIsolation.
type isolationMatchers struct {
	otherUserRef  *regexp.Regexp
	rootWildcard  *regexp.Regexp
	bracketGlob   *regexp.Regexp
	listingOnRoot *regexp.Regexp
}

var (
	isolationCacheMu sync.RWMutex
	isolationCache   = map[string]*isolationMatchers{}
)

// matchersForRoot returns the compiled matchers for root, compiling and
// caching them on first use. root is fixed for the life of the process (it
// comes from the workspace config), so this amounts to a one-time compile
// rather than a per-command one on the classification hot path.
func matchersForRoot(root string) *isolationMatchers {
	isolationCacheMu.RLock()
	m, ok := isolationCache[root]
	isolationCacheMu.RUnlock()
	if ok {
		return m
	}

	escapedRoot := regexp.QuoteMeta(root)
	namesAlt := strings.Join(listingCommandNames, "|")
	m = &isolationMatchers{
		otherUserRef:  regexp.MustCompile(escapedRoot + `/(\d+)\b`),
		rootWildcard:  regexp.MustCompile(escapedRoot + `/?\*`),
		bracketGlob:   regexp.MustCompile(escapedRoot + `[^\s]*[\{\[]`),
		listingOnRoot: regexp.MustCompile(`(^|[;&|]\s*)(` + namesAlt + `)\s+` + escapedRoot + `(\s|$)`),
	}

	isolationCacheMu.Lock()
	isolationCache[root] = m
	isolationCacheMu.Unlock()
	return m
}

// checkWorkspaceIsolation is the additional gate from spec §4.3: regardless
// of the blocked/dangerous lists, these shapes always block.
func checkWorkspaceIsolation(cmd, root string, userID int64) (string, bool) {
	m := matchersForRoot(root)

	if m.otherUserRef.MatchString(cmd) {
		for _, match := range m.otherUserRef.FindAllStringSubmatch(cmd, -1) {
			otherID, err := strconv.ParseInt(match[1], 10, 64)
			if err == nil && otherID != userID {
				return "references another user's workspace", true
			}
		}
	}

	if m.rootWildcard.MatchString(cmd) {
		return "wildcard across the workspace root", true
	}

	if strings.Contains(cmd, root+"/_shared") {
		return "references the shared workspace directory", true
	}

	if strings.Count(cmd, "../..") > 0 || strings.Count(cmd, "..") >= 3 {
		return "multi-level parent directory traversal", true
	}

	if m.bracketGlob.MatchString(cmd) {
		return "brace/bracket glob under the workspace root", true
	}

	if m.listingOnRoot.MatchString(cmd) {
		return "listing command targets the workspace root itself", true
	}

	return "", false
}
