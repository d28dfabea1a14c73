package classifier

import (
	"testing"

	"github.com/openpact/sandboxbot/internal/access"
	"github.com/openpact/sandboxbot/internal/patterns"
)

func testStore(t *testing.T) *patterns.Store {
	t.Helper()
	s, err := patterns.Load("")
	if err != nil {
		t.Fatalf("patterns.Load: %v", err)
	}
	return s
}

const root = "/workspace"

func TestAllowedCommand(t *testing.T) {
	res := Classify("ls -la", root, 42, access.Private, testStore(t))
	if res.Decision != Allowed {
		t.Errorf("expected allowed, got %v (%s)", res.Decision, res.Reason)
	}
}

func TestBlockedEnvRead(t *testing.T) {
	res := Classify("cat /workspace/42/.env", root, 42, access.Private, testStore(t))
	if res.Decision != Blocked {
		t.Errorf("expected blocked, got %v", res.Decision)
	}
}

func TestDangerousInPrivateChat(t *testing.T) {
	res := Classify("rm -rf ./build", root, 42, access.Private, testStore(t))
	if res.Decision != Dangerous {
		t.Errorf("expected dangerous, got %v", res.Decision)
	}
}

func TestDangerousCollapsesToBlockedInGroup(t *testing.T) {
	res := Classify("rm -rf ./build", root, 42, access.Group, testStore(t))
	if res.Decision != Blocked {
		t.Errorf("expected dangerous to collapse to blocked in group chat, got %v", res.Decision)
	}
}

func TestBlockedBeatsAllowedWhenBothMatch(t *testing.T) {
	// "cat" alone is allowed, but this also reads a sensitive file.
	res := Classify("cat /workspace/42/credentials.json", root, 42, access.Private, testStore(t))
	if res.Decision != Blocked {
		t.Errorf("expected blocked list to win tie-break, got %v (%s)", res.Decision, res.Reason)
	}
}

func TestWorkspaceIsolationBlocksOtherUser(t *testing.T) {
	res := Classify("cat /workspace/99/notes.txt", root, 42, access.Private, testStore(t))
	if res.Decision != Blocked {
		t.Errorf("expected blocked for other user's workspace, got %v", res.Decision)
	}
}

func TestWorkspaceIsolationBlocksSharedRef(t *testing.T) {
	res := Classify("cat /workspace/_shared/config.yaml", root, 42, access.Private, testStore(t))
	if res.Decision != Blocked {
		t.Errorf("expected blocked for shared dir reference, got %v", res.Decision)
	}
}

func TestWorkspaceIsolationBlocksListingRootItself(t *testing.T) {
	res := Classify("ls /workspace", root, 42, access.Private, testStore(t))
	if res.Decision != Blocked {
		t.Errorf("expected blocked for listing the workspace root itself, got %v", res.Decision)
	}
}

func TestWorkspaceIsolationAllowsOwnSubdir(t *testing.T) {
	res := Classify("ls /workspace/42/project", root, 42, access.Private, testStore(t))
	if res.Decision != Allowed {
		t.Errorf("expected allowed for own subdir, got %v (%s)", res.Decision, res.Reason)
	}
}
