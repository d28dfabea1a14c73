package pathguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openpact/sandboxbot/internal/config"
	"github.com/openpact/sandboxbot/internal/patterns"
)

func testGuard(t *testing.T, root string) *Guard {
	t.Helper()
	store, err := patterns.Load("")
	if err != nil {
		t.Fatalf("patterns.Load: %v", err)
	}
	return New(config.WorkspaceConfig{Root: root}, store)
}

func TestAllowsPathWithinOwnWorkspace(t *testing.T) {
	root := t.TempDir()
	g := testGuard(t, root)

	if err := os.MkdirAll(filepath.Join(root, "42"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	resolved, err := g.ResolvePath(42, OpRead, "notes.txt")
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	if resolved != filepath.Join(root, "42", "notes.txt") {
		t.Errorf("unexpected resolved path: %s", resolved)
	}
}

func TestRejectsOtherUsersWorkspace(t *testing.T) {
	root := t.TempDir()
	g := testGuard(t, root)

	_, err := g.ResolvePath(42, OpRead, "../43/secret.txt")
	if err == nil {
		t.Fatal("expected denial reaching another user's workspace")
	}
}

func TestRejectsSharedDir(t *testing.T) {
	root := t.TempDir()
	g := testGuard(t, root)

	_, err := g.ResolvePath(42, OpRead, "../_shared/config.yaml")
	if err == nil {
		t.Fatal("expected denial for shared directory")
	}
}

func TestRejectsWorkspaceRootItself(t *testing.T) {
	root := t.TempDir()
	g := testGuard(t, root)

	_, err := g.ResolvePath(42, OpList, "..")
	if err == nil {
		t.Fatal("expected denial for workspace root itself")
	}
}

func TestRejectsSensitiveFilename(t *testing.T) {
	root := t.TempDir()
	g := testGuard(t, root)

	_, err := g.ResolvePath(42, OpRead, ".env")
	if err == nil {
		t.Fatal("expected denial for sensitive filename")
	}
}

func TestRejectsEscapeViaSymlink(t *testing.T) {
	root := t.TempDir()
	g := testGuard(t, root)

	userDir := filepath.Join(root, "42")
	if err := os.MkdirAll(userDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(userDir, "escape")
	if err := os.Symlink("/etc", link); err != nil {
		t.Skipf("symlink not supported in this environment: %v", err)
	}

	_, err := g.ResolvePath(42, OpRead, "escape/passwd")
	if err == nil {
		t.Fatal("expected denial for symlink escaping to /etc")
	}
}

func TestCheckContentRejectsDangerousCode(t *testing.T) {
	g := testGuard(t, t.TempDir())
	err := g.CheckContent(OpWrite, `token = os.Getenv("SECRET_TOKEN")`)
	if err == nil {
		t.Fatal("expected denial for environment-variable access in write content")
	}
}

func TestCheckContentAllowsOnReadOps(t *testing.T) {
	g := testGuard(t, t.TempDir())
	if err := g.CheckContent(OpRead, `os.Getenv("X")`); err != nil {
		t.Errorf("expected read ops to skip content scanning, got %v", err)
	}
}

func TestCheckListDirRejectsBlockedDir(t *testing.T) {
	g := testGuard(t, t.TempDir())
	if err := g.CheckListDir("/etc"); err == nil {
		t.Fatal("expected denial for /etc listing")
	}
}

func TestCheckGrepPatternRejectsSecretTerm(t *testing.T) {
	g := testGuard(t, t.TempDir())
	if err := g.CheckGrepPattern("password"); err == nil {
		t.Fatal("expected denial for password search term")
	}
}
