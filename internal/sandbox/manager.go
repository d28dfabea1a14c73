// Package sandbox implements the sandbox manager (C6): one Docker container
// per user, holding the only writable contact between an agent-originated
// shell command and the host filesystem to that user's workspace directory.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/openpact/sandboxbot/internal/config"
	"github.com/openpact/sandboxbot/internal/logging"
)

// State is a user sandbox's position in its lifecycle.
type State int

const (
	Absent State = iota
	Provisioning
	Ready
)

// Result is the outcome of running one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Degraded bool // true if executed on the host rather than in a container
}

type userSandbox struct {
	mu           sync.Mutex
	state        State
	containerID  string
	lastActivity time.Time
}

// Manager owns the per-user container lifecycle.
type Manager struct {
	docker    *dockerClient
	available bool

	cfg       config.SandboxConfig
	workspace config.WorkspaceConfig
	logger    *logging.Logger

	usersMu sync.Mutex
	users   map[int64]*userSandbox
}

// NewManager connects to Docker (falling back to degraded host execution if
// unavailable) and returns a ready-to-use Manager.
func NewManager(cfg config.SandboxConfig, workspace config.WorkspaceConfig, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		cfg:       cfg,
		workspace: workspace,
		logger:    logger,
		users:     make(map[int64]*userSandbox),
	}

	cli, err := newDockerClient()
	if err != nil {
		m.available = false
		m.logger.Warn("docker runtime unavailable, sandbox manager running in degraded mode: %v", err)
		return m
	}
	m.docker = cli
	m.available = true
	return m
}

// Available reports whether the container runtime was reachable at startup.
func (m *Manager) Available() bool { return m.available }

// ActiveCount returns the number of users with a Ready sandbox, for health
// and metrics reporting.
func (m *Manager) ActiveCount() int {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	n := 0
	for _, us := range m.users {
		us.mu.Lock()
		if us.state == Ready {
			n++
		}
		us.mu.Unlock()
	}
	return n
}

// PortWindow returns the ten deterministic ports reserved for userId.
func PortWindow(userID int64, basePort int) [10]int {
	var window [10]int
	offset := int(((userID % 10) + 10) % 10) * 10
	for i := 0; i < 10; i++ {
		window[i] = basePort + offset + i
	}
	return window
}

func containerName(userID int64) string {
	return fmt.Sprintf("sandbox_%d", userID)
}

func (m *Manager) userSandboxFor(userID int64) *userSandbox {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	us, ok := m.users[userID]
	if !ok {
		us = &userSandbox{state: Absent}
		m.users[userID] = us
	}
	return us
}

// Exec runs command for userId, provisioning that user's container on first
// use. timeout bounds the command itself, not provisioning.
func (m *Manager) Exec(ctx context.Context, userID int64, command string, timeout time.Duration) (Result, error) {
	command = rewriteDF(command, m.cfg.WorkspaceSoftLimitMB)

	if !m.available {
		if m.cfg.RequireDocker {
			return Result{}, fmt.Errorf("sandbox_failed: docker runtime unavailable and require_docker is set")
		}
		return m.execDegraded(ctx, userID, command, timeout)
	}

	us := m.userSandboxFor(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	if us.state != Ready {
		if err := m.provision(ctx, userID, us); err != nil {
			return Result{}, fmt.Errorf("sandbox_failed: %w", err)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := m.docker.exec(execCtx, us.containerID, "/workspace", []string{"sh", "-c", command})
	us.lastActivity = time.Now()
	if err != nil {
		return Result{}, err
	}

	out := Result{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	if note, over := m.workspaceSizeNote(userID); over {
		out.Stdout += note
	}
	return out, nil
}

// provision brings userId's container from absent to ready. A stale
// container from a crashed previous run (same deterministic name) is
// discovered and replaced rather than left orphaned. Any failure destroys
// the half-built container.
func (m *Manager) provision(ctx context.Context, userID int64, us *userSandbox) error {
	us.state = Provisioning
	name := containerName(userID)

	if existingID, _, err := m.docker.containerByName(ctx, name); err == nil && existingID != "" {
		_ = m.docker.remove(ctx, existingID, true)
	}

	if err := m.workspace.EnsureRoot(); err != nil {
		us.state = Absent
		return err
	}
	userDir := m.workspace.UserDir(userID)

	window := PortWindow(userID, m.cfg.BasePort)
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, port := range window {
		p := nat.Port(fmt.Sprintf("%d/tcp", port))
		exposedPorts[p] = struct{}{}
		portBindings[p] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(port)}}
	}

	pidsLimit := m.cfg.PidsLimit
	containerCfg := &dockercontainer.Config{
		Image:        m.cfg.Image,
		Cmd:          []string{"sleep", "infinity"},
		ExposedPorts: exposedPorts,
	}
	hostCfg := &dockercontainer.HostConfig{
		Binds:        []string{userDir + ":/workspace:rw"},
		PortBindings: portBindings,
		SecurityOpt:  []string{"no-new-privileges:true"},
		Resources: dockercontainer.Resources{
			Memory:    m.cfg.MemoryLimitMB * 1024 * 1024,
			NanoCPUs:  int64(m.cfg.CPUFraction * 1e9),
			PidsLimit: &pidsLimit,
		},
	}

	id, err := m.docker.createAndStart(ctx, name, containerCfg, hostCfg)
	if err != nil {
		us.state = Absent
		return err
	}

	if err := m.installToolset(ctx, id); err != nil {
		_ = m.docker.remove(ctx, id, true)
		us.state = Absent
		return err
	}

	us.containerID = id
	us.state = Ready
	us.lastActivity = time.Now()
	return nil
}

// installToolset primes the container with the shell/curl/git/runtime set
// expected by the agent's tools. Best-effort: a container image that
// already bundles the toolset makes this a no-op; one that doesn't gets one
// attempt per package manager available.
func (m *Manager) installToolset(ctx context.Context, containerID string) error {
	script := `command -v curl >/dev/null 2>&1 && command -v git >/dev/null 2>&1 && exit 0; ` +
		`(apk add --no-cache curl git bash >/dev/null 2>&1) || ` +
		`(apt-get update >/dev/null 2>&1 && apt-get install -y curl git >/dev/null 2>&1) || true`
	installCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	_, err := m.docker.exec(installCtx, containerID, "/", []string{"sh", "-c", script})
	return err
}

// Sweep stops and removes containers for users idle longer than the
// configured inactivity TTL. Invoked periodically by the scheduler.
func (m *Manager) Sweep(ctx context.Context) {
	if !m.available {
		return
	}
	ttl, err := time.ParseDuration(m.cfg.UserInactivityTTL)
	if err != nil {
		ttl = 30 * time.Minute
	}

	m.usersMu.Lock()
	targets := make(map[int64]*userSandbox, len(m.users))
	for id, us := range m.users {
		targets[id] = us
	}
	m.usersMu.Unlock()

	for userID, us := range targets {
		us.mu.Lock()
		if us.state == Ready && time.Since(us.lastActivity) > ttl {
			m.teardownLocked(ctx, userID, us)
		}
		us.mu.Unlock()
	}
}

// Shutdown stops and removes every live container, for a clean process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	if !m.available {
		return
	}
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	for userID, us := range m.users {
		us.mu.Lock()
		m.teardownLocked(ctx, userID, us)
		us.mu.Unlock()
	}
}

func (m *Manager) teardownLocked(ctx context.Context, userID int64, us *userSandbox) {
	if us.containerID != "" {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = m.docker.remove(stopCtx, us.containerID, true)
		cancel()
	}
	us.containerID = ""
	us.state = Absent
	m.logger.WithField("userId", userID).Debug("sandbox torn down")
}

// execDegraded runs command directly on the host, in the user's workspace
// directory, when no container runtime is available. The caller remains
// responsible for classifier enforcement; this mode provides no filesystem
// or resource isolation.
func (m *Manager) execDegraded(ctx context.Context, userID int64, command string, timeout time.Duration) (Result, error) {
	if err := m.workspace.EnsureRoot(); err != nil {
		return Result{}, err
	}
	userDir := m.workspace.UserDir(userID)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = userDir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return Result{}, runErr
	}

	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode, Degraded: true}, nil
}

var dfCommand = regexp.MustCompile(`(^|[;&|]\s*)df\b[^;&|]*`)

// rewriteDF intercepts df invocations and replaces them with du against the
// user's workspace, since df inside the container reports host-level
// numbers that confuse both agent and user.
func rewriteDF(command string, softLimitMB int64) string {
	if !dfCommand.MatchString(command) {
		return command
	}
	replacement := fmt.Sprintf(`du -sh /workspace && echo "soft limit: %dMB"`, softLimitMB)
	return dfCommand.ReplaceAllString(command, "$1"+replacement)
}

// workspaceSizeNote appends a soft-limit notice to command output when the
// user's workspace has grown past its configured soft limit.
func (m *Manager) workspaceSizeNote(userID int64) (string, bool) {
	limitBytes := m.cfg.WorkspaceSoftLimitMB * 1024 * 1024
	if limitBytes <= 0 {
		return "", false
	}
	size, err := dirSize(m.workspace.UserDir(userID))
	if err != nil || size <= limitBytes {
		return "", false
	}
	return fmt.Sprintf("\n[workspace size %dMB exceeds soft limit of %dMB]", size/1024/1024, m.cfg.WorkspaceSoftLimitMB), true
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
