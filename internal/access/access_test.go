package access

import (
	"testing"

	"github.com/openpact/sandboxbot/internal/config"
)

func policyWith(cfg config.AccessConfig) *Policy {
	return New(func() config.AccessConfig { return cfg })
}

func TestAdminAlwaysPermitted(t *testing.T) {
	p := policyWith(config.AccessConfig{AdminUserID: 7, Mode: config.ModeAdminOnly})
	if got := p.Check(7, Private); got != Permit {
		t.Errorf("expected admin to be permitted, got %v", got)
	}
}

func TestAdminOnlyDeniesOthers(t *testing.T) {
	p := policyWith(config.AccessConfig{AdminUserID: 7, Mode: config.ModeAdminOnly})

	if got := p.Check(8, Private); got != DenyMessage {
		t.Errorf("expected deny_message in private chat, got %v", got)
	}
	if got := p.Check(8, Group); got != DenySilent {
		t.Errorf("expected deny_silent in group chat, got %v", got)
	}
}

func TestAllowlistPermitsMembers(t *testing.T) {
	p := policyWith(config.AccessConfig{AdminUserID: 7, Mode: config.ModeAllowlist, Allowlist: []int64{8, 9}})

	if got := p.Check(8, Private); got != Permit {
		t.Errorf("expected allowlisted user permitted, got %v", got)
	}
	if got := p.Check(10, Private); got != DenyMessage {
		t.Errorf("expected non-member denied, got %v", got)
	}
}

func TestPublicPermitsEveryone(t *testing.T) {
	p := policyWith(config.AccessConfig{Mode: config.ModePublic})
	if got := p.Check(12345, Group); got != Permit {
		t.Errorf("expected public mode to permit any user, got %v", got)
	}
}

func TestUnconfiguredAdminDegradesToDeny(t *testing.T) {
	p := policyWith(config.AccessConfig{Mode: config.ModeAdminOnly})
	if got := p.Check(0, Private); got != DenyMessage {
		t.Errorf("expected deny when admin id is unconfigured, got %v", got)
	}
}
