// Package access implements the access policy gate: the single check
// consulted once per inbound message, before any pattern matching.
package access

import "github.com/openpact/sandboxbot/internal/config"

// ChatKind distinguishes a private one-to-one chat from a shared group chat.
type ChatKind int

const (
	Private ChatKind = iota
	Group
)

// Decision is the outcome of an access check.
type Decision int

const (
	// Permit allows the message through to the rest of the pipeline.
	Permit Decision = iota
	// DenySilent means the message was seen but must not be answered
	// (used in group chats, where an unsolicited denial reply is noise).
	DenySilent
	// DenyMessage means the caller should reply with a canned access-denied message.
	DenyMessage
)

func (d Decision) String() string {
	switch d {
	case Permit:
		return "permit"
	case DenySilent:
		return "deny_silent"
	case DenyMessage:
		return "deny_message"
	default:
		return "unknown"
	}
}

// Policy evaluates access decisions against a live config.
type Policy struct {
	cfg func() config.AccessConfig
}

// New builds a Policy that reads the access config via cfg each time it is
// consulted, so changes made through the operator interface take effect
// immediately without a restart.
func New(cfg func() config.AccessConfig) *Policy {
	return &Policy{cfg: cfg}
}

// Check returns the access decision for userId addressing the bot in a chat of the given kind.
func (p *Policy) Check(userID int64, kind ChatKind) Decision {
	cfg := p.cfg()

	if cfg.AdminUserID != 0 && userID == cfg.AdminUserID {
		return Permit
	}

	switch cfg.Mode {
	case config.ModePublic:
		return Permit
	case config.ModeAllowlist:
		for _, id := range cfg.Allowlist {
			if id == userID {
				return Permit
			}
		}
	case config.ModeAdminOnly:
		// fall through to deny
	default:
		// unconfigured or unrecognized mode degrades to deny
	}

	if kind == Group {
		return DenySilent
	}
	return DenyMessage
}
