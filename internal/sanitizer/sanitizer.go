// Package sanitizer implements the output sanitizer (C3): a defense-in-depth
// pass applied to every tool output before it reaches the model or the user,
// including output that came from the sandbox and was therefore expected to
// be safe.
package sanitizer

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/openpact/sandboxbot/internal/patterns"
)

// BlockingNotice replaces output that trips the encoded-dump or env-dump
// detectors. The original content is never returned in either case.
const BlockingNotice = "[output withheld: appeared to contain encoded or bulk secret material]"

var (
	base64Run    = regexp.MustCompile(`[A-Za-z0-9+/]{100,}={0,2}`)
	envVarName   = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\s*=`)
	secretPrefix = regexp.MustCompile(`sk-[A-Za-z0-9]{10,}|tvly-[A-Za-z0-9]{10,}|\d{6,10}:[A-Za-z0-9_-]{35}|AA[A-Za-z0-9_-]{20,}`)
	ipPort       = regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}:\d{2,5}\b`)

	jsonKeyRe      = regexp.MustCompile(`"([A-Za-z0-9_]+)"\s*:`)
	shellAssignRe  = regexp.MustCompile(`(?m)^[A-Z][A-Z0-9_]*=\S+$`)
	kvSecretLineRe = regexp.MustCompile(`(?i)\b(API_?KEY|TOKEN|SECRET|PASSWORD|CREDENTIAL|ACCESS_?KEY)\s*=\s*(\S+)`)
)

// fallbackSecretKeyNames backs isSecretKeyName when no pattern store is
// available (store is always non-nil in the running process; this only
// guards ad-hoc callers).
var fallbackSecretKeyNames = map[string]bool{
	"API_KEY": true, "APIKEY": true, "TOKEN": true, "SECRET": true, "PASSWORD": true,
	"CREDENTIAL": true, "ACCESS_KEY": true, "ACCESSKEY": true, "PRIVATE_KEY": true,
	"AUTH_TOKEN": true, "CLIENT_SECRET": true,
}

// Sanitize runs the three-stage pipeline against raw tool output and returns
// the text that may safely reach the model or the user.
func Sanitize(raw string, store *patterns.Store) string {
	if looksLikeEncodedSecretDump(raw) {
		return BlockingNotice
	}
	if looksLikeEnvDump(raw, store) {
		return BlockingNotice
	}
	return redactSecrets(raw, store)
}

// looksLikeEncodedSecretDump speculatively decodes any long base64 run and
// checks whether the decoded bytes look like secret material.
func looksLikeEncodedSecretDump(s string) bool {
	for _, match := range base64Run.FindAllString(s, -1) {
		decoded, err := base64.StdEncoding.DecodeString(match)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(match)
			if err != nil {
				continue
			}
		}
		text := string(decoded)
		if envVarName.MatchString(text) || secretPrefix.MatchString(text) || ipPort.MatchString(text) {
			return true
		}
	}
	return false
}

// looksLikeEnvDump flags outputs that look like a bulk dump of environment
// variables, or a JSON object with more than five keys where at least one
// key is itself secret-shaped (API_KEY, TOKEN, SECRET, ...): a handful of
// ordinary fields alongside one credential is still a dump worth blocking,
// not just a JSON object made entirely of secret names.
func looksLikeEnvDump(s string, store *patterns.Store) bool {
	keys := jsonKeyRe.FindAllStringSubmatch(s, -1)
	if len(keys) > 5 {
		for _, m := range keys {
			if isSecretKeyName(m[1], store) {
				return true
			}
		}
	}

	if len(shellAssignRe.FindAllString(s, -1)) > 5 {
		return true
	}

	return false
}

// isSecretKeyName reports whether key matches the pattern store's
// secret-key-name list, keeping the sanitizer and the operator-editable
// pattern list as the single source of truth for what counts as secret-named.
func isSecretKeyName(key string, store *patterns.Store) bool {
	if store != nil {
		_, ok := patterns.MatchFirst(store.SecretKeyNames, key)
		return ok
	}
	return fallbackSecretKeyNames[strings.ToUpper(key)]
}

// redactSecrets applies the fixed regex set: KEY=value shapes keep the key
// and blank the value, raw secret-shaped tokens keep only a four-character prefix.
func redactSecrets(s string, store *patterns.Store) string {
	out := kvSecretLineRe.ReplaceAllString(s, "$1=[REDACTED]")

	if store != nil {
		for i := range store.SecretRegexes {
			p := &store.SecretRegexes[i]
			if p.Name == "generic_kv_secret" {
				continue // already handled by kvSecretLineRe, which preserves the key name
			}
			out = p.ReplaceAllStringFunc(out, redactRawSecret)
		}
	}

	out = secretPrefix.ReplaceAllStringFunc(out, redactRawSecret)
	return out
}

func redactRawSecret(match string) string {
	if len(match) <= 4 {
		return "[REDACTED]"
	}
	return match[:4] + "...[REDACTED]"
}
