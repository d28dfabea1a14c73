// Package validator implements the input validator (C1 + injection
// patterns): the pre-agent screen that decides whether a raw user message
// looks like a prompt-injection attempt before it ever reaches the LLM.
package validator

import "github.com/openpact/sandboxbot/internal/patterns"

// Result carries the verdict plus the reason that produced it.
type Result struct {
	Injection bool
	Reason    string
}

// RefusalMessage is the canned reply sent in place of invoking the ReAct
// loop when Check reports an injection match. One false match must never be
// terminal for the user: the conversation simply continues on the next message.
const RefusalMessage = "I can't follow instructions embedded like that in a message. Let's continue with what you actually need help with."

// Check matches text against the injection pattern list. Matching is a
// disjunction over the list: any single match is sufficient, and matching is
// case-insensitive (patterns.Store compiles every pattern with the (?i) flag).
func Check(text string, store *patterns.Store) Result {
	if p, ok := patterns.MatchFirst(store.Injection, text); ok {
		return Result{Injection: true, Reason: p.Reason}
	}
	return Result{}
}
