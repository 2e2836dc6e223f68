package sessionloop

import (
	"crypto/sha256"
	"fmt"
)

// stepSignature computes a deterministic signature for a decision-produced
// step (description + code payload), used to detect a decision component
// that keeps proposing the same step.
func stepSignature(st *Step) string {
	h := sha256.Sum256([]byte(st.Description + "\x00" + st.Call.Code() + "\x00" + st.Conclusion))
	return fmt.Sprintf("%x", h[:8])
}

// repeatGuard tracks consecutive identical step proposals. The decision
// collaborator cannot be proven to converge, so the loop stops cleanly once
// the same step has been proposed limit times in a row.
type repeatGuard struct {
	limit   int
	lastSig string
	count   int
}

func newRepeatGuard(limit int) *repeatGuard {
	return &repeatGuard{limit: limit}
}

// observe records a proposed step and reports whether the repetition limit
// has been hit. A limit of zero disables the guard.
func (g *repeatGuard) observe(st *Step) bool {
	if g.limit <= 0 {
		return false
	}
	sig := stepSignature(st)
	if sig == g.lastSig {
		g.count++
	} else {
		g.lastSig = sig
		g.count = 1
	}
	return g.count >= g.limit
}
