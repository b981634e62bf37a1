// Package generation provides the session token used to invalidate stale
// asynchronous work after a cancellation.
//
// Every deferred callback (timers, transport continuations, playback
// completion) captures the [Token] that was current when it was scheduled and
// must no-op once the [Guard] has advanced past it.
package generation

import "sync/atomic"

// Token identifies one generation of session work.
type Token uint64

// Guard is a monotonic generation counter. The zero value is ready to use.
type Guard struct {
	current atomic.Uint64
}

// Current returns the active token.
func (g *Guard) Current() Token {
	return Token(g.current.Load())
}

// Advance invalidates every token handed out so far and returns the new one.
func (g *Guard) Advance() Token {
	return Token(g.current.Add(1))
}

// IsCurrent reports whether token is still the active generation.
func (g *Guard) IsCurrent(token Token) bool {
	return g.current.Load() == uint64(token)
}

// Run calls fn only if token is still current and reports whether it ran.
//
// The check happens before fn is called; fn itself is responsible for
// rechecking if it blocks.
func (g *Guard) Run(token Token, fn func()) bool {
	if !g.IsCurrent(token) {
		return false
	}

	fn()
	return true
}

// Bind captures the current token and returns a callback that runs fn only
// while that token is still current.
func (g *Guard) Bind(fn func()) func() {
	token := g.Current()
	return func() { g.Run(token, fn) }
}
