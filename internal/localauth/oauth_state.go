package localauth

import (
	"sync"
	"time"

	"github.com/tyemirov/fraudguide/internal/authkit"
	"golang.org/x/oauth2"
)

type pendingOAuth struct {
	verifier    string
	redirectURL string
	expiresAt   time.Time
}

// oauthStates holds the PKCE verifier for each authorization redirect a browser context started.
// An entry is consumed by its callback or lapses after ttl.
type oauthStates struct {
	ttl   time.Duration
	clock authkit.Clock

	mutex   sync.Mutex
	pending map[string]pendingOAuth
}

func newOAuthStates(ttl time.Duration, clock authkit.Clock) *oauthStates {
	return &oauthStates{ttl: ttl, clock: clock, pending: make(map[string]pendingOAuth)}
}

// begin returns a fresh state value and the verifier bound to it.
func (states *oauthStates) begin(redirectURL string) (string, string) {
	state, verifier := oauth2.GenerateVerifier(), oauth2.GenerateVerifier()
	now := states.clock.Now()

	states.mutex.Lock()
	defer states.mutex.Unlock()
	states.pruneLocked(now)
	states.pending[state] = pendingOAuth{verifier: verifier, redirectURL: redirectURL, expiresAt: now.Add(states.ttl)}
	return state, verifier
}

// take removes the entry for state. It reports false for unknown, replayed, or lapsed states.
func (states *oauthStates) take(state string) (pendingOAuth, bool) {
	now := states.clock.Now()

	states.mutex.Lock()
	defer states.mutex.Unlock()
	entry, ok := states.pending[state]
	delete(states.pending, state)
	states.pruneLocked(now)
	if !ok || !now.Before(entry.expiresAt) {
		return pendingOAuth{}, false
	}
	return entry, true
}

func (states *oauthStates) pruneLocked(now time.Time) {
	for state, entry := range states.pending {
		if !now.Before(entry.expiresAt) {
			delete(states.pending, state)
		}
	}
}
