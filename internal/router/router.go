// Package router implements RouterManager (spec §4.10): per-target-type
// routing with sticky memoization in front-session metadata, falling back
// to uniform-random selection among healthy back sessions.
package router

import (
	"github.com/meshnode/meshnode/internal/session"
)

// Manager routes a (target server type, front session) pair to a back
// session id.
type Manager struct {
	back  *session.BackSessionManager
	front *session.FrontSessionManager
	// intn picks a uniform index in [0, n). Exposed for deterministic
	// tests; production wiring supplies a clock-derived pseudo-random pick
	// (engine's pseudoRandIntN).
	intn func(n int) int
}

// NewManager wires a router. intn must return a value in [0, n) for any
// n > 0.
func NewManager(back *session.BackSessionManager, front *session.FrontSessionManager, intn func(n int) int) *Manager {
	return &Manager{back: back, front: front, intn: intn}
}

// Route implements the RouterFn contract of spec §4.10:
//  1. If the front session has a sticky server id for targetType and that
//     peer still has an authorized, connected session, reuse it.
//  2. Else pick uniformly at random among authorized sessions of
//     targetType, record the choice back into the front session's
//     metadata, and return it.
//  3. Else report no candidate.
func (m *Manager) Route(targetType string, frontSessionID uint64) (backSessionID uint64, ok bool) {
	if hintServerID, hinted := m.front.RouteHint(frontSessionID, targetType); hinted {
		if s, found := m.back.FindAuthorizedByPeerID(hintServerID); found {
			return s.SessionID, true
		}
	}

	candidates := m.back.GetActiveSessions(targetType)
	if len(candidates) == 0 {
		return 0, false
	}
	picked := candidates[m.intn(len(candidates))]
	m.front.SetRouteHint(frontSessionID, targetType, picked.PeerServerID)
	return picked.SessionID, true
}
