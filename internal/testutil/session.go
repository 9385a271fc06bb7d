package testutil

import "github.com/roach88/dispatchr/internal/dispatch"

var _ dispatch.SessionIDGenerator = (*FixedSessionGenerator)(nil)

// DefaultSessionID is used when a scenario does not name its session.
const DefaultSessionID = "test-session-default"

// FixedSessionGenerator returns the same session ID every time.
//
// dispatch.FixedGenerator hands out a list of IDs once each; this one is
// for scenarios that rebuild the same session repeatedly (replays, golden
// runs) and need byte-identical action IDs each time.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator for id, or for
// DefaultSessionID when id is empty.
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = DefaultSessionID
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed session ID.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
