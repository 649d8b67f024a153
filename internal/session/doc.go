// Package session implements the session registry: opaque bearer tokens
// resolved to a (room, nickname) identity, with a 24 hour max age enforced
// both lazily on lookup and by a periodic sweep. A per-room secondary
// index makes bulk invalidation of one room proportional to that room's
// membership.
package session
