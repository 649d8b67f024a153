// Package locks implements cooperative, TTL-bounded edit locks keyed by
// (room, tab, note). At most one lock exists per key at any instant. The
// state machine per key is Unlocked → Locked(holder, expiry) → Unlocked;
// expiry makes every lock force-releasable so a silent disconnect can
// never pin a note forever.
package locks
