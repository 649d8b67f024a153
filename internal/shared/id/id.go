// Package id provides centralized ID and token generation.
//
// IDs are prefixed ULIDs (room_*, sess_*, alert_*): lexicographically
// sortable, unique across the process, readable in logs. Session tokens
// are opaque high-entropy strings and are never ULIDs: they are bearer
// credentials, not identifiers, and must not leak their creation time.
package id

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RoomID identifies a room.
type RoomID string

// SessionID identifies an authenticated session record.
type SessionID string

// AlertID identifies a persisted alert.
type AlertID string

const (
	RoomPrefix    = "room"
	SessionPrefix = "sess"
	AlertPrefix   = "alert"
)

// tokenBytes is the entropy of a session token before encoding.
const tokenBytes = 32

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRoomID generates a new room ID.
func NewRoomID() RoomID {
	return RoomID(Default().GenerateWithPrefix(RoomPrefix))
}

// NewSessionID generates a new session record ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewAlertID generates a new alert ID.
func NewAlertID() AlertID {
	return AlertID(Default().GenerateWithPrefix(AlertPrefix))
}

func (id RoomID) String() string    { return string(id) }
func (id SessionID) String() string { return string(id) }
func (id AlertID) String() string   { return string(id) }

// NewToken mints an opaque session token: 256 bits from crypto/rand,
// base64url without padding.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsValid checks whether an ID string carries a valid ULID after its prefix.
func IsValid(id string) bool {
	for i := 0; i < len(id); i++ {
		if id[i] == '_' {
			_, err := ulid.Parse(id[i+1:])
			return err == nil
		}
	}
	_, err := ulid.Parse(id)
	return err == nil
}
