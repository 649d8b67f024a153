// Package ws exposes the two websocket endpoints: the sync channel for
// presence, tab switches, edit-lock handshakes and flagged findings, and
// the terminal channel for raw PTY byte streams. Both endpoints upgrade
// only for same-host or loopback origins and run behind the connection
// governor.
package ws
