// Package term implements the PTY session multiplexer: one backing shell
// process per (room, tab, terminal-slot) key, shared by any number of
// viewer sockets. Every viewer sees identical output, late joiners replay
// the byte-capped history buffer before receiving live output, and every
// viewer has equal write access to the shared process; there is no
// arbitration of who may type.
//
// The backing process is reached only through the Proc capability
// interface; the production implementation spawns shells on OS
// pseudo-terminals via creack/pty with an allow-listed environment.
package term
