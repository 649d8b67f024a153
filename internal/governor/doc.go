// Package governor applies the uniform connection policy to every
// websocket: a frame size ceiling, a rolling one-second message rate cap,
// and a ping/pong heartbeat. Violations of the first two are dropped
// silently so rate and size abuse cannot be distinguished from ordinary
// network loss; heartbeat failures force-close the socket through the
// same cleanup path as a clean disconnect.
package governor
