// Package config provides 12-factor configuration management for the
// warroom server.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Storage: file-backed state store location and queue timeout
//   - Logging: log level and output format
//   - RateLimit: per-IP HTTP rate limiting
//   - Socket: websocket frame ceiling, message rate, heartbeat
//   - Session: session token TTL and sweep cadence
//   - Locks: edit lock TTL and sweep cadence
//   - Terminal: PTY shell, replay buffer cap, per-room ceiling
//   - Alerts: flagged-finding log cap and field clamps
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
