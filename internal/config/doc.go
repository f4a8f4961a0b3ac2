// Package config handles configuration loading for checkaso.
//
// # Overview
//
// Both binaries read one file. YAML is the default format; a path ending
// in .toml is decoded as TOML. Keys absent from the file keep the values
// from Default, and Validate runs after decoding.
//
// # Configuration File
//
// Resolution order:
//
//  1. The --config flag
//  2. The CHECKASO_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/checkaso/checkaso.yaml (OS config dir if unset)
//
// A missing file at the default location means "use defaults". A missing
// file named by the flag or the environment is an error.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	control:
//	  jwt_secret: "${CHECKASO_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  heartbeat_interval: "15s"
//	  liveness_timeout: "60s"
//	  reconnect_delay: "5s"
//
// # Configuration Sections
//
//	logging:      level, format, file, max_size_mb, max_backups, max_age_days
//	coordinator:  listen_addr, advertise_ip, handshake_timeout, read_timeout,
//	              write_timeout, send_attempts, send_backoff,
//	              initial_probe_delay, keepalive
//	discovery:    enabled, port, broadcast ("auto" or an IPv4), interval
//	control:      http_addr, jwt_secret, url, token
//	database:     path (empty disables the journal), retention
//	agent:        hostname, coordinator, connect_timeout, handshake_timeout,
//	              write_timeout, heartbeat_interval, liveness_timeout,
//	              reconnect_delay, max_failures
//	dnd:          file, poll_interval
//	notify:       command, timeout, rate, burst, title
package config
