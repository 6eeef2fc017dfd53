// Package config handles configuration loading for forgestate.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FORGESTATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/forgestate/config.yaml
//  3. ~/.config/forgestate/config.yaml
//
// With no file, Default values apply.
//
// # Environment
//
// A .env file in the working directory is loaded first, without overriding
// variables that are already set. Values can reference variables:
//
//	auth:
//	  jwt_secret: "${FORGESTATE_JWT_SECRET}"
//
// Every field can also be overridden directly, e.g.
// FORGESTATE_SERVER_HTTP_ADDR or FORGESTATE_CHECKLIST_ENFORCE_LOCKS.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8787"
//	  grpc_addr: "0.0.0.0:50051"
//
//	database:
//	  driver: "sqlite"          # sqlite | sqlite3 | natskv
//	  path: "/var/lib/forgestate/state.db"
//
//	checklist:
//	  enforce_locks: true
//
//	events:
//	  nats_url: "nats://127.0.0.1:4222"
//
//	sync:
//	  server_url: "http://forge.lan:8787"
//	  mode: "exponential"
//	  initial: "500ms"
//	  max: "30s"
//	  max_retries: 5
//
//	idempotency:
//	  ttl: "10m"
//	  max_entries: 1024
//
// Duration values use time.ParseDuration syntax.
package config
