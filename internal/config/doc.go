// Package config handles configuration loading for stream-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SG_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sessions:
//	  stale_timeout: "30m"
//	  send_timeout: "5s"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/stream-gateway/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${SG_JWT_SECRET}"
//
// Providers:
//
//	providers:
//	  offline: false
//	  gemini:
//	    api_key: "${GEMINI_API_KEY}"
//	    chat_model: "gemini-2.0-flash"
//	    speech_model: "gemini-2.5-flash-preview-tts"
//	    voice: "Kore"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
