// Package config handles configuration loading for errorlog.
//
// # Overview
//
// Configuration is read from YAML, JSON or TOML files. The decoder is chosen
// by file extension: .toml uses BurntSushi/toml, everything else yaml.v3
// (JSON is a subset of YAML).
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	digest:
//	  output: "${ERRLOG_DIGEST_PATH}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax ("30s", "1m", "1h30m").
//
// # Configuration Sections
//
//	errorlog:
//	  max_errors_stored: 100   # 1-10000
//	  critical_threshold: 10   # distinct errors that trigger an alert
//	  cooldown: "1m"           # minimum gap between alerts; "0s" disables
//	  handler_timeout: "5s"    # alert handler deadline
//
//	logging:
//	  level: "info"            # debug, info, warn, error
//	  format: "text"           # text, json
//
//	digest:
//	  format: "markdown"       # markdown, html
//	  output: ""               # file path; empty writes to stdout
//
// Missing values take the defaults shown above.
//
// # Loader
//
// Load reads a single file. Loader confines reads to a base directory,
// retries reads that race with a concurrent writer, and caches the parsed
// result until the file changes:
//
//	l := config.NewLoader("/etc/errlog")
//	cfg, err := l.Load("errlog.yaml")
package config
