// Package config loads proxy configuration and rule definitions.
//
// Configuration is layered with viper, later layers overriding earlier ones:
//
//  1. built-in defaults
//  2. <dir>/default.toml
//  3. <dir>/<env>.toml, where env comes from --env or MOCKPROXY_ENV
//  4. an explicit --config file (TOML, YAML or JSON)
//  5. MOCKPROXY_* environment variables (MOCKPROXY_SERVER_LISTEN for server.listen)
//  6. command line flags bound to their keys
//
// Rules are read from the files matched by rules.files (doublestar globs,
// relative to rules.base_dir) followed by rules.inline. A rule file holds a
// "rules" list:
//
//	[[rules]]
//	id = "health"
//	facets = [
//	  { kind = "method", value = "GET" },
//	  { kind = "url", value = "/health" },
//	]
//	outcome = { type = "synthetic", status = 200, body = "OK" }
//
// RuleSource implements engine.TableSource, and Watcher triggers reloads
// when rule files change.
package config
