// Package cli provides the mockproxy command line.
//
// Commands:
//   - serve: run the proxy listener, the admin API and rule reloading
//   - validate: load the configuration and compile the rules without serving
//   - rules: list the compiled rules in declaration order
//   - explain: show how a described request would be resolved
//   - version: print build information
//
// Every command reads configuration through config.Loader, so --config,
// --config-dir, --env and MOCKPROXY_* variables behave the same everywhere.
package cli
