// Package rule compiles virtualization rule definitions into an immutable
// rule table.
//
// A Definition is the wire shape loaded from TOML, YAML or JSON rule files
// (or inline configuration). NewTable validates every definition, compiles
// patterns and body templates, and returns all problems at once as
// ValidationErrors. A Table is never modified after construction; reloads
// build a new one.
package rule
