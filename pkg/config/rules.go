package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/rule"
)

var _ engine.TableSource = (*RuleSource)(nil)

// ruleFile is the document shape of a rule file.
type ruleFile struct {
	Rules []rule.Definition `json:"rules" yaml:"rules" toml:"rules"`
}

// RuleSource builds rule tables from rule files and inline definitions.
type RuleSource struct {
	rules RulesConfig
	opts  rule.Options
	log   *slog.Logger
}

// NewRuleSource creates a source for the rules section of cfg.
func NewRuleSource(cfg *Config, log *slog.Logger) (*RuleSource, error) {
	opts, err := cfg.RuleOptions()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	return &RuleSource{rules: cfg.Rules, opts: opts, log: log}, nil
}

// Load implements engine.TableSource. File rules come first, in file
// order, followed by inline rules.
func (s *RuleSource) Load(ctx context.Context) (*rule.Table, error) {
	defs, err := s.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	return rule.NewTable(defs, s.opts)
}

// Definitions reads every rule definition without compiling them.
func (s *RuleSource) Definitions(ctx context.Context) ([]rule.Definition, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	var defs []rule.Definition
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileDefs, err := ReadRuleFile(path)
		if err != nil {
			return nil, err
		}
		s.log.Debug("rule file loaded", "path", path, "rules", len(fileDefs))
		defs = append(defs, fileDefs...)
	}
	return append(defs, s.rules.Inline...), nil
}

// Files expands the configured patterns into an ordered, de-duplicated
// file list. A pattern without glob characters must name an existing file;
// a glob may match nothing.
func (s *RuleSource) Files() ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, pattern := range s.rules.Files {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(s.rules.BaseDir, pattern)
		}
		pattern = filepath.Clean(pattern)

		var matches []string
		if hasMeta(pattern) {
			m, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("rule pattern %q: %w", pattern, err)
			}
			if len(m) == 0 {
				s.log.Warn("rule pattern matched no files", "pattern", pattern)
			}
			sort.Strings(m)
			matches = m
		} else {
			if _, err := os.Stat(pattern); err != nil {
				return nil, &FileError{Path: pattern, Err: fmt.Errorf("%w: %v", ErrFileNotFound, err)}
			}
			matches = []string{pattern}
		}

		for _, m := range matches {
			if !seen[m] && isRuleFile(m) {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Patterns returns the absolute rule file patterns, for watching.
func (s *RuleSource) Patterns() []string {
	out := make([]string, len(s.rules.Files))
	for i, p := range s.rules.Files {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.rules.BaseDir, p)
		}
		out[i] = filepath.Clean(p)
	}
	return out
}

// ReadRuleFile parses one rule file. The format follows the extension:
// .toml, .yaml, .yml or .json. YAML and JSON files may also hold a bare
// list of rules.
func ReadRuleFile(path string) ([]rule.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defs, err := ParseRules(data, filepath.Ext(path))
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	return defs, nil
}

// ParseRules decodes rule definitions in the format named by ext.
func ParseRules(data []byte, ext string) ([]rule.Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyFile
	}

	var doc ruleFile
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	case "yaml", "yml":
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			if err := node.Content[0].Decode(&doc.Rules); err != nil {
				return nil, fmt.Errorf("parse yaml: %w", err)
			}
			break
		}
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case "json":
		if trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &doc.Rules); err != nil {
				return nil, fmt.Errorf("parse json: %w", err)
			}
			break
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return doc.Rules, nil
}

func isRuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
