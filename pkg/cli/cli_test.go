package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/mockproxy/pkg/config"
	"github.com/getmockd/mockproxy/pkg/rule"
)

const testConfig = `
[log]
level = "error"

[[rules.inline]]
id = "health"
facets = [
  { kind = "method", value = "GET" },
  { kind = "url", value = "/health" },
]
outcome = { type = "synthetic", status = 200, body = "OK" }

[[rules.inline]]
id = "users"
facets = [{ kind = "url", mode = "pattern", value = '^/api/users/\d+$' }]
outcome = { type = "passthrough" }
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mockproxy.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--json")
	require.NoError(t, err)

	var v VersionOutput
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.NotEmpty(t, v.Version)
	assert.NotEmpty(t, v.Go)

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mockproxy ")
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", "-c", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid: 2 rules from 0 files")
}

func TestValidateCommandRuleFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules", "a.yaml"),
		[]byte("- id: a\n  facets: [{kind: method, value: GET}]\n  outcome: {type: passthrough}\n"), 0o644))
	cfgPath := filepath.Join(dir, "mockproxy.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[log]\nlevel = \"error\"\n"), 0o644))

	out, err := run(t, "validate", "-c", cfgPath, "--rules", "rules/*.yaml", "--json")
	require.NoError(t, err)

	var v ValidateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.True(t, v.Valid)
	assert.Equal(t, 1, v.Rules)
	assert.Len(t, v.Files, 1)
}

func TestValidateCommandReportsRuleErrors(t *testing.T) {
	cfg := testConfig + `
[[rules.inline]]
id = "health"
outcome = { type = "synthetic", status = 99 }
`
	out, err := run(t, "validate", "-c", writeConfig(t, cfg))
	require.Error(t, err)
	assert.Contains(t, out, "configuration invalid:")
	assert.Contains(t, out, `rule "health"`)
}

func TestValidateCommandReportsConfigErrors(t *testing.T) {
	cfg := "[upstream.proxy]\nuse_proxy = true\n"
	out, err := run(t, "validate", "-c", writeConfig(t, cfg), "--json")
	require.Error(t, err)

	var v ValidateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "upstream.proxy")
}

func TestRulesCommand(t *testing.T) {
	out, err := run(t, "rules", "-c", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "SPECIFICITY")
	assert.Contains(t, out, "health")
	assert.Contains(t, out, "method == GET; url == /health")

	out, err = run(t, "rules", "-c", writeConfig(t, testConfig), "--json")
	require.NoError(t, err)
	var rows []RuleOutput
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 202, rows[0].Specificity)
	assert.Equal(t, "passthrough", rows[1].Outcome)
}

func TestExplainCommand(t *testing.T) {
	out, err := run(t, "explain", "GET", "/health", "-c", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "decision: virtualize")
	assert.Contains(t, out, "winner:   health")

	out, err = run(t, "explain", "GET", "/api/users/abc", "-c", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "decision: proxy")
	assert.Contains(t, out, "winner:   (none)")

	_, err = run(t, "explain", "GET", "/x", "-H", "broken", "-c", writeConfig(t, testConfig))
	assert.Error(t, err)
}

func testAppConfig(t *testing.T, upstream string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Admin.Listen = "127.0.0.1:0"
	cfg.Log.Level = "error"
	cfg.Upstream.URL = upstream
	cfg.Rules.Inline = []rule.Definition{
		{
			ID: "health",
			Facets: []rule.FacetDefinition{
				{Kind: "method", Value: "GET"},
				{Kind: "url", Value: "/health"},
			},
			Outcome: rule.OutcomeDefinition{Type: "synthetic", Status: 200, Body: "OK"},
		},
		{
			ID:      "users",
			Facets:  []rule.FacetDefinition{{Kind: "url", Mode: "pattern", Value: `^/api/users/\d+$`}},
			Outcome: rule.OutcomeDefinition{Type: "passthrough"},
		},
	}
	return cfg
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func TestAppEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upstream " + r.URL.Path))
	}))
	defer upstream.Close()

	ctx := context.Background()
	a, err := newApp(ctx, testAppConfig(t, upstream.URL))
	require.NoError(t, err)
	defer a.close()
	require.NoError(t, a.start(ctx))
	defer func() { _ = a.stop(ctx) }()

	base := "http://" + a.server.Addr()

	status, body, header := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)
	assert.Equal(t, "health", header.Get("X-Mockproxy-Rule"))
	assert.NotEmpty(t, header.Get("X-Request-Id"))

	status, body, _ = get(t, base+"/api/users/42")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "upstream /api/users/42", body)

	status, body, _ = get(t, base+"/anything")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "upstream /anything", body)

	admin := "http://" + a.admin.Addr()
	status, body, _ = get(t, admin+"/__admin/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"rules":2`)

	status, body, _ = get(t, admin+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "mockproxy_table_rules 2")
	assert.Contains(t, body, `mockproxy_decisions_total{decision="virtualize",matched="true"} 1`)
}

func TestAppInvalidInitialRules(t *testing.T) {
	cfg := testAppConfig(t, "")
	cfg.Rules.Inline = append(cfg.Rules.Inline, cfg.Rules.Inline[0])

	_, err := newApp(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, rule.ErrDuplicateID)
}

func TestAppReloadKeepsTableOnFailure(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.toml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(`
[[rules]]
id = "one"
facets = [{ kind = "url", value = "/one" }]
outcome = { type = "synthetic", body = "1" }
`), 0o644))

	cfg := testAppConfig(t, "")
	cfg.Admin.Enabled = false
	cfg.Rules.Inline = nil
	cfg.Rules.Files = []string{rulesPath}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close()
	before := a.resolver.Table()
	require.Equal(t, 1, before.Len())

	require.NoError(t, os.WriteFile(rulesPath, []byte("[[rules]]\nid = \"\"\n"), 0o644))
	a.reload(ctx)
	assert.Same(t, before, a.resolver.Table())

	require.NoError(t, os.WriteFile(rulesPath, []byte(`
[[rules]]
id = "one"
facets = [{ kind = "url", value = "/one" }]
outcome = { type = "passthrough" }

[[rules]]
id = "two"
facets = [{ kind = "url", value = "/two" }]
outcome = { type = "passthrough" }
`), 0o644))
	a.reload(ctx)
	assert.Equal(t, 2, a.resolver.Table().Len())
}
