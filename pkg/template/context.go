package template

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
)

// maxTemplateBodySize bounds how much of the request body is exposed to templates.
const maxTemplateBodySize = 10 << 20

// Context holds all available data for template evaluation.
type Context struct {
	RuleID  string
	Request RequestContext
}

// RequestContext contains HTTP request data available to templates.
type RequestContext struct {
	Method  string
	Path    string
	URL     string
	Host    string
	Body    interface{}         // Parsed JSON or nil
	RawBody string              // Original body string
	Query   map[string][]string // Query parameters
	Headers map[string][]string // HTTP headers
}

// NewContext creates a template context from an HTTP request and its body.
func NewContext(ruleID string, r *http.Request, bodyBytes []byte) *Context {
	ctx := &Context{
		RuleID: ruleID,
		Request: RequestContext{
			Method:  r.Method,
			Path:    r.URL.Path,
			URL:     r.URL.String(),
			Host:    r.Host,
			RawBody: string(bodyBytes),
			Query:   r.URL.Query(),
			Headers: r.Header,
		},
	}

	if isJSON(r.Header.Get("Content-Type")) && len(bodyBytes) > 0 {
		var body interface{}
		if err := json.Unmarshal(bodyBytes, &body); err == nil {
			ctx.Request.Body = body
		}
	}

	return ctx
}

// NewContextFromRequest creates a template context by reading the request body.
func NewContextFromRequest(ruleID string, r *http.Request) (*Context, error) {
	var bodyBytes []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBodySize))
		if err != nil {
			return nil, err
		}
		_ = r.Body.Close()
		bodyBytes = b
	}
	return NewContext(ruleID, r, bodyBytes), nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
