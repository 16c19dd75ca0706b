package template

import (
	"encoding/json"
	"net/http"
	"strconv"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
)

// FuncMap returns the function map used for body templates: every Sprig
// text function plus the mockproxy helpers.
func FuncMap() template.FuncMap {
	fm := sprig.TxtFuncMap()

	fm["json"] = func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	fm["first"] = func(vals []string) string {
		if len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	fm["uuid"] = func() string {
		return uuid.New().String()
	}
	fm["timestamp"] = func() string {
		return strconv.FormatInt(time.Now().Unix(), 10)
	}
	fm["header"] = func(req RequestContext, name string) string {
		return http.Header(req.Headers).Get(name)
	}

	return fm
}
