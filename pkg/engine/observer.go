package engine

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/getmockd/mockproxy/pkg/routing"
	"github.com/getmockd/mockproxy/pkg/rule"
)

// Observer receives resolver events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// CacheLookup reports a cache hit or miss.
	CacheLookup(hit bool)
	// Decided reports the decision for a request and how long it took.
	Decided(r *http.Request, d routing.Decision, elapsed time.Duration)
	// PatternTimeout reports a pattern evaluation that exceeded its bound.
	PatternTimeout(ruleID string, err error)
	// TablePublished reports a new active table.
	TablePublished(t *rule.Table)
	// ReloadFailed reports a rejected reload.
	ReloadFailed(err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) CacheLookup(bool)                                       {}
func (NopObserver) Decided(*http.Request, routing.Decision, time.Duration) {}
func (NopObserver) PatternTimeout(string, error)                           {}
func (NopObserver) TablePublished(*rule.Table)                             {}
func (NopObserver) ReloadFailed(error)                                     {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) CacheLookup(hit bool) {
	for _, obs := range o {
		obs.CacheLookup(hit)
	}
}

func (o Observers) Decided(r *http.Request, d routing.Decision, elapsed time.Duration) {
	for _, obs := range o {
		obs.Decided(r, d, elapsed)
	}
}

func (o Observers) PatternTimeout(ruleID string, err error) {
	for _, obs := range o {
		obs.PatternTimeout(ruleID, err)
	}
}

func (o Observers) TablePublished(t *rule.Table) {
	for _, obs := range o {
		obs.TablePublished(t)
	}
}

func (o Observers) ReloadFailed(err error) {
	for _, obs := range o {
		obs.ReloadFailed(err)
	}
}

// LogObserver writes resolver events to a structured logger. Per-request
// events are logged at debug level.
type LogObserver struct {
	log *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(log *slog.Logger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) CacheLookup(hit bool) {}

func (o *LogObserver) Decided(r *http.Request, d routing.Decision, elapsed time.Duration) {
	if !routing.Matched(d) {
		o.log.Debug("no rule matched", "method", r.Method, "url", r.URL.String(), "elapsed", elapsed)
		return
	}
	o.log.Debug("rule matched",
		"rule", d.Rule(),
		"decision", string(d.Kind()),
		"method", r.Method,
		"url", r.URL.String(),
		"elapsed", elapsed,
	)
}

func (o *LogObserver) PatternTimeout(ruleID string, err error) {
	o.log.Warn("pattern evaluation timed out", "rule", ruleID, "error", err)
}

func (o *LogObserver) TablePublished(t *rule.Table) {
	o.log.Info("rule table published", "rules", t.Len(), "epoch", t.Epoch(), "version", t.Version())
}

func (o *LogObserver) ReloadFailed(err error) {
	o.log.Error("rule reload rejected, keeping previous table", "error", err)
}
