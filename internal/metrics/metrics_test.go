package metrics

import (
	"testing"

	"github.com/goatbytes/consoul/internal/breaker"
)

// NewPrometheus registers against the default Prometheus registry, so only
// one test in this package may construct it; the rest exercise Noop, which
// satisfies the same interface without touching any registry.
func TestNewPrometheusRegistersAndRecordsWithoutPanicking(t *testing.T) {
	m := NewPrometheus()

	m.RequestTotal("/chat", "POST", "200", "claude-sonnet-4")
	m.RequestLatency("/chat", "POST", 0.42)
	m.TokenUsage("input", "claude-sonnet-4", "sess-1", 120)
	m.ActiveSessions(1)
	m.ActiveSessions(-1)
	m.ToolExecution("shell_exec", "success")
	m.ErrorTotal("/chat", "timeout")
	m.OnDegraded()
	m.OnRecovered()
	m.OnStateChange("anthropic", breaker.StateClosed, breaker.StateOpen)
	m.OnTrip("anthropic")
	m.OnRejection("anthropic")
}

func TestNoopSatisfiesCollector(t *testing.T) {
	var c Collector = Noop{}
	c.RequestTotal("/chat", "POST", "200", "gpt-4o")
	c.RequestLatency("/chat", "POST", 0.1)
	c.TokenUsage("output", "gpt-4o", "sess-2", 50)
	c.ActiveSessions(1)
	c.ToolExecution("web_search", "error")
	c.ErrorTotal("/chat", "provider_error")
	c.OnDegraded()
	c.OnRecovered()
	c.OnStateChange("openai", breaker.StateClosed, breaker.StateHalfOpen)
	c.OnTrip("openai")
	c.OnRejection("openai")
}
