package pipeline

import (
	"sync"

	"github.com/zen-systems/stockbrief/pkg/adapter"
)

// usageTracker accumulates token usage across the calls of one run.
type usageTracker struct {
	mu    sync.Mutex
	total adapter.Usage
	calls []adapter.CallReport
}

func (t *usageTracker) record(report adapter.CallReport) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, report)
	if report.Error == "" {
		t.total = t.total.Add(report.Usage)
	}
}

func (t *usageTracker) snapshot() (adapter.Usage, []adapter.CallReport) {
	if t == nil {
		return adapter.Usage{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, append([]adapter.CallReport(nil), t.calls...)
}

func normalizeUsage(u *adapter.Usage) adapter.Usage {
	if u == nil {
		return adapter.Usage{}
	}
	usage := *u
	if usage.TotalTokens == 0 && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
