package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/stockbrief/pkg/adapter"
	"github.com/zen-systems/stockbrief/pkg/evidence"
	"github.com/zen-systems/stockbrief/pkg/tools"
	"go.uber.org/zap"
)

// ErrCollectionExhausted is returned when the collector hits its turn or
// tool-call bound before both required tools have responded and a summary
// has been produced.
var ErrCollectionExhausted = errors.New("data collection exhausted")

// CollectState is the data-collection state machine.
type CollectState int

const (
	StateCollecting CollectState = iota
	StateSummarizing
	StateDone
	StateExhausted
)

func (s CollectState) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateSummarizing:
		return "summarizing"
	case StateDone:
		return "done"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CollectionResult is what the collector gathered.
type CollectionResult struct {
	State     CollectState
	Turns     int
	ToolCalls int
	Observed  []string
	Missing   []string
	Responses []ToolResponse
	Summary   string
}

// Collector drives the model through tool calls until both required tools
// have responded and the model has summarized what it found.
type Collector struct {
	adapter      adapter.Adapter
	model        string
	tools        *tools.Registry
	spec         CollectorSpec
	maxTurns     int
	maxToolCalls int
	policy       callPolicy
	usage        *usageTracker
	evidence     *evidence.Writer
	logger       *zap.Logger
}

type collectRun struct {
	messages  []adapter.Message
	observed  map[string]bool
	ledger    map[string]ToolResponse
	order     []string
	lastText  string
	turns     int
	toolCalls int
}

// Collect runs the state machine for subject.
func (c *Collector) Collect(ctx context.Context, subject Subject) (*CollectionResult, error) {
	data := collectorData{Company: subject.Company, Pages: subject.Pages, Documents: subject.Documents}
	system, err := renderTemplate("collector-system", c.spec.System, data)
	if err != nil {
		return nil, fmt.Errorf("render collector system prompt: %w", err)
	}
	request, err := renderTemplate("collector-request", c.spec.Request, data)
	if err != nil {
		return nil, fmt.Errorf("render collector request: %w", err)
	}
	specs, err := c.tools.Specs(c.spec.AvailableTools()...)
	if err != nil {
		return nil, err
	}

	run := &collectRun{
		messages: []adapter.Message{adapter.UserText(request)},
		observed: make(map[string]bool),
		ledger:   make(map[string]ToolResponse),
	}

	state := StateCollecting
	for {
		switch state {
		case StateCollecting:
			if run.turns >= c.maxTurns {
				state = StateExhausted
				continue
			}

			resp, report, err := callAdapterWithPolicy(ctx, c.adapter, &adapter.Request{
				Model:    c.model,
				System:   system,
				Messages: run.messages,
				Tools:    specs,
			}, "data_collection", c.policy)
			c.usage.record(report)
			run.turns++
			if err != nil {
				return c.result(run, state), fmt.Errorf("data collection: %w", err)
			}
			run.messages = append(run.messages, adapter.AssistantTurn(resp))

			if !resp.WantsTools() {
				run.lastText = resp.Text()
				state = StateSummarizing
				continue
			}

			for _, call := range resp.ToolCalls {
				if run.toolCalls >= c.maxToolCalls {
					state = StateExhausted
					break
				}
				if err := c.runTool(ctx, run, call); err != nil {
					return c.result(run, state), err
				}
			}

		case StateSummarizing:
			missing := c.missing(run)
			if len(missing) == 0 && strings.TrimSpace(run.lastText) != "" {
				state = StateDone
				continue
			}
			nudge, err := renderTemplate("collector-nudge", c.nudgeTemplate(), collectorData{
				Company: subject.Company, Pages: subject.Pages, Documents: subject.Documents, Missing: missing,
			})
			if err != nil {
				return c.result(run, state), fmt.Errorf("render collector nudge: %w", err)
			}
			c.logger.Debug("collector nudging model", zap.Strings("missing", missing))
			run.messages = append(run.messages, adapter.UserText(nudge))
			state = StateCollecting

		case StateDone:
			res := c.result(run, state)
			c.logger.Info("data collection complete",
				zap.Int("turns", res.Turns),
				zap.Int("tool_calls", res.ToolCalls))
			return res, nil

		case StateExhausted:
			res := c.result(run, state)
			c.logger.Warn("data collection exhausted",
				zap.Int("turns", res.Turns),
				zap.Int("tool_calls", res.ToolCalls),
				zap.Strings("missing", res.Missing))
			return res, ErrCollectionExhausted
		}
	}
}

// runTool executes one requested call and appends its result to the
// conversation. Tool failures become text the model can read; only
// cancellation of ctx is returned.
func (c *Collector) runTool(ctx context.Context, run *collectRun, call adapter.ToolCall) error {
	run.toolCalls++
	start := time.Now()

	_, registered := c.tools.Get(call.Name)
	var (
		output string
		failed bool
		err    error
	)
	if registered {
		output, err = c.tools.Invoke(ctx, call.Name, call.Argument)
	} else {
		err = fmt.Errorf("tool %s is not available", call.Name)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		failed = true
		output = fmt.Sprintf("Error running %s on %q: %v", call.Name, call.Argument, err)
	}

	run.messages = append(run.messages, adapter.ToolTurn(call, output, failed))
	if registered {
		run.observed[call.Name] = true
		if _, seen := run.ledger[call.Name]; !seen {
			run.order = append(run.order, call.Name)
		}
		run.ledger[call.Name] = ToolResponse{Tool: call.Name, Argument: call.Argument, Output: output, Failed: failed}
	}

	c.recordTool(call, output, failed, err, time.Since(start))
	return nil
}

func (c *Collector) recordTool(call adapter.ToolCall, output string, failed bool, callErr error, elapsed time.Duration) {
	if c.evidence == nil {
		return
	}
	record := evidence.ToolRecord{
		Tool:           call.Name,
		Argument:       call.Argument,
		Failed:         failed,
		DurationMillis: elapsed.Milliseconds(),
	}
	if callErr != nil {
		record.Error = callErr.Error()
	}
	ref, sha, err := c.evidence.WriteBlob("tool_"+call.Name, []byte(output))
	if err != nil {
		c.logger.Warn("failed to write tool evidence", zap.String("tool", call.Name), zap.Error(err))
	} else {
		record.OutputRef, record.OutputHash = ref, sha
	}
	if _, err := c.evidence.WriteTool(record); err != nil {
		c.logger.Warn("failed to write tool evidence", zap.String("tool", call.Name), zap.Error(err))
	}
}

func (c *Collector) missing(run *collectRun) []string {
	var out []string
	for _, name := range c.spec.RequiredTools {
		if !run.observed[name] {
			out = append(out, name)
		}
	}
	return out
}

func (c *Collector) nudgeTemplate() string {
	if strings.TrimSpace(c.spec.Nudge) != "" {
		return c.spec.Nudge
	}
	return `{{ if .Missing }}Use these tools before summarizing: {{ range $i, $t := .Missing }}{{ if $i }}, {{ end }}{{ $t }}{{ end }}.{{ else }}Now provide a comprehensive summary of all collected data.{{ end }}`
}

func (c *Collector) result(run *collectRun, state CollectState) *CollectionResult {
	res := &CollectionResult{
		State:     state,
		Turns:     run.turns,
		ToolCalls: run.toolCalls,
		Missing:   c.missing(run),
		Summary:   run.lastText,
	}
	for _, name := range run.order {
		res.Observed = append(res.Observed, name)
		res.Responses = append(res.Responses, run.ledger[name])
	}
	return res
}
