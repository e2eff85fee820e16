package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/stockbrief/pkg/adapter"
	"github.com/zen-systems/stockbrief/pkg/evidence"
	"github.com/zen-systems/stockbrief/pkg/tools"
)

func stageOutput(f Field) string {
	return "analysis of " + f.String()
}

// scriptedCollection queues a collector exchange that uses both tools and
// then summarizes.
func scriptedCollection(mock *adapter.MockAdapter) {
	mock.Enqueue(
		adapter.ScriptedReply{ToolCalls: []adapter.ToolCall{
			toolCall("1", tools.FetchWebpage, testSubject.Pages[0]),
			toolCall("2", tools.ParsePDF, testSubject.Documents[0]),
		}},
		adapter.ScriptedReply{Text: "collected summary"},
	)
}

func stageResponses(t *testing.T) (*Pipeline, map[string]string) {
	t.Helper()
	manifest, err := DefaultManifest()
	require.NoError(t, err)
	responses := make(map[string]string)
	for _, stage := range manifest.Stages {
		responses[stage.Instruction] = stageOutput(stage.Field)
	}
	return manifest, responses
}

// collectingAdapter plays the collector role for requests that offer tools
// and hands analysis requests to stage.
func collectingAdapter(stage func(req *adapter.Request) (*adapter.Response, error)) *funcAdapter {
	return &funcAdapter{fn: func(req *adapter.Request) (*adapter.Response, error) {
		if len(req.Tools) == 0 {
			return stage(req)
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role == adapter.RoleTool {
			return textResponse("collected summary"), nil
		}
		return &adapter.Response{ToolCalls: []adapter.ToolCall{
			toolCall("1", tools.FetchWebpage, testSubject.Pages[0]),
			toolCall("2", tools.ParsePDF, testSubject.Documents[0]),
		}}, nil
	}}
}

func stageFields(t *testing.T) map[string]Field {
	t.Helper()
	manifest, err := DefaultManifest()
	require.NoError(t, err)
	out := make(map[string]Field)
	for _, stage := range manifest.Stages {
		out[stage.Instruction] = stage.Field
	}
	return out
}

func newTestRunner(t *testing.T, impl adapter.Adapter, opts RunnerOptions) *Runner {
	t.Helper()
	opts.Adapter = impl
	if opts.Tools == nil {
		opts.Tools = newStubRegistry(
			&stubTool{name: tools.FetchWebpage, output: "Revenue grew 20%"},
			&stubTool{name: tools.ParsePDF, output: "Q3 transcript: order book doubled"},
		)
	}
	if opts.Settings == nil {
		opts.Settings = fastSettings()
	}
	r, err := NewRunner(opts)
	require.NoError(t, err)
	return r
}

func TestRunProducesDeterministicReport(t *testing.T) {
	manifest, responses := stageResponses(t)
	mock := adapter.NewMockAdapterWithResponses(responses, "")
	mock.Usage = &adapter.Usage{PromptTokens: 10, CompletionTokens: 5}
	scriptedCollection(mock)

	r := newTestRunner(t, mock, RunnerOptions{Manifest: manifest, Model: "mock-1"})
	res, err := r.Run(context.Background(), testSubject)
	require.NoError(t, err)

	var want []string
	for _, f := range Fields() {
		want = append(want, "## "+f.Title()+"\n\n"+stageOutput(f))
	}
	assert.Equal(t, strings.Join(want, "\n\n"), res.Report.Text())
	assert.True(t, res.Report.Complete)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.Context.Missing())

	assert.Equal(t, StateDone, res.Collection.State)
	assert.Equal(t, "collected summary", res.Context.Summary())
	require.Len(t, res.Context.ToolResponses(), 2)

	require.Len(t, res.Calls, 11)
	assert.Equal(t, "data_collection", res.Calls[0].Stage)
	assert.Equal(t, "company_overview", res.Calls[2].Stage)
	assert.Equal(t, 11*15, res.Usage.TotalTokens)

	// Every stage sees the context accumulated so far.
	requests := mock.Requests()
	require.Len(t, requests, 11)
	growth := requests[2+int(Growth)]
	assert.Contains(t, growth.Messages[0].Content, stageOutput(Financials))
	assert.NotContains(t, growth.Messages[0].Content, stageOutput(Capex))
	assert.Contains(t, growth.Messages[0].Content, "Revenue grew 20%")
}

func TestRunIsRepeatable(t *testing.T) {
	run := func() string {
		manifest, responses := stageResponses(t)
		mock := adapter.NewMockAdapterWithResponses(responses, "")
		scriptedCollection(mock)
		r := newTestRunner(t, mock, RunnerOptions{Manifest: manifest})
		res, err := r.Run(context.Background(), testSubject)
		require.NoError(t, err)
		return res.Report.Text()
	}
	assert.Equal(t, run(), run())
}

func TestRunRejectsEmptySubject(t *testing.T) {
	r := newTestRunner(t, adapter.NewMockAdapter(), RunnerOptions{})

	_, err := r.Run(context.Background(), Subject{Pages: []string{"https://a"}})
	assert.Error(t, err)

	_, err = r.Run(context.Background(), Subject{Company: "Acme"})
	assert.Error(t, err)
}

func TestRunStageFailureAborts(t *testing.T) {
	fields := stageFields(t)
	impl := collectingAdapter(func(req *adapter.Request) (*adapter.Response, error) {
		field := fields[req.System]
		if field == Financials {
			return nil, errors.New("model refused")
		}
		return textResponse(stageOutput(field)), nil
	})

	r := newTestRunner(t, impl, RunnerOptions{})
	res, err := r.Run(context.Background(), testSubject)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage financials")
	require.NotNil(t, res)

	assert.False(t, res.Report.Complete)
	got, ok := res.Context.Get(Revenue)
	assert.True(t, ok)
	assert.Equal(t, stageOutput(Revenue), got)
	_, ok = res.Context.Get(Financials)
	assert.False(t, ok)
	_, ok = res.Context.Get(InvestmentRecommendation)
	assert.False(t, ok)
	assert.Equal(t, MissingPlaceholder, res.Report.Sections[Financials].Content)
}

func TestRunStageFailurePlaceholder(t *testing.T) {
	fields := stageFields(t)
	impl := collectingAdapter(func(req *adapter.Request) (*adapter.Response, error) {
		field := fields[req.System]
		if field == Risk {
			return nil, errors.New("model refused")
		}
		return textResponse(stageOutput(field)), nil
	})

	r := newTestRunner(t, impl, RunnerOptions{FailurePolicy: StageFailurePlaceholder})
	res, err := r.Run(context.Background(), testSubject)
	require.NoError(t, err)

	assert.False(t, res.Report.Complete)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "stage risk failed")

	got, ok := res.Context.Get(Risk)
	require.True(t, ok)
	assert.Equal(t, "[risk unavailable: model refused]", got)
	got, _ = res.Context.Get(InvestmentRecommendation)
	assert.Equal(t, stageOutput(InvestmentRecommendation), got)
}

func TestRunEmptyStageOutput(t *testing.T) {
	fields := stageFields(t)
	impl := collectingAdapter(func(req *adapter.Request) (*adapter.Response, error) {
		field := fields[req.System]
		if field == Capex {
			return textResponse("  \n"), nil
		}
		return textResponse(stageOutput(field)), nil
	})

	r := newTestRunner(t, impl, RunnerOptions{})
	res, err := r.Run(context.Background(), testSubject)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyAnalysis)
	assert.False(t, res.Report.Complete)
	_, ok := res.Context.Get(Capex)
	assert.False(t, ok)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	fields := stageFields(t)
	var (
		mu       sync.Mutex
		attempts int
	)
	impl := collectingAdapter(func(req *adapter.Request) (*adapter.Response, error) {
		field := fields[req.System]
		if field == Growth {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return nil, &adapter.AdapterError{Provider: "func", Status: 503, Err: errors.New("overloaded")}
			}
		}
		return textResponse(stageOutput(field)), nil
	})

	r := newTestRunner(t, impl, RunnerOptions{})
	res, err := r.Run(context.Background(), testSubject)
	require.NoError(t, err)
	assert.True(t, res.Report.Complete)
	assert.Equal(t, 2, attempts)

	var growth adapter.CallReport
	for _, call := range res.Calls {
		if call.Stage == "growth" {
			growth = call
		}
	}
	assert.Equal(t, 1, growth.Retries)
	assert.Empty(t, growth.Error)
}

func TestRunCollectionExhaustedContinues(t *testing.T) {
	manifest, responses := stageResponses(t)
	mock := adapter.NewMockAdapterWithResponses(responses, "")
	mock.Enqueue(adapter.ScriptedReply{ToolCalls: []adapter.ToolCall{
		toolCall("1", tools.FetchWebpage, testSubject.Pages[0]),
	}})
	settings := fastSettings()
	settings.Collection.MaxTurns = 3

	r := newTestRunner(t, mock, RunnerOptions{Manifest: manifest, Settings: settings})
	res, err := r.Run(context.Background(), testSubject)
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, res.Collection.State)
	assert.False(t, res.Report.Complete)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "missing: parse_pdf")
	assert.Empty(t, res.Context.Missing(), "analysis still runs every stage")
}

func TestRunCanceledMidway(t *testing.T) {
	fields := stageFields(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	impl := collectingAdapter(func(req *adapter.Request) (*adapter.Response, error) {
		field := fields[req.System]
		if field == Growth {
			cancel()
			return nil, context.Canceled
		}
		return textResponse(stageOutput(field)), nil
	})

	dir := t.TempDir()
	r := newTestRunner(t, impl, RunnerOptions{EvidenceDir: dir, FailurePolicy: StageFailurePlaceholder})
	res, err := r.Run(ctx, testSubject)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.False(t, res.Report.Complete)
	assert.Len(t, res.Context.Missing(), 5)
	_, ok := res.Context.Get(Financials)
	assert.True(t, ok)

	data, err := os.ReadFile(filepath.Join(res.EvidenceDir, "run.json"))
	require.NoError(t, err)
	var record evidence.RunRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.False(t, record.Complete)
	assert.Contains(t, record.Error, "canceled")
}

func TestRunWritesEvidence(t *testing.T) {
	manifest, responses := stageResponses(t)
	mock := adapter.NewMockAdapterWithResponses(responses, "")
	scriptedCollection(mock)

	dir := t.TempDir()
	r := newTestRunner(t, mock, RunnerOptions{Manifest: manifest, EvidenceDir: dir})
	res, err := r.Run(context.Background(), testSubject)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, res.RunID), res.EvidenceDir)

	report, err := os.ReadFile(filepath.Join(res.EvidenceDir, "report.md"))
	require.NoError(t, err)
	assert.Equal(t, res.Report.Text(), string(report))

	var run evidence.RunRecord
	data, err := os.ReadFile(filepath.Join(res.EvidenceDir, "run.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &run))
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, "Acme Industries", run.Company)
	assert.True(t, run.Complete)

	var collection evidence.CollectionRecord
	data, err = os.ReadFile(filepath.Join(res.EvidenceDir, "collection.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &collection))
	assert.Equal(t, "done", collection.State)
	assert.NotEmpty(t, collection.SummaryRef)

	for _, f := range Fields() {
		var stage evidence.StageRecord
		data, err := os.ReadFile(filepath.Join(res.EvidenceDir, "stages", f.String()+".json"))
		require.NoError(t, err, f.String())
		require.NoError(t, json.Unmarshal(data, &stage))
		assert.NotEmpty(t, stage.PromptHash)
		output, err := os.ReadFile(filepath.Join(res.EvidenceDir, filepath.FromSlash(stage.OutputRef)))
		require.NoError(t, err)
		assert.Equal(t, stageOutput(f), string(output))
	}

	toolFiles, err := os.ReadDir(filepath.Join(res.EvidenceDir, "tools"))
	require.NoError(t, err)
	require.Len(t, toolFiles, 2)
	assert.Equal(t, "01-fetch_webpage.json", toolFiles[0].Name())
	assert.Equal(t, "02-parse_pdf.json", toolFiles[1].Name())

	info, err := os.Stat(res.EvidenceDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Tools: tools.NewRegistry()})
	assert.Error(t, err, "adapter required")

	_, err = NewRunner(RunnerOptions{Adapter: adapter.NewMockAdapter()})
	assert.Error(t, err, "tools required")

	// The default manifest offers tools this registry lacks.
	reg := tools.NewRegistry()
	reg.Register(&stubTool{name: tools.FetchWebpage})
	_, err = NewRunner(RunnerOptions{Adapter: adapter.NewMockAdapter(), Tools: reg})
	assert.Error(t, err)

	manifest, err := DefaultManifest()
	require.NoError(t, err)
	manifest.Stages[0].Adapter = "nowhere"
	_, err = NewRunner(RunnerOptions{
		Adapter:  adapter.NewMockAdapter(),
		Tools:    newStubRegistry(&stubTool{name: tools.FetchWebpage}, &stubTool{name: tools.ParsePDF}),
		Manifest: manifest,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter nowhere not found")
}

func TestRunnerStageAdapterOverride(t *testing.T) {
	manifest, responses := stageResponses(t)
	manifest.Stages[Risk].Adapter = "func"
	manifest.Stages[Risk].Model = "func-1"

	mock := adapter.NewMockAdapterWithResponses(responses, "")
	scriptedCollection(mock)
	override := &funcAdapter{fn: func(req *adapter.Request) (*adapter.Response, error) {
		return textResponse("risk from override"), nil
	}}

	r := newTestRunner(t, mock, RunnerOptions{
		Manifest: manifest,
		Adapters: map[string]adapter.Adapter{"func": override},
	})
	res, err := r.Run(context.Background(), testSubject)
	require.NoError(t, err)

	got, _ := res.Context.Get(Risk)
	assert.Equal(t, "risk from override", got)
	assert.Len(t, mock.Requests(), 10)
}
