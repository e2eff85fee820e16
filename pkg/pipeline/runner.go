package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zen-systems/stockbrief/pkg/adapter"
	"github.com/zen-systems/stockbrief/pkg/config"
	"github.com/zen-systems/stockbrief/pkg/evidence"
	"github.com/zen-systems/stockbrief/pkg/tools"
	"go.uber.org/zap"
)

// FailurePolicy decides what happens when an analysis stage fails.
type FailurePolicy int

const (
	// StageFailureAbort stops the run and returns the error.
	StageFailureAbort FailurePolicy = iota
	// StageFailurePlaceholder writes a placeholder for the field, records a
	// warning and carries on.
	StageFailurePlaceholder
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Adapter serves every stage that does not name its own.
	Adapter adapter.Adapter
	Model   string
	// Adapters resolves per-stage adapter overrides by name.
	Adapters      map[string]adapter.Adapter
	Tools         *tools.Registry
	Manifest      *Pipeline
	Settings      *config.Settings
	EvidenceDir   string
	FailurePolicy FailurePolicy
	Logger        *zap.Logger
}

// RunResult captures pipeline outputs. On error it still holds whatever the
// run produced before failing.
type RunResult struct {
	RunID       string
	Context     Context
	Report      Report
	Warnings    []string
	Usage       adapter.Usage
	Calls       []adapter.CallReport
	Collection  *CollectionResult
	EvidenceDir string
}

// Runner executes research runs. It holds no per-run state and may be used
// from several goroutines.
type Runner struct {
	opts     RunnerOptions
	manifest *Pipeline
	settings *config.Settings
	logger   *zap.Logger
}

// NewRunner validates opts and the stage manifest.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	manifest := opts.Manifest
	if manifest == nil {
		var err error
		manifest, err = DefaultManifest()
		if err != nil {
			return nil, fmt.Errorf("load default manifest: %w", err)
		}
	}
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if _, err := opts.Tools.Specs(manifest.Collector.AvailableTools()...); err != nil {
		return nil, err
	}

	r := &Runner{
		opts:     opts,
		manifest: manifest,
		settings: opts.Settings,
		logger:   opts.Logger,
	}
	if r.settings == nil {
		r.settings = config.DefaultSettings()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	if _, _, err := r.resolve(manifest.Collector.Adapter, manifest.Collector.Model); err != nil {
		return nil, fmt.Errorf("collector: %w", err)
	}
	for _, stage := range manifest.Stages {
		if _, _, err := r.resolve(stage.Adapter, stage.Model); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return r, nil
}

// Manifest returns the validated stage catalog.
func (r *Runner) Manifest() *Pipeline {
	return r.manifest
}

// resolve picks the adapter and model for a stage that may override them.
func (r *Runner) resolve(adapterName, model string) (adapter.Adapter, string, error) {
	if adapterName == "" || adapterName == r.opts.Adapter.Name() {
		if model == "" {
			model = r.opts.Model
		}
		return r.opts.Adapter, model, nil
	}
	impl, ok := r.opts.Adapters[adapterName]
	if !ok {
		return nil, "", fmt.Errorf("adapter %s not found", adapterName)
	}
	return impl, model, nil
}

// Run researches subject: collection, then every analysis stage in order,
// then report assembly.
func (r *Runner) Run(ctx context.Context, subject Subject) (*RunResult, error) {
	if strings.TrimSpace(subject.Company) == "" {
		return nil, fmt.Errorf("company name is required")
	}
	if len(subject.Sources()) == 0 {
		return nil, fmt.Errorf("at least one page or document URL is required")
	}

	runID := newRunID()
	logger := r.logger.With(zap.String("run_id", runID))
	start := time.Now()

	writer, err := r.prepareEvidenceWriter(runID)
	if err != nil {
		return nil, err
	}

	state := &runState{
		result:  &RunResult{RunID: runID, Context: NewContext(subject)},
		tracker: &usageTracker{},
		writer:  writer,
		logger:  logger,
		start:   start,
	}
	if writer != nil {
		state.result.EvidenceDir = writer.RunDir()
	}

	logger.Info("research run started",
		zap.String("company", subject.Company),
		zap.Strings("sources", subject.Sources()))

	pc := state.result.Context
	collection, err := r.collect(ctx, state, subject)
	state.result.Collection = collection
	if err != nil && !errors.Is(err, ErrCollectionExhausted) {
		return r.finish(state, pc, err)
	}
	if err != nil {
		state.warn(fmt.Sprintf("data collection exhausted after %d turns and %d tool calls; missing: %s",
			collection.Turns, collection.ToolCalls, strings.Join(collection.Missing, ", ")))
	}
	pc, err = pc.WithCollection(collection.Responses, collection.Summary)
	if err != nil {
		return r.finish(state, pc, err)
	}

	policy := policyFromSettings(r.settings, logger)
	for _, stage := range r.manifest.Stages {
		impl, model, _ := r.resolve(stage.Adapter, stage.Model)
		call := stageCall{stage: stage, adapter: impl, model: model}
		stageLogger := logger.With(zap.String("stage", stage.Name()))

		stageStart := time.Now()
		text, report, payload, err := analyze(ctx, call, pc, policy)
		state.tracker.record(report)

		placeholder := false
		if err != nil {
			if ctx.Err() != nil || r.opts.FailurePolicy == StageFailureAbort {
				writeStageEvidence(state.writer, call, payload, "", report, false, time.Since(stageStart), stageLogger)
				return r.finish(state, pc, fmt.Errorf("stage %s: %w", stage.Name(), err))
			}
			text = fmt.Sprintf("[%s unavailable: %v]", stage.Name(), err)
			placeholder = true
			state.warn(fmt.Sprintf("stage %s failed: %v", stage.Name(), err))
		}
		writeStageEvidence(state.writer, call, payload, text, report, placeholder, time.Since(stageStart), stageLogger)

		pc, err = pc.With(stage.Field, text)
		if err != nil {
			return r.finish(state, pc, err)
		}
		stageLogger.Info("stage complete",
			zap.Int("chars", len(text)),
			zap.Int("retries", report.Retries),
			zap.Duration("elapsed", time.Since(stageStart)))
	}

	return r.finish(state, pc, nil)
}

func (r *Runner) collect(ctx context.Context, state *runState, subject Subject) (*CollectionResult, error) {
	impl, model, _ := r.resolve(r.manifest.Collector.Adapter, r.manifest.Collector.Model)
	collector := &Collector{
		adapter:      impl,
		model:        model,
		tools:        r.opts.Tools,
		spec:         r.manifest.Collector,
		maxTurns:     r.settings.Collection.MaxTurns,
		maxToolCalls: r.settings.Collection.MaxToolCalls,
		policy:       policyFromSettings(r.settings, state.logger),
		usage:        state.tracker,
		evidence:     state.writer,
		logger:       state.logger.With(zap.String("stage", "data_collection")),
	}

	start := time.Now()
	res, err := collector.Collect(ctx, subject)
	if state.writer != nil && res != nil {
		record := evidence.CollectionRecord{
			State:          res.State.String(),
			Turns:          res.Turns,
			ToolCalls:      res.ToolCalls,
			Observed:       res.Observed,
			Missing:        res.Missing,
			DurationMillis: time.Since(start).Milliseconds(),
		}
		if err != nil {
			record.Error = err.Error()
		}
		if res.Summary != "" {
			if ref, _, werr := state.writer.WriteBlob("summary", []byte(res.Summary)); werr == nil {
				record.SummaryRef = ref
			}
		}
		if werr := state.writer.WriteCollection(record); werr != nil {
			state.logger.Warn("failed to write collection evidence", zap.Error(werr))
		}
	}
	return res, err
}

// finish assembles the report from whatever the context holds, writes the
// run evidence and returns the result alongside runErr.
func (r *Runner) finish(state *runState, pc Context, runErr error) (*RunResult, error) {
	res := state.result
	res.Context = pc
	res.Warnings = append([]string(nil), state.warnings...)
	res.Usage, res.Calls = state.tracker.snapshot()

	report := Assemble(pc)
	report.Warnings = res.Warnings
	if runErr != nil || len(res.Warnings) > 0 {
		report.Complete = false
	}
	res.Report = report

	if state.writer != nil {
		if err := state.writer.WriteReport(report.Text()); err != nil {
			state.logger.Warn("failed to write report evidence", zap.Error(err))
		}
		subject := pc.Subject()
		record := evidence.RunRecord{
			ID:             res.RunID,
			Timestamp:      state.start.UTC(),
			Company:        subject.Company,
			Sources:        subject.Sources(),
			Adapter:        r.opts.Adapter.Name(),
			Model:          r.opts.Model,
			Complete:       report.Complete,
			Warnings:       res.Warnings,
			Usage:          res.Usage,
			DurationMillis: time.Since(state.start).Milliseconds(),
		}
		if runErr != nil {
			record.Error = runErr.Error()
		}
		if err := state.writer.WriteRun(record); err != nil {
			state.logger.Warn("failed to write run evidence", zap.Error(err))
		}
	}

	if runErr != nil {
		state.logger.Error("research run failed", zap.Error(runErr))
		return res, runErr
	}
	state.logger.Info("research run complete",
		zap.Bool("complete", report.Complete),
		zap.Int("warnings", len(res.Warnings)),
		zap.Int("total_tokens", res.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(state.start)))
	return res, nil
}

func (r *Runner) prepareEvidenceWriter(runID string) (*evidence.Writer, error) {
	if r.opts.EvidenceDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(r.opts.EvidenceDir, 0700); err != nil {
		return nil, err
	}
	return evidence.NewWriter(r.opts.EvidenceDir, runID)
}

type runState struct {
	result   *RunResult
	tracker  *usageTracker
	writer   *evidence.Writer
	logger   *zap.Logger
	warnings []string
	start    time.Time
}

func (s *runState) warn(msg string) {
	s.warnings = append(s.warnings, msg)
	s.logger.Warn(msg)
}

func newRunID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}
