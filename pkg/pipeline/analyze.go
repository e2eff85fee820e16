package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/stockbrief/pkg/adapter"
	"github.com/zen-systems/stockbrief/pkg/evidence"
	"go.uber.org/zap"
)

// stageCall is one analysis stage bound to an adapter and model.
type stageCall struct {
	stage   *Stage
	adapter adapter.Adapter
	model   string
}

// ErrEmptyAnalysis is returned when a stage reply carries no text.
var ErrEmptyAnalysis = errors.New("empty analysis")

// analyze runs one analysis stage against pc. The returned text is the
// model's reply, verbatim.
func analyze(ctx context.Context, call stageCall, pc Context, policy callPolicy) (string, adapter.CallReport, string, error) {
	payload, err := json.Marshal(pc)
	if err != nil {
		return "", adapter.CallReport{Stage: call.stage.Name()}, "", fmt.Errorf("serialize context: %w", err)
	}

	req := &adapter.Request{
		Model:     call.model,
		System:    call.stage.Instruction,
		Messages:  []adapter.Message{adapter.UserText(string(payload))},
		MaxTokens: call.stage.MaxTokens,
	}
	resp, report, err := callAdapterWithPolicy(ctx, call.adapter, req, call.stage.Name(), policy)
	if err != nil {
		return "", report, string(payload), err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		report.Error = ErrEmptyAnalysis.Error()
		return "", report, string(payload), fmt.Errorf("%s: %w", report.Adapter, ErrEmptyAnalysis)
	}
	return text, report, string(payload), nil
}

func writeStageEvidence(writer *evidence.Writer, call stageCall, payload, output string, report adapter.CallReport, placeholder bool, elapsed time.Duration, logger *zap.Logger) {
	if writer == nil {
		return
	}
	record := evidence.StageRecord{
		Name:           call.stage.Name(),
		Title:          call.stage.Title,
		Adapter:        report.Adapter,
		Model:          report.Model,
		Retries:        report.Retries,
		Usage:          report.Usage,
		Placeholder:    placeholder,
		Error:          report.Error,
		DurationMillis: elapsed.Milliseconds(),
	}
	if payload != "" {
		prompt := call.stage.Instruction + "\n\n" + payload
		if ref, sha, err := writer.WriteBlob("prompt", []byte(prompt)); err == nil {
			record.PromptRef, record.PromptHash = ref, sha
		} else {
			logger.Warn("failed to write prompt blob", zap.String("stage", record.Name), zap.Error(err))
		}
	}
	if output != "" {
		if ref, sha, err := writer.WriteBlob("output", []byte(output)); err == nil {
			record.OutputRef, record.OutputHash = ref, sha
		} else {
			logger.Warn("failed to write output blob", zap.String("stage", record.Name), zap.Error(err))
		}
	}
	if err := writer.WriteStage(record); err != nil {
		logger.Warn("failed to write stage evidence", zap.String("stage", record.Name), zap.Error(err))
	}
}
