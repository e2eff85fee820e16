package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/zen-systems/stockbrief/pkg/adapter"
	"github.com/zen-systems/stockbrief/pkg/config"
	"go.uber.org/zap"
)

// callPolicy bounds a single logical inference call.
type callPolicy struct {
	retry   config.RetryConfig
	timeout time.Duration
	logger  *zap.Logger
}

func policyFromSettings(s *config.Settings, logger *zap.Logger) callPolicy {
	if s == nil {
		s = config.DefaultSettings()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return callPolicy{retry: s.Retry, timeout: s.Timeouts.Inference(), logger: logger}
}

// callAdapterWithPolicy retries transient failures with exponential backoff.
// Each attempt runs under the per-call timeout; cancellation of ctx stops
// retrying immediately.
func callAdapterWithPolicy(
	ctx context.Context,
	adapterImpl adapter.Adapter,
	req *adapter.Request,
	stage string,
	policy callPolicy,
) (*adapter.Response, adapter.CallReport, error) {
	report := adapter.CallReport{
		Stage:   stage,
		Adapter: adapterImpl.Name(),
		Model:   req.Model,
	}
	var lastErr error

	for attempt := 0; attempt <= policy.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			report.Error = err.Error()
			return nil, report, err
		}

		resp, err := generateWithTimeout(ctx, adapterImpl, req, policy.timeout)
		if err == nil {
			report.Usage = normalizeUsage(resp.Usage)
			report.Retries = attempt
			return resp, report, nil
		}

		lastErr = err
		report.Retries = attempt
		if ctx.Err() != nil || !adapter.IsTransient(err) || attempt == policy.retry.MaxRetries {
			break
		}

		backoff := computeBackoff(policy.retry.BaseBackoffMs, policy.retry.MaxBackoffMs, attempt)
		policy.logger.Warn("transient inference failure, retrying",
			zap.String("stage", stage),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := sleepWithContext(ctx, backoff); err != nil {
			report.Error = err.Error()
			return nil, report, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("adapter call failed")
	}
	report.Error = lastErr.Error()
	return nil, report, lastErr
}

func generateWithTimeout(ctx context.Context, adapterImpl adapter.Adapter, req *adapter.Request, timeout time.Duration) (*adapter.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return adapterImpl.Generate(ctx, req)
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= time.Duration(maxMs)*time.Millisecond {
			return time.Duration(maxMs) * time.Millisecond
		}
	}
	if backoff > time.Duration(maxMs)*time.Millisecond {
		return time.Duration(maxMs) * time.Millisecond
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
