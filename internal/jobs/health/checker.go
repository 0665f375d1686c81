package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"poolwarden/internal/config"
	"poolwarden/internal/database"
	"poolwarden/internal/domain"
	"poolwarden/internal/metrics"
	"poolwarden/internal/taskrunner"

	"github.com/charmbracelet/log"
)

// Runner executes one bounded probe task through a proxy. Satisfied by
// taskrunner.Client; tests substitute a scripted fake.
type Runner interface {
	Submit(ctx context.Context, task taskrunner.TaskRequest) (string, error)
	Await(ctx context.Context, taskID string) (*taskrunner.TaskStatus, error)
	Cancel(taskID string) error
}

type Checker struct {
	runner  Runner
	policy  *Policy
	timeout time.Duration
}

func NewChecker(runner Runner, policy *Policy, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Checker{runner: runner, policy: policy, timeout: timeout}
}

func CheckerFromConfig(runner Runner) *Checker {
	cfg := config.GetConfig()
	return NewChecker(runner, PolicyFromConfig(), time.Duration(cfg.Health.CheckTimeout)*time.Second)
}

// RunCheck probes one proxy end to end: pick an enabled spec, run it through
// the task runner under a hard deadline, persist the audit row, and feed the
// verdict into the deactivation policy. It never returns an error; anything
// that goes wrong in the checker's own machinery becomes an ERROR outcome,
// which is recorded but does not count against the proxy's failure streak.
func (checker *Checker) RunCheck(ctx context.Context, proxy domain.ProxyServer) (result domain.HealthCheckResult) {
	result = domain.HealthCheckResult{ProxyServerID: proxy.ID}

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = domain.OutcomeError
			result.ErrorMessage = fmt.Sprintf("health check panicked: %v", r)
		}
		checker.finish(ctx, proxy, &result)
	}()

	spec, err := database.RandomEnabledHealthCheckSpec()
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.ErrorMessage = fmt.Sprintf("load health check spec: %v", err)
		return result
	}
	if spec == nil {
		result.Outcome = domain.OutcomeError
		result.ErrorMessage = "no enabled health check spec"
		return result
	}
	result.SpecID = &spec.ID

	probeCtx, cancel := context.WithTimeout(ctx, checker.timeout)
	defer cancel()

	started := time.Now()
	taskID, err := checker.runner.Submit(probeCtx, taskrunner.TaskRequest{
		Prompt:       spec.Prompt,
		OutputSchema: json.RawMessage(taskrunner.BoolResultSchema),
		ProxyURL:     proxyURL(proxy),
	})
	if err != nil {
		result.Outcome = submitFailureOutcome(probeCtx, err)
		result.ErrorMessage = err.Error()
		result.ResponseTimeMs = elapsedMs(started)
		return result
	}

	status, err := checker.runner.Await(probeCtx, taskID)
	result.ResponseTimeMs = elapsedMs(started)

	if err != nil {
		if deadlineHit(probeCtx, err) {
			result.Outcome = domain.OutcomeTimeout
			result.ErrorMessage = fmt.Sprintf("probe exceeded %s deadline", checker.timeout)
			if cancelErr := checker.runner.Cancel(taskID); cancelErr != nil {
				log.Warn("cancel timed-out probe task", "task_id", taskID, "error", cancelErr)
			}
			return result
		}
		result.Outcome = domain.OutcomeError
		result.ErrorMessage = err.Error()
		return result
	}

	applyTaskStatus(&result, status)
	return result
}

// applyTaskStatus maps a terminal task status onto an outcome. A task the
// runner reports as FAILED is a proxy failure; a completed task without the
// expected boolean payload is a checker-side ERROR.
func applyTaskStatus(result *domain.HealthCheckResult, status *taskrunner.TaskStatus) {
	if status.Output != nil {
		if raw, err := json.Marshal(status.Output); err == nil {
			result.RawResult = string(raw)
		}
	}

	switch {
	case status.Status == taskrunner.StatusFailed:
		result.Outcome = domain.OutcomeFailed
		result.ErrorMessage = status.Error
	case status.Status == taskrunner.StatusCompleted && status.Output != nil && status.Output.Result != nil:
		if *status.Output.Result {
			result.Outcome = domain.OutcomePassed
		} else {
			result.Outcome = domain.OutcomeFailed
		}
	default:
		result.Outcome = domain.OutcomeError
		result.ErrorMessage = fmt.Sprintf("task %s finished as %s without a boolean result", status.ID, status.Status)
	}
}

// finish persists the audit row and feeds the verdict into the policy.
// Storage problems are logged, never raised; a check must not take the
// nightly batch down with it.
func (checker *Checker) finish(ctx context.Context, proxy domain.ProxyServer, result *domain.HealthCheckResult) {
	metrics.HealthCheckOutcomes.WithLabelValues(result.Outcome).Inc()

	if err := database.InsertHealthCheckResult(result); err != nil {
		log.Error("persist health check result", "proxy_id", proxy.ID, "error", err)
	}

	// ERROR means the checker could not produce a verdict; it must not
	// move the failure streak in either direction.
	if result.Outcome == domain.OutcomeError || checker.policy == nil {
		return
	}

	if _, err := checker.policy.RecordHealthCheck(ctx, proxy.ID, result.Passed()); err != nil {
		log.Error("record health check verdict", "proxy_id", proxy.ID, "error", err)
	}
}

func submitFailureOutcome(probeCtx context.Context, err error) string {
	if deadlineHit(probeCtx, err) {
		return domain.OutcomeTimeout
	}
	return domain.OutcomeError
}

func deadlineHit(probeCtx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(probeCtx.Err(), context.DeadlineExceeded)
}

func elapsedMs(started time.Time) uint32 {
	ms := time.Since(started).Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

func proxyURL(proxy domain.ProxyServer) string {
	u := url.URL{Scheme: "http", Host: proxy.Address()}
	if proxy.HasAuth() {
		u.User = url.UserPassword(proxy.Username, proxy.Password)
	}
	return u.String()
}
