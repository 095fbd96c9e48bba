// Package dispatcher polls due notifications, delivers them and hands
// failures to the retry manager.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notifyengine/internal/events"
	"notifyengine/internal/model"
	"notifyengine/internal/push"
	"notifyengine/internal/repository"
	"notifyengine/internal/retry"
	"notifyengine/internal/rules"
	"notifyengine/pkg/logger"
	"notifyengine/pkg/metrics"
	"notifyengine/pkg/trace"
)

// ErrCycleInProgress is returned by RunCycle while another cycle runs.
var ErrCycleInProgress = errors.New("dispatch cycle already in progress")

// CodeRuleNotFound marks notifications whose rule no longer resolves.
const CodeRuleNotFound = "RuleNotFound"

// Renderer turns a rule template into message content.
type Renderer interface {
	Render(t model.Template, vars map[string]string) model.RenderedContent
}

type Dispatcher struct {
	store     repository.NotificationStore
	attempts  repository.AttemptStore
	history   repository.HistoryStore
	users     repository.UserDirectory
	catalog   rules.Catalog
	renderer  Renderer
	transport push.Transport
	retry     *retry.Manager
	mirror    events.Mirror
	logger    *zap.Logger

	interval     time.Duration
	batchSize    int
	workers      int
	claimTimeout time.Duration

	running atomic.Bool
	now     func() time.Time
	newID   func() string
}

func NewDispatcher(
	store repository.NotificationStore,
	attempts repository.AttemptStore,
	history repository.HistoryStore,
	users repository.UserDirectory,
	catalog rules.Catalog,
	renderer Renderer,
	transport push.Transport,
	retryManager *retry.Manager,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:        store,
		attempts:     attempts,
		history:      history,
		users:        users,
		catalog:      catalog,
		renderer:     renderer,
		transport:    transport,
		retry:        retryManager,
		mirror:       events.NopMirror{},
		logger:       logger,
		interval:     15 * time.Second,
		batchSize:    100,
		workers:      8,
		claimTimeout: 5 * time.Minute,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// WithWorkers bounds concurrent deliveries within a cycle.
func (d *Dispatcher) WithWorkers(workers int) *Dispatcher {
	if workers > 0 {
		d.workers = workers
	}
	return d
}

// WithClaimTimeout sets how long a row may sit in in_flight or failed
// before Sweep recovers it.
func (d *Dispatcher) WithClaimTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.claimTimeout = timeout
	}
	return d
}

func (d *Dispatcher) WithMirror(mirror events.Mirror) *Dispatcher {
	d.mirror = mirror
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Start runs a cycle every interval until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting notification dispatcher",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
		zap.Int("workers", d.workers),
		zap.Duration("claim_timeout", d.claimTimeout),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Notification dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
				d.logger.Error("Dispatch cycle failed", zap.Error(err))
			}
		}
	}
}

// PollDue returns up to batchSize pending notifications due at now, earliest
// first and most urgent first among equals.
func (d *Dispatcher) PollDue(ctx context.Context, now time.Time) ([]*model.PendingNotification, error) {
	return d.store.ListDue(ctx, now, d.batchSize)
}

// RunCycle claims due notifications in order and delivers them on a bounded
// pool. It returns how many were claimed. A storage error while claiming
// stops the batch; deliveries already started still finish.
func (d *Dispatcher) RunCycle(ctx context.Context) (int, error) {
	if !d.running.CompareAndSwap(false, true) {
		metrics.IncrementSkippedCycle()
		return 0, ErrCycleInProgress
	}
	defer d.running.Store(false)

	start := time.Now()
	defer func() { metrics.RecordPollCycle(time.Since(start)) }()

	ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	log := logger.WithTrace(ctx, d.logger)

	due, err := d.PollDue(ctx, d.now())
	if err != nil {
		return 0, fmt.Errorf("poll due notifications: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	log.Debug("Processing due notifications", zap.Int("count", len(due)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	claimed := 0
	var claimErr error
	for _, n := range due {
		c, err := d.store.Transition(ctx, n.ID, model.Transition{
			From: model.StatusPending,
			To:   model.StatusInFlight,
			At:   d.now(),
		})
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
			// Cancelled or taken by another worker since the poll.
			continue
		}
		if err != nil {
			claimErr = fmt.Errorf("claim %s: %w", n.ID, err)
			break
		}
		claimed++
		g.Go(func() error {
			d.deliver(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	if claimErr != nil {
		log.Error("Aborted dispatch batch", zap.Int("claimed", claimed), zap.Error(claimErr))
		return claimed, claimErr
	}
	log.Debug("Dispatch cycle finished", zap.Int("claimed", claimed))
	return claimed, nil
}

// deliver takes a claimed notification to sent or failed. Storage errors
// leave the row in_flight for Sweep.
func (d *Dispatcher) deliver(ctx context.Context, n *model.PendingNotification) {
	log := logger.WithTrace(ctx, d.logger).With(
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("rule_id", n.RuleID),
	)

	user, err := d.users.GetUser(ctx, n.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		d.fail(ctx, log, n, push.NewError(push.CodeNoDeliveryTarget, errors.New("user not found")))
		return
	case err != nil:
		d.fail(ctx, log, n, push.Classify(fmt.Errorf("resolve recipient: %w", err)))
		return
	case user.DeviceToken == "":
		d.fail(ctx, log, n, push.NewError(push.CodeNoDeliveryTarget, errors.New("user has no device token")))
		return
	}

	rule, err := d.catalog.GetRule(ctx, n.RuleID)
	if err != nil {
		d.fail(ctx, log, n, push.NewError(CodeRuleNotFound, err))
		return
	}

	content := d.renderer.Render(rule.Template, mergeVariables(n.Variables, user))
	for _, w := range content.Warnings {
		log.Warn("Template placeholder not resolved",
			zap.String("field", w.Field),
			zap.String("placeholder", w.Placeholder),
			zap.String("reason", w.Reason),
		)
	}

	sendErr := d.transport.Send(ctx, push.Message{
		DeviceToken: user.DeviceToken,
		Title:       content.Title,
		Body:        content.Body,
		Priority:    n.Priority,
		Data: map[string]string{
			"notification_id": n.ID,
			"rule_id":         n.RuleID,
			"action_url":      content.ActionURL,
			"action_text":     content.ActionText,
		},
	})
	if sendErr != nil {
		pe := push.Classify(sendErr)
		if pe.Code == push.CodeUnregisteredToken {
			if err := d.users.InvalidateDeviceToken(ctx, user.ID, user.DeviceToken); err != nil {
				log.Warn("Failed to invalidate device token", zap.Error(err))
			}
		}
		d.fail(ctx, log, n, pe)
		return
	}

	d.succeed(ctx, log, n, content)
}

func (d *Dispatcher) succeed(ctx context.Context, log *zap.Logger, n *model.PendingNotification, content model.RenderedContent) {
	now := d.now()
	d.appendAttempt(ctx, log, model.DeliveryAttempt{
		NotificationID: n.ID,
		AttemptNumber:  n.AttemptCount + 1,
		Timestamp:      now,
		Outcome:        model.OutcomeSuccess,
	})
	metrics.RecordDeliveryAttempt(string(model.OutcomeSuccess), "")

	sent, err := d.store.Transition(ctx, n.ID, model.Transition{
		From:          model.StatusInFlight,
		To:            model.StatusSent,
		At:            now,
		ClearError:    true,
		MarkProcessed: true,
	})
	if err != nil {
		log.Error("Failed to mark notification sent", zap.Error(err))
		return
	}

	if err := d.history.Create(ctx, &model.UserNotification{
		ID:             d.newID(),
		UserID:         n.UserID,
		NotificationID: n.ID,
		Title:          content.Title,
		Body:           content.Body,
		ActionURL:      content.ActionURL,
		ActionText:     content.ActionText,
		Priority:       n.Priority,
		CreatedAt:      now,
	}); err != nil {
		log.Error("Failed to write notification history", zap.Error(err))
	}

	d.mirror.Emit(ctx, events.FromNotification(events.TypeSent, sent, now))
	log.Info("Notification sent")
}

// fail records the attempt, moves the row to failed and hands it to the
// retry manager.
func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, n *model.PendingNotification, pe *push.Error) {
	now := d.now()
	d.appendAttempt(ctx, log, model.DeliveryAttempt{
		NotificationID: n.ID,
		AttemptNumber:  n.AttemptCount + 1,
		Timestamp:      now,
		Outcome:        model.OutcomeFailure,
		ErrorCode:      pe.Code,
		Error:          pe.Error(),
		Permanent:      pe.Permanent,
	})
	metrics.RecordDeliveryAttempt(string(model.OutcomeFailure), pe.Code)

	failed, err := d.store.Transition(ctx, n.ID, model.Transition{
		From:              model.StatusInFlight,
		To:                model.StatusFailed,
		At:                now,
		IncrementAttempts: true,
		ErrorCode:         pe.Code,
		Error:             pe.Error(),
	})
	if err != nil {
		log.Error("Failed to mark notification failed", zap.Error(err))
		return
	}

	log.Warn("Delivery failed",
		zap.String("error_code", pe.Code),
		zap.Bool("permanent", pe.Permanent),
		zap.Int("attempt_count", failed.AttemptCount),
		zap.Error(pe.Err),
	)
	d.mirror.Emit(ctx, events.FromNotification(events.TypeFailed, failed, now))

	if _, err := d.retry.HandleFailure(ctx, failed); err != nil {
		log.Error("Retry handoff failed", zap.Error(err))
	}
}

func (d *Dispatcher) appendAttempt(ctx context.Context, log *zap.Logger, a model.DeliveryAttempt) {
	if err := d.attempts.Append(ctx, a); err != nil {
		log.Error("Failed to record delivery attempt", zap.Error(err))
	}
}

// Sweep recovers rows stuck longer than the claim timeout: in_flight rows
// are failed with ClaimTimeout, then they and any stranded failed rows go
// through the retry manager.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	ctx = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, d.logger)
	now := d.now()
	cutoff := now.Add(-d.claimTimeout)

	stuck, err := d.store.ListStale(ctx, model.StatusInFlight, cutoff, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale in_flight: %w", err)
	}

	recovered := 0
	for _, n := range stuck {
		failed, err := d.store.Transition(ctx, n.ID, model.Transition{
			From:              model.StatusInFlight,
			To:                model.StatusFailed,
			At:                now,
			IncrementAttempts: true,
			ErrorCode:         push.CodeClaimTimeout,
			Error:             "claim timed out",
		})
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("fail stale %s: %w", n.ID, err)
		}
		d.appendAttempt(ctx, log, model.DeliveryAttempt{
			NotificationID: n.ID,
			AttemptNumber:  failed.AttemptCount,
			Timestamp:      now,
			Outcome:        model.OutcomeFailure,
			ErrorCode:      push.CodeClaimTimeout,
			Error:          "claim timed out",
		})
		if _, err := d.retry.HandleFailure(ctx, failed); err != nil && !errors.Is(err, repository.ErrConflict) {
			return recovered, fmt.Errorf("retry stale %s: %w", n.ID, err)
		}
		recovered++
	}
	metrics.AddSwept(string(model.StatusInFlight), recovered)

	stranded, err := d.store.ListStale(ctx, model.StatusFailed, cutoff, d.batchSize)
	if err != nil {
		return recovered, fmt.Errorf("list stale failed: %w", err)
	}
	handed := 0
	for _, n := range stranded {
		if _, err := d.retry.HandleFailure(ctx, n); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return recovered + handed, fmt.Errorf("retry stranded %s: %w", n.ID, err)
		}
		handed++
	}
	metrics.AddSwept(string(model.StatusFailed), handed)

	if recovered+handed > 0 {
		log.Info("Swept stuck notifications",
			zap.Int("in_flight", recovered),
			zap.Int("failed", handed),
		)
	}
	return recovered + handed, nil
}

// mergeVariables adds recipient details to the stored variables without
// overriding them.
func mergeVariables(stored map[string]string, user *model.Recipient) map[string]string {
	vars := make(map[string]string, len(stored)+4)
	for k, v := range stored {
		vars[k] = v
	}
	setDefault := func(k, v string) {
		if _, ok := vars[k]; !ok && v != "" {
			vars[k] = v
		}
	}
	setDefault("userId", user.ID)
	setDefault("userName", user.DisplayName)
	setDefault("user.id", user.ID)
	setDefault("user.displayName", user.DisplayName)
	setDefault("user.locale", user.Locale)
	return vars
}
