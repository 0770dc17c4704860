package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deskflow/internal/metrics"
	"deskflow/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// EscalationRunner orchestrates scan passes: it snapshots the active rule
// set once, takes one consistent snapshot per eligible ticket, evaluates
// every (ticket, rule) pair through the pure condition evaluator, applies
// dedup against the execution history, and dispatches fired rules to the
// action executor. Failures are contained per pair; one bad rule or one
// failing gateway never stops the rest of the pass.
type EscalationRunner struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	rules    *EscalationRuleService
	tickets  *TicketService
	history  *EscalationHistory
	executor *ActionExecutor

	workers int

	// optional distributed lock so only one instance scans at a time
	redis   *redis.Client
	lockKey string
	lockTTL time.Duration
}

func NewEscalationRunner(db *gorm.DB, logger *logrus.Logger, rules *EscalationRuleService,
	tickets *TicketService, history *EscalationHistory, executor *ActionExecutor, workers int) *EscalationRunner {
	if logger == nil {
		logger = logrus.New()
	}
	if workers <= 0 {
		workers = 8
	}
	return &EscalationRunner{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("deskflow.escalation.runner"),
		rules:    rules,
		tickets:  tickets,
		history:  history,
		executor: executor,
		workers:  workers,
	}
}

// SetPassLock enables the Redis pass lock (SETNX + TTL). Without it,
// passes rely on the caller to avoid overlap.
func (r *EscalationRunner) SetPassLock(client *redis.Client, key string, ttl time.Duration) {
	r.redis = client
	r.lockKey = key
	if ttl <= 0 {
		ttl = 4 * time.Minute
	}
	r.lockTTL = ttl
}

// PassSummary reports what one scan pass did.
type PassSummary struct {
	PassID         string        `json:"pass_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	TicketsChecked int           `json:"tickets_checked"`
	PairsEvaluated int           `json:"pairs_evaluated"`
	Matched        int           `json:"matched"`
	Deduped        int           `json:"deduped"`
	Executed       int           `json:"executed"`
	Failed         int           `json:"failed"`
}

// ErrPassLocked is returned when another instance holds the pass lock.
var ErrPassLocked = errors.New("escalation pass already running elsewhere")

// RunPass executes one full scan. It is safe to call from a timer, from
// the management API and from the escalator CLI; the optional Redis lock
// serializes concurrent callers.
func (r *EscalationRunner) RunPass(ctx context.Context) (*PassSummary, error) {
	passID := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, "escalation.pass")
	defer span.End()
	span.SetAttributes(attribute.String("escalation.pass_id", passID))

	if r.redis != nil {
		ok, err := r.redis.SetNX(ctx, r.lockKey, passID, r.lockTTL).Result()
		if err != nil {
			r.logger.Warnf("escalation: pass lock unavailable, continuing unlocked: %v", err)
		} else if !ok {
			return nil, ErrPassLocked
		} else {
			defer r.releaseLock(passID)
		}
	}

	summary := &PassSummary{PassID: passID, StartedAt: time.Now()}

	// Rule set is snapshotted once; a rule edited mid-pass does not change
	// behavior within this pass.
	activeRules, err := r.rules.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(activeRules) == 0 {
		r.logger.Debug("escalation: no active rules, pass skipped")
		summary.Duration = time.Since(summary.StartedAt)
		return summary, nil
	}

	ratingRules := false
	for _, rule := range activeRules {
		if rule.ConditionType == models.ConditionCustomerRating {
			ratingRules = true
			break
		}
	}

	// Non-terminal tickets are the scan population. Resolved tickets are
	// pulled in addition only while a customer_rating rule is active,
	// since that condition can only hold after resolution.
	statuses := []string{models.StatusOpen, models.StatusInProgress, models.StatusWaitingForCustomer}
	if ratingRules {
		statuses = append(statuses, models.StatusResolved)
	}
	var tickets []models.Ticket
	if err := r.db.WithContext(ctx).Where("status IN ?", statuses).Find(&tickets).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load tickets for scan: %w", err)
	}
	summary.TicketsChecked = len(tickets)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, r.workers)
	)
	for i := range tickets {
		if ctx.Err() != nil {
			break
		}
		ticket := tickets[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			local := r.scanTicket(ctx, passID, ticket, activeRules)
			mu.Lock()
			summary.PairsEvaluated += local.PairsEvaluated
			summary.Matched += local.Matched
			summary.Deduped += local.Deduped
			summary.Executed += local.Executed
			summary.Failed += local.Failed
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary.Duration = time.Since(summary.StartedAt)
	metrics.RecordEscalationPass(summary.PairsEvaluated, summary.Executed, summary.Failed, summary.Deduped)
	span.SetAttributes(
		attribute.Int("escalation.tickets_checked", summary.TicketsChecked),
		attribute.Int("escalation.executed", summary.Executed),
		attribute.Int("escalation.failed", summary.Failed),
	)
	r.logger.Infof("escalation pass %s: %d tickets, %d pairs, %d executed, %d failed, %d deduped in %s",
		passID, summary.TicketsChecked, summary.PairsEvaluated, summary.Executed, summary.Failed,
		summary.Deduped, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// scanTicket evaluates all rules against one ticket snapshot. Each
// (ticket, rule) unit is independent; a failure is counted and contained.
func (r *EscalationRunner) scanTicket(ctx context.Context, passID string, ticket models.Ticket, rules []models.EscalationRule) PassSummary {
	var local PassSummary

	snap, err := r.tickets.Snapshot(ctx, ticket)
	if err != nil {
		r.logger.Errorf("escalation: snapshot ticket %d failed: %v", ticket.ID, err)
		return local
	}

	for i := range rules {
		if ctx.Err() != nil {
			return local
		}
		rule := rules[i]
		// resolved tickets only participate in rating rules
		if !models.EscalationEligible(ticket.Status) && rule.ConditionType != models.ConditionCustomerRating {
			continue
		}
		local.PairsEvaluated++

		result := EvaluateCondition(rule.ConditionType, rule.ConditionValue, snap, time.Now())
		if !result.Matched {
			continue
		}
		local.Matched++

		dedupKey := DedupKey(ticket.ID, rule.ID, snap.Ticket.Status)
		handled, err := r.history.AlreadyHandled(ctx, dedupKey)
		if err != nil {
			r.logger.Errorf("escalation: dedup check for ticket %d rule %d failed: %v", ticket.ID, rule.ID, err)
			local.Failed++
			continue
		}
		if handled {
			local.Deduped++
			continue
		}

		if err := r.fire(ctx, passID, &rule, snap, dedupKey, result.Evidence); err != nil {
			local.Failed++
		} else {
			local.Executed++
		}
	}
	return local
}

// fire runs the action and its audit row in one transaction so a unit is
// all-or-nothing; a failed action rolls back any partial mutation and gets
// its own failure row instead.
func (r *EscalationRunner) fire(ctx context.Context, passID string, rule *models.EscalationRule, snap *TicketSnapshot, dedupKey, evidence string) error {
	var detail string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var aerr error
		detail, aerr = r.executor.Execute(ctx, tx, rule, snap)
		if aerr != nil {
			return aerr
		}
		return r.history.Record(ctx, tx, &models.EscalationExecution{
			TicketID:   snap.Ticket.ID,
			RuleID:     rule.ID,
			PassID:     passID,
			Outcome:    models.OutcomeExecuted,
			RuleName:   rule.Name,
			ActionType: rule.ActionType,
			Detail:     detail,
			Evidence:   evidence,
			DedupKey:   dedupKey,
		})
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, errStaleTicket) {
		// Concurrent human edit: the mutation was aborted as a no-op and
		// the skip is recorded as handled for the (now stale) epoch.
		recErr := r.history.Record(ctx, nil, &models.EscalationExecution{
			TicketID:   snap.Ticket.ID,
			RuleID:     rule.ID,
			PassID:     passID,
			Outcome:    models.OutcomeExecuted,
			RuleName:   rule.Name,
			ActionType: rule.ActionType,
			Detail:     "no-op: ticket changed state during pass",
			Evidence:   evidence,
			DedupKey:   dedupKey,
		})
		if recErr != nil {
			r.logger.Errorf("escalation: record stale-skip for ticket %d rule %d failed: %v", snap.Ticket.ID, rule.ID, recErr)
		}
		return nil
	}

	r.logger.Warnf("escalation: rule %d (%s) failed on ticket %d: %v", rule.ID, rule.Name, snap.Ticket.ID, err)
	recErr := r.history.Record(ctx, nil, &models.EscalationExecution{
		TicketID:   snap.Ticket.ID,
		RuleID:     rule.ID,
		PassID:     passID,
		Outcome:    models.OutcomeFailed,
		RuleName:   rule.Name,
		ActionType: rule.ActionType,
		Detail:     err.Error(),
		Evidence:   evidence,
		DedupKey:   dedupKey,
	})
	if recErr != nil {
		r.logger.Errorf("escalation: record failure for ticket %d rule %d failed: %v", snap.Ticket.ID, rule.ID, recErr)
	}
	return err
}

func (r *EscalationRunner) releaseLock(passID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := r.redis.Get(ctx, r.lockKey).Result()
	if err == nil && val == passID {
		if err := r.redis.Del(ctx, r.lockKey).Err(); err != nil {
			r.logger.Warnf("escalation: release pass lock failed: %v", err)
		}
	}
}

// StartMonitor runs passes on a fixed interval until ctx is cancelled.
func (r *EscalationRunner) StartMonitor(ctx context.Context, interval time.Duration) {
	r.logger.Infof("Starting escalation monitor, interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Escalation monitor stopped")
			return
		case <-ticker.C:
			if _, err := r.RunPass(ctx); err != nil && !errors.Is(err, ErrPassLocked) {
				r.logger.Errorf("escalation pass error: %v", err)
			}
		}
	}
}
