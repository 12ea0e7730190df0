package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"talon/internal/audit"
	"talon/internal/logger"
	"talon/internal/safety"
)

// Txn is one unit of trading work run through the lifecycle. Execute is the
// only required step.
type Txn struct {
	Kind       string
	Strategy   string
	Instrument string
	Validate   func(ctx context.Context) error
	Execute    func(ctx context.Context) (json.RawMessage, error)
	PostProc   func(ctx context.Context) error
	OnFailure  func(ctx context.Context, err error)
}

// Counters is a snapshot of lifecycle totals.
type Counters struct {
	Total           int64
	Completed       int64
	Failed          int64
	LastTransaction time.Time
}

// Lifecycle runs every transaction through the same phases: kill-switch
// guard, validate, execute, post-process. Failures in any phase are wrapped
// with the transaction id and elapsed time, and every terminal outcome lands
// in the audit log.
type Lifecycle struct {
	gate *safety.Gate
	log  *audit.Log

	seq       atomic.Int64
	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	lastTxn   atomic.Int64 // unix nanos of the last completed transaction
}

func NewLifecycle(gate *safety.Gate, log *audit.Log) *Lifecycle {
	return &Lifecycle{gate: gate, log: log}
}

func (l *Lifecycle) nextID() string {
	return time.Now().UTC().Format("20060102150405") + "-" + strconv.FormatInt(l.seq.Add(1), 10)
}

// Run executes txn. The kill-switch guard fails the transaction before any
// other step; post-process failures fail the whole transaction even though
// the broker call succeeded, so callers see that local state may lag.
func (l *Lifecycle) Run(ctx context.Context, txn Txn) error {
	txnID := l.nextID()
	start := time.Now()
	l.total.Add(1)

	fail := func(err error) error {
		l.failed.Add(1)
		wrapped := &ExecutionError{TxnID: txnID, Kind: txn.Kind, Elapsed: time.Since(start), Err: err}
		logger.Errorf("txn %s (%s %s): %v", txnID, txn.Kind, txn.Instrument, err)
		if txn.OnFailure != nil {
			txn.OnFailure(ctx, err)
		}
		l.record(ctx, txnID, txn, audit.StatusFailed, nil, wrapped.Error(), start)
		return wrapped
	}

	if err := l.gate.Guard(txn.Kind); err != nil {
		return fail(err)
	}
	if txn.Validate != nil {
		if err := txn.Validate(ctx); err != nil {
			return fail(err)
		}
	}
	detail, err := txn.Execute(ctx)
	if err != nil {
		return fail(err)
	}
	if txn.PostProc != nil {
		// Best effort: the broker already has the order, so a bookkeeping
		// failure here must not fail the transaction. Reconciliation heals
		// whatever was missed.
		if err := txn.PostProc(ctx); err != nil {
			logger.Warnf("txn %s (%s %s): post-processing failed: %v", txnID, txn.Kind, txn.Instrument, err)
		}
	}

	l.completed.Add(1)
	l.lastTxn.Store(time.Now().UnixNano())
	l.record(ctx, txnID, txn, audit.StatusCompleted, detail, "", start)
	logger.Infof("txn %s (%s %s) completed in %s",
		txnID, txn.Kind, txn.Instrument, time.Since(start).Round(time.Millisecond))
	return nil
}

func (l *Lifecycle) record(ctx context.Context, txnID string, txn Txn, status string, detail json.RawMessage, errMsg string, start time.Time) {
	err := l.log.Append(ctx, audit.Record{
		TxnID:      txnID,
		Kind:       txn.Kind,
		Strategy:   txn.Strategy,
		Instrument: txn.Instrument,
		Status:     status,
		Detail:     detail,
		Error:      errMsg,
		ElapsedMS:  time.Since(start).Milliseconds(),
	})
	if err != nil {
		logger.Warnf("txn %s: audit append failed: %v", txnID, err)
	}
}

func (l *Lifecycle) Counters() Counters {
	c := Counters{
		Total:     l.total.Load(),
		Completed: l.completed.Load(),
		Failed:    l.failed.Load(),
	}
	if ns := l.lastTxn.Load(); ns > 0 {
		c.LastTransaction = time.Unix(0, ns).UTC()
	}
	return c
}
