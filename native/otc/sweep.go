package otc

import (
	"time"

	"otcledger/native/credit"
	"otcledger/observability"
)

// HistoryStore receives the compact facts of an order leaving the live index.
type HistoryStore interface {
	ArchiveOrder(order *Order) error
}

// SetHistory configures the archive sink. Without one, archived orders are
// simply dropped from the live index.
func (e *Engine) SetHistory(store HistoryStore) { e.history = store }

// SweepReport summarizes one maintenance pass.
type SweepReport struct {
	Scanned   int
	Processed int
	Retried   int
}

// ExpirySweep reclaims unpaid orders whose payment window elapsed, touching
// at most max eligible orders per invocation. An order whose refund fails is
// left untouched and retried on a later pass; the failure never aborts the
// sweep. Failed refunds still count against the batch bound so a run of
// broken orders cannot stretch one pass unbounded.
func (e *Engine) ExpirySweep(max int) (SweepReport, error) {
	var report SweepReport
	if err := e.ready(); err != nil {
		return report, err
	}
	start := time.Now()
	defer func() {
		observability.ObserveSweep("expiry", time.Since(start))
	}()
	e.mu.Lock()
	defer e.mu.Unlock()
	ids, err := e.state.OrderIDs()
	if err != nil {
		return report, err
	}
	now := e.now()
	for _, id := range ids {
		if max > 0 && report.Scanned >= max {
			break
		}
		order, ok, err := e.state.OrderGet(id)
		if err != nil {
			return report, err
		}
		if !ok {
			continue
		}
		order.Sanitize()
		if order.State != StateCreated || now <= order.ExpireAt {
			continue
		}
		report.Scanned++
		if _, err := e.escrow.RefundAll(order.ID, order.Maker); err != nil {
			report.Retried++
			observability.IncRefundRetry()
			continue
		}
		if err := e.credit.ReleaseQuota(order.Taker, order.AmountUSD); err != nil {
			return report, err
		}
		if err := e.releaseFirstPurchase(order); err != nil {
			return report, err
		}
		if err := e.finalize(order, StateExpired, EventTypeOrderExpired); err != nil {
			return report, err
		}
		observability.IncOrderExpired()
		report.Processed++
	}
	return report, nil
}

// RecordPaymentTimeout folds a payment-timeout violation into the taker's
// profile for an expired order. Kept separate from the expiry sweep so that
// reclamation itself stays a pure maintenance action; the risk layer decides
// when an expiry is taker fault.
func (e *Engine) RecordPaymentTimeout(orderID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.getOrder(orderID)
	if err != nil {
		return err
	}
	if order.State != StateExpired {
		return ErrInvalidStateTransition
	}
	return e.credit.RecordViolation(order.Taker, credit.Violation{
		Kind:      credit.ViolationPaymentTimeout,
		OrderID:   order.ID,
		AmountUSD: order.AmountUSD,
	})
}

// ArchiveSweep removes terminal orders older than the retention threshold
// from the primary index and both party indexes, persisting their compact
// facts to the history store first. Bounded to max orders per invocation.
func (e *Engine) ArchiveSweep(max int) (SweepReport, error) {
	var report SweepReport
	if e == nil || e.state == nil {
		return report, errNilState
	}
	start := time.Now()
	defer func() {
		observability.ObserveSweep("archive", time.Since(start))
	}()
	e.mu.Lock()
	defer e.mu.Unlock()
	ids, err := e.state.OrderIDs()
	if err != nil {
		return report, err
	}
	now := e.now()
	for _, id := range ids {
		if max > 0 && report.Scanned >= max {
			break
		}
		order, ok, err := e.state.OrderGet(id)
		if err != nil {
			return report, err
		}
		if !ok {
			continue
		}
		order.Sanitize()
		if !order.State.Terminal() {
			continue
		}
		if order.CompletedAt == 0 || now-order.CompletedAt < e.params.RetentionSecs {
			continue
		}
		report.Scanned++
		if e.history != nil {
			if err := e.history.ArchiveOrder(order.Clone()); err != nil {
				report.Retried++
				continue
			}
		}
		if err := e.state.OrderIndexRemove(order); err != nil {
			return report, err
		}
		if err := e.state.OrderRemove(order.ID); err != nil {
			return report, err
		}
		e.emit(NewOrderEvent(EventTypeOrderArchived, order))
		observability.IncOrderArchived()
		report.Processed++
	}
	return report, nil
}
