package ledger

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var terminalStatuses = []string{"filled", "cancelled", "rejected", "expired"}

// RecordOrder inserts the order, ignoring duplicates on the broker order id.
// Returns true when a new row was written. Reconciliation replays rely on
// this being safe to call repeatedly with the same order.
func (s *Store) RecordOrder(o *Order) (bool, error) {
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(o)
	if res.Error != nil {
		return false, fmt.Errorf("ledger: record order %s: %w", o.OrderID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// OrderUpdate carries the fields an update may change. Nil fields keep the
// stored value.
type OrderUpdate struct {
	Status         string
	FilledQuantity *float64
	FilledAvgPrice *float64
	Notes          *string
}

// UpdateOrder applies a partial update. FilledAt is stamped exactly once, on
// the transition into "filled".
func (s *Store) UpdateOrder(orderID string, upd OrderUpdate) error {
	var existing Order
	err := s.db.Where("order_id = ?", orderID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("ledger: update order %s: not found", orderID)
	}
	if err != nil {
		return fmt.Errorf("ledger: update order %s: %w", orderID, err)
	}

	fields := map[string]any{}
	if upd.Status != "" {
		fields["status"] = upd.Status
		if upd.Status == "filled" && existing.FilledAt == nil {
			fields["filled_at"] = time.Now().UTC()
		}
	}
	if upd.FilledQuantity != nil {
		fields["filled_quantity"] = *upd.FilledQuantity
	}
	if upd.FilledAvgPrice != nil {
		fields["filled_avg_price"] = *upd.FilledAvgPrice
	}
	if upd.Notes != nil {
		fields["notes"] = *upd.Notes
	}
	if len(fields) == 0 {
		return nil
	}
	err = s.db.Model(&Order{}).Where("order_id = ?", orderID).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("ledger: update order %s: %w", orderID, err)
	}
	return nil
}

func (s *Store) GetOrder(orderID string) (*Order, error) {
	var o Order
	err := s.db.Where("order_id = ?", orderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get order %s: %w", orderID, err)
	}
	return &o, nil
}

// OrderFilter narrows Orders queries. Zero fields are ignored.
type OrderFilter struct {
	Strategy   string
	Instrument string
	Status     string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Orders lists matching rows newest first.
func (s *Store) Orders(f OrderFilter) ([]Order, error) {
	q := s.db.Order("submitted_at DESC")
	if f.Strategy != "" {
		q = q.Where("strategy = ?", f.Strategy)
	}
	if f.Instrument != "" {
		q = q.Where("instrument = ?", f.Instrument)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("submitted_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("submitted_at < ?", f.Until)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []Order
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("ledger: list orders: %w", err)
	}
	return out, nil
}

// OpenOrders lists orders that have not reached a terminal status.
func (s *Store) OpenOrders() ([]Order, error) {
	var out []Order
	err := s.db.Where("status NOT IN ?", terminalStatuses).
		Order("submitted_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: list open orders: %w", err)
	}
	return out, nil
}

// OrderStats summarizes recorded orders by status. FillRate is the share of
// orders that reached "filled".
type OrderStats struct {
	Total    int64
	ByStatus map[string]int64
	FillRate float64
}

func (s *Store) OrderStatistics(strategy string) (OrderStats, error) {
	type row struct {
		Status string
		N      int64
	}
	q := s.db.Model(&Order{}).Select("status, count(*) as n").Group("status")
	if strategy != "" {
		q = q.Where("strategy = ?", strategy)
	}
	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return OrderStats{}, fmt.Errorf("ledger: order statistics: %w", err)
	}
	stats := OrderStats{ByStatus: make(map[string]int64)}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.N
		stats.Total += r.N
	}
	if stats.Total > 0 {
		stats.FillRate = float64(stats.ByStatus["filled"]) / float64(stats.Total)
	}
	return stats, nil
}
