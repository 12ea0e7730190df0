package ledger

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"talon/internal/logger"
)

// GetPosition returns the position for the pair, or nil when flat.
func (s *Store) GetPosition(strategy, instrument string) (*Position, error) {
	var p Position
	err := s.db.Where("strategy = ? AND instrument = ?", strategy, instrument).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get position %s/%s: %w", strategy, instrument, err)
	}
	return &p, nil
}

// SetPosition writes the absolute quantity for the pair. Zero quantity
// removes the row; flat positions are represented by absence.
func (s *Store) SetPosition(strategy, instrument string, quantity, avgEntryPrice float64) error {
	if quantity == 0 {
		return s.DeletePosition(strategy, instrument)
	}
	p := Position{
		Strategy:      strategy,
		Instrument:    instrument,
		Quantity:      quantity,
		AvgEntryPrice: avgEntryPrice,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "strategy"}, {Name: "instrument"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_entry_price", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("ledger: set position %s/%s: %w", strategy, instrument, err)
	}
	return nil
}

func (s *Store) DeletePosition(strategy, instrument string) error {
	err := s.db.Where("strategy = ? AND instrument = ?", strategy, instrument).Delete(&Position{}).Error
	if err != nil {
		return fmt.Errorf("ledger: delete position %s/%s: %w", strategy, instrument, err)
	}
	return nil
}

// Positions lists all rows, optionally scoped to one strategy.
func (s *Store) Positions(strategy string) ([]Position, error) {
	q := s.db.Order("strategy, instrument")
	if strategy != "" {
		q = q.Where("strategy = ?", strategy)
	}
	var out []Position
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("ledger: list positions: %w", err)
	}
	return out, nil
}

// ConsistencyReport is the result of a ledger self-check.
type ConsistencyReport struct {
	Total    int
	Negative []Position
	Zero     []Position
}

func (r ConsistencyReport) Clean() bool {
	return len(r.Negative) == 0 && len(r.Zero) == 0
}

// CheckConsistency flags rows that violate ledger invariants: negative
// quantities and zero-quantity rows that should have been deleted.
func (s *Store) CheckConsistency() (ConsistencyReport, error) {
	all, err := s.Positions("")
	if err != nil {
		return ConsistencyReport{}, err
	}
	rep := ConsistencyReport{Total: len(all)}
	for _, p := range all {
		switch {
		case p.Quantity < 0:
			rep.Negative = append(rep.Negative, p)
		case p.Quantity == 0:
			rep.Zero = append(rep.Zero, p)
		}
	}
	if !rep.Clean() {
		logger.Warnf("ledger: consistency check found %d negative, %d zero rows",
			len(rep.Negative), len(rep.Zero))
	}
	return rep, nil
}

// PortfolioSummary aggregates current holdings per strategy.
type PortfolioSummary struct {
	Positions     int
	TotalNotional float64
	ByStrategy    map[string]int
}

func (s *Store) Portfolio() (PortfolioSummary, error) {
	all, err := s.Positions("")
	if err != nil {
		return PortfolioSummary{}, err
	}
	sum := PortfolioSummary{Positions: len(all), ByStrategy: make(map[string]int)}
	for _, p := range all {
		sum.ByStrategy[p.Strategy]++
		sum.TotalNotional += p.Quantity * p.AvgEntryPrice
	}
	return sum, nil
}
