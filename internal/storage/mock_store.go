package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arborfin/flowtrader/internal/models"
)

// MockStore implements Repository in memory for tests, grounded on the
// teacher's MockStorage: injectable errors per operation and call
// counters a test can assert against, instead of a real file.
type MockStore struct {
	mu sync.RWMutex

	signals     map[string]*models.Signal
	orders      map[string]*models.Order
	positions   map[string]*models.Position
	blacklist   map[string]*models.BlacklistEntry
	dailyStates map[string]*models.DailyState
	recons      []*models.ReconciliationReport
	checkpoint  *models.Checkpoint

	// Injectable errors, checked at the top of the matching method.
	InsertSignalErr error
	ReserveErr      error
	RecordOpenErr   error
	RecordCloseErr  error
	SaveErr         error

	// Call counters for test assertions.
	InsertSignalCalls  int
	ReserveCalls       int
	CommitCalls        int
	RollbackCalls      int
	RecordOpenCalls    int
	RecordCloseCalls   int
	TouchPositionCalls int
}

// NewMockStore returns an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		signals:     make(map[string]*models.Signal),
		orders:      make(map[string]*models.Order),
		positions:   make(map[string]*models.Position),
		blacklist:   make(map[string]*models.BlacklistEntry),
		dailyStates: make(map[string]*models.DailyState),
	}
}

// InsertSignalIfNew implements Repository.
func (m *MockStore) InsertSignalIfNew(signal *models.Signal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertSignalCalls++

	if m.InsertSignalErr != nil {
		return false, m.InsertSignalErr
	}
	if _, exists := m.signals[signal.SignalID]; exists {
		return false, nil
	}
	m.signals[signal.SignalID] = signal.Clone()
	return true, nil
}

// SignalHistory implements Repository.
func (m *MockStore) SignalHistory(symbol string, sinceEast, beforeEast time.Time) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var premiums []float64
	for _, sig := range m.signals {
		if sig.Symbol != symbol {
			continue
		}
		if sig.SignalTimeEast.Before(sinceEast) || !sig.SignalTimeEast.Before(beforeEast) {
			continue
		}
		premiums = append(premiums, sig.PremiumUSD)
	}
	return premiums, nil
}

// BlacklistUntil implements Repository.
func (m *MockStore) BlacklistUntil(symbol string, now time.Time) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.blacklist[symbol]
	if !ok || entry.Expired(now) {
		return time.Time{}, nil
	}
	return entry.ValidUntilEast, nil
}

// DailyUsed implements Repository.
func (m *MockStore) DailyUsed(dateEastern string) (DailyUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.dailyStates[dateEastern]
	if !ok {
		return DailyUsage{}, nil
	}
	return DailyUsage{TradeCount: ds.TradeCount, GrossRatio: ds.UsedRatio()}, nil
}

// ReserveDailyCapacity implements Repository.
func (m *MockStore) ReserveDailyCapacity(dateEastern string, ratio, dailyGrossCap float64, maxTradesPerDay int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReserveCalls++

	if m.ReserveErr != nil {
		return "", m.ReserveErr
	}

	ds, ok := m.dailyStates[dateEastern]
	if !ok {
		ds = &models.DailyState{DateEastern: dateEastern}
		m.dailyStates[dateEastern] = ds
	}
	if ds.TradeCount+ds.PendingReservations()+1 > maxTradesPerDay {
		return "", ErrReservationRejected
	}
	if ds.UsedRatio()+ratio > dailyGrossCap {
		return "", ErrReservationRejected
	}

	id := uuid.NewString()
	ds.Reservations = append(ds.Reservations, models.Reservation{
		ReservationID: id,
		Ratio:         ratio,
		Status:        models.ReservationHeld,
	})
	return id, nil
}

func (m *MockStore) findReservation(dateEastern, reservationID string) (*models.DailyState, *models.Reservation, error) {
	ds, ok := m.dailyStates[dateEastern]
	if !ok {
		return nil, nil, ErrReservationNotFound
	}
	for i := range ds.Reservations {
		if ds.Reservations[i].ReservationID == reservationID {
			return ds, &ds.Reservations[i], nil
		}
	}
	return nil, nil, ErrReservationNotFound
}

// CommitDailyCapacity implements Repository.
func (m *MockStore) CommitDailyCapacity(dateEastern, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalls++

	ds, r, err := m.findReservation(dateEastern, reservationID)
	if err != nil {
		return err
	}
	if r.Status != models.ReservationHeld {
		return ErrReservationNotFound
	}
	r.Status = models.ReservationCommitted
	ds.CommittedGrossRatio += r.Ratio
	ds.TradeCount++
	return nil
}

// RollbackDailyCapacity implements Repository.
func (m *MockStore) RollbackDailyCapacity(dateEastern, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RollbackCalls++

	_, r, err := m.findReservation(dateEastern, reservationID)
	if err != nil {
		return err
	}
	if r.Status != models.ReservationHeld {
		return ErrReservationNotFound
	}
	r.Status = models.ReservationRolledBack
	return nil
}

// RecordOpen implements Repository.
func (m *MockStore) RecordOpen(signal *models.Signal, order *models.Order, pos *models.Position) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordOpenCalls++

	if m.RecordOpenErr != nil {
		return "", m.RecordOpenErr
	}
	if pos.PositionID == "" {
		pos.PositionID = uuid.NewString()
	}
	m.orders[order.ClientID] = order.Clone()
	m.positions[pos.PositionID] = pos.Clone()
	return pos.PositionID, nil
}

// OpenPositions implements Repository.
func (m *MockStore) OpenPositions() ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Status == models.PositionOpen {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// GetOpenPositionBySymbol implements Repository.
func (m *MockStore) GetOpenPositionBySymbol(symbol string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.positions {
		if p.Symbol == symbol && p.Status == models.PositionOpen {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

// TouchPosition implements Repository.
func (m *MockStore) TouchPosition(positionID string, lastCheckedEast time.Time, highWater float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TouchPositionCalls++

	pos, ok := m.positions[positionID]
	if !ok || pos.Status != models.PositionOpen {
		return ErrPositionNotOpen
	}
	pos.LastCheckedEast = lastCheckedEast
	pos.UpdateHighWater(highWater)
	return nil
}

// RecordClose implements Repository.
func (m *MockStore) RecordClose(positionID string, order *models.Order, reason models.CloseReason, price float64, at time.Time, blacklistUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordCloseCalls++

	if m.RecordCloseErr != nil {
		return m.RecordCloseErr
	}
	pos, ok := m.positions[positionID]
	if !ok || pos.Status != models.PositionOpen {
		return ErrPositionNotOpen
	}
	pos.Close(reason, price, at, order.ClientID)
	m.orders[order.ClientID] = order.Clone()
	m.blacklist[pos.Symbol] = &models.BlacklistEntry{Symbol: pos.Symbol, ValidUntilEast: blacklistUntil}
	return nil
}

// RecordOrderEvent implements Repository.
func (m *MockStore) RecordOrderEvent(order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[order.ClientID] = order.Clone()
	return nil
}

// LoadCheckpoint implements Repository.
func (m *MockStore) LoadCheckpoint() (*models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.checkpoint == nil {
		return &models.Checkpoint{}, nil
	}
	cp := *m.checkpoint
	return &cp, nil
}

// SaveCheckpoint implements Repository.
func (m *MockStore) SaveCheckpoint(cp *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	cpCopy := *cp
	m.checkpoint = &cpCopy
	return nil
}

// RecordReconciliation implements Repository.
func (m *MockStore) RecordReconciliation(report *models.ReconciliationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recons = append(m.recons, report.Clone())
	return nil
}

// LastReconciliation implements Repository.
func (m *MockStore) LastReconciliation() (*models.ReconciliationReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.recons)
	if n == 0 {
		return nil, nil
	}
	return m.recons[n-1].Clone(), nil
}

// Close implements Repository.
func (m *MockStore) Close() error {
	return nil
}
