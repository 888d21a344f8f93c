package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/arborfin/flowtrader/internal/models"
)

// document is the complete on-disk working set, generalized from the
// teacher's single Data{CurrentPosition} struct to the multi-entity
// set §4.3 requires, still serialized as one JSON file under one lock.
type document struct {
	LastUpdated     time.Time                      `json:"last_updated"`
	Signals         map[string]*models.Signal       `json:"signals"`
	Orders          map[string]*models.Order        `json:"orders"`
	Positions       map[string]*models.Position     `json:"positions"`
	Blacklist       map[string]*models.BlacklistEntry `json:"blacklist"`
	DailyStates     map[string]*models.DailyState   `json:"daily_states"`
	Reconciliations []*models.ReconciliationReport  `json:"reconciliations"`
	Checkpoint      *models.Checkpoint              `json:"checkpoint"`
}

func newDocument() *document {
	return &document{
		Signals:     make(map[string]*models.Signal),
		Orders:      make(map[string]*models.Order),
		Positions:   make(map[string]*models.Position),
		Blacklist:   make(map[string]*models.BlacklistEntry),
		DailyStates: make(map[string]*models.DailyState),
	}
}

// JSONStore implements Repository atop a single JSON file guarded by one
// RWMutex, persisted with the teacher's temp-file/fsync/rename/fsync-dir
// atomic write sequence (storage.go's saveUnsafe/copyFile/syncParentDir),
// generalized from one position to the full multi-entity document.
type JSONStore struct {
	mu       sync.RWMutex
	doc      *document
	filepath string
}

// NewJSONStore opens (or initializes) the store at filePath.
func NewJSONStore(filePath string) (*JSONStore, error) {
	s := &JSONStore{
		filepath: filePath,
		doc:      newDocument(),
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return nil, fmt.Errorf("storage: create parent directory: %w", err)
	}

	if _, err := os.Stat(filePath); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("storage: load: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: stat: %w", err)
	}

	return s, nil
}

func (s *JSONStore) load() error {
	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	doc := newDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return err
	}
	if doc.Signals == nil {
		doc.Signals = make(map[string]*models.Signal)
	}
	if doc.Orders == nil {
		doc.Orders = make(map[string]*models.Order)
	}
	if doc.Positions == nil {
		doc.Positions = make(map[string]*models.Position)
	}
	if doc.Blacklist == nil {
		doc.Blacklist = make(map[string]*models.BlacklistEntry)
	}
	if doc.DailyStates == nil {
		doc.DailyStates = make(map[string]*models.DailyState)
	}
	s.doc = doc
	return nil
}

// saveLocked writes the document atomically. Caller must hold s.mu for
// writing.
func (s *JSONStore) saveLocked() error {
	s.doc.LastUpdated = time.Now().UTC()

	dir := filepath.Dir(s.filepath)
	f, err := os.CreateTemp(dir, ".flowtrader-*")
	if err != nil {
		return err
	}
	tmpFile := f.Name()

	if err := f.Chmod(0o600); err != nil {
		return fmt.Errorf("storage: chmod temp file: %w", err)
	}

	defer func() {
		if f != nil {
			_ = f.Close()
		}
		if tmpFile != "" {
			_ = os.Remove(tmpFile)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.doc); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		f = nil
		return err
	}
	f = nil

	dirSynced := false
	if err := os.Rename(tmpFile, s.filepath); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if copyErr := s.copyFile(tmpFile, s.filepath); copyErr != nil {
				return fmt.Errorf("storage: copy temp file across devices: %w", copyErr)
			}
			dirSynced = true
		} else {
			return fmt.Errorf("storage: rename temp file: %w", err)
		}
	}
	tmpFile = ""

	if !dirSynced {
		if err := s.syncParentDir(); err != nil {
			return fmt.Errorf("storage: sync parent directory: %w", err)
		}
	}
	return nil
}

func (s *JSONStore) copyFile(src, dst string) error {
	if err := s.validatePath(src); err != nil {
		return fmt.Errorf("invalid source path: %w", err)
	}
	if err := s.validatePath(dst); err != nil {
		return fmt.Errorf("invalid destination path: %w", err)
	}

	srcFile, err := os.Open(src) // #nosec G304 - validated above
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	dstDir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dstDir, ".tmp_*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(srcInfo.Mode()); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := io.Copy(tmp, srcFile); err != nil {
		return fmt.Errorf("copy to temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	closed = true

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename temp file to destination: %w", err)
	}
	tmpName = ""

	if dir, err := os.Open(dstDir); err == nil { // #nosec G304 - validated above
		defer func() { _ = dir.Close() }()
		if err := dir.Sync(); err != nil {
			return fmt.Errorf("fsync destination directory: %w", err)
		}
	}
	return nil
}

// validatePath rejects a path that resolves outside the store's own
// directory, guarding against symlink escape the way the teacher's
// validateFilePath does.
func (s *JSONStore) validatePath(path string) error {
	root := filepath.Clean(filepath.Dir(s.filepath))
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve storage root: %w", err)
	}
	rootResolved, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return fmt.Errorf("resolve symlinks in storage root: %w", err)
	}

	targetAbs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve target path: %w", err)
	}

	var targetResolved string
	if _, statErr := os.Stat(targetAbs); statErr == nil {
		resolved, err := filepath.EvalSymlinks(targetAbs)
		if err != nil {
			return fmt.Errorf("resolve symlinks in target: %w", err)
		}
		targetResolved = resolved
	} else if os.IsNotExist(statErr) {
		parentResolved, err := filepath.EvalSymlinks(filepath.Dir(targetAbs))
		if err != nil {
			return fmt.Errorf("resolve symlinks in target parent: %w", err)
		}
		targetResolved = filepath.Join(parentResolved, filepath.Base(targetAbs))
	} else {
		return fmt.Errorf("stat target path: %w", statErr)
	}

	rel, err := filepath.Rel(rootResolved, targetResolved)
	if err != nil {
		return fmt.Errorf("compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("path escapes storage directory: %s", path)
	}
	return nil
}

func (s *JSONStore) syncParentDir() error {
	dir, err := os.Open(filepath.Dir(s.filepath)) // #nosec G304 - fixed storage root
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()
	return dir.Sync()
}

// InsertSignalIfNew implements Repository.
func (s *JSONStore) InsertSignalIfNew(signal *models.Signal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.doc.Signals[signal.SignalID]; exists {
		return false, nil
	}
	s.doc.Signals[signal.SignalID] = signal.Clone()
	if err := s.saveLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// SignalHistory implements Repository.
func (s *JSONStore) SignalHistory(symbol string, sinceEast, beforeEast time.Time) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var premiums []float64
	for _, sig := range s.doc.Signals {
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
func (s *JSONStore) BlacklistUntil(symbol string, now time.Time) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.doc.Blacklist[symbol]
	if !ok || entry.Expired(now) {
		return time.Time{}, nil
	}
	return entry.ValidUntilEast, nil
}

// DailyUsed implements Repository.
func (s *JSONStore) DailyUsed(dateEastern string) (DailyUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.doc.DailyStates[dateEastern]
	if !ok {
		return DailyUsage{}, nil
	}
	return DailyUsage{TradeCount: ds.TradeCount, GrossRatio: ds.UsedRatio()}, nil
}

// ReserveDailyCapacity implements Repository; the check-then-act span runs
// entirely under the single writer lock, which is what makes it atomic.
func (s *JSONStore) ReserveDailyCapacity(dateEastern string, ratio, dailyGrossCap float64, maxTradesPerDay int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.doc.DailyStates[dateEastern]
	if !ok {
		ds = &models.DailyState{DateEastern: dateEastern}
		s.doc.DailyStates[dateEastern] = ds
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
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *JSONStore) findReservation(dateEastern, reservationID string) (*models.DailyState, *models.Reservation, error) {
	ds, ok := s.doc.DailyStates[dateEastern]
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
func (s *JSONStore) CommitDailyCapacity(dateEastern, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, r, err := s.findReservation(dateEastern, reservationID)
	if err != nil {
		return err
	}
	if r.Status != models.ReservationHeld {
		return ErrReservationNotFound
	}
	r.Status = models.ReservationCommitted
	ds.CommittedGrossRatio += r.Ratio
	ds.TradeCount++
	return s.saveLocked()
}

// RollbackDailyCapacity implements Repository.
func (s *JSONStore) RollbackDailyCapacity(dateEastern, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, r, err := s.findReservation(dateEastern, reservationID)
	if err != nil {
		return err
	}
	if r.Status != models.ReservationHeld {
		return ErrReservationNotFound
	}
	r.Status = models.ReservationRolledBack
	return s.saveLocked()
}

// RecordOpen implements Repository.
func (s *JSONStore) RecordOpen(signal *models.Signal, order *models.Order, pos *models.Position) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.doc.Orders[order.ClientID]; ok && existing.Symbol != order.Symbol {
		return "", ErrIdempotencyConflict
	}

	if pos.PositionID == "" {
		pos.PositionID = uuid.NewString()
	}
	s.doc.Orders[order.ClientID] = order.Clone()
	s.doc.Positions[pos.PositionID] = pos.Clone()
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return pos.PositionID, nil
}

// OpenPositions implements Repository.
func (s *JSONStore) OpenPositions() ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Position, 0, len(s.doc.Positions))
	for _, p := range s.doc.Positions {
		if p.Status == models.PositionOpen {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// GetOpenPositionBySymbol implements Repository.
func (s *JSONStore) GetOpenPositionBySymbol(symbol string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.doc.Positions {
		if p.Symbol == symbol && p.Status == models.PositionOpen {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

// TouchPosition implements Repository.
func (s *JSONStore) TouchPosition(positionID string, lastCheckedEast time.Time, highWater float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.doc.Positions[positionID]
	if !ok || pos.Status != models.PositionOpen {
		return ErrPositionNotOpen
	}
	pos.LastCheckedEast = lastCheckedEast
	pos.UpdateHighWater(highWater)
	return s.saveLocked()
}

// RecordClose implements Repository.
func (s *JSONStore) RecordClose(positionID string, order *models.Order, reason models.CloseReason, price float64, at time.Time, blacklistUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.doc.Positions[positionID]
	if !ok || pos.Status != models.PositionOpen {
		return ErrPositionNotOpen
	}
	pos.Close(reason, price, at, order.ClientID)
	s.doc.Orders[order.ClientID] = order.Clone()

	s.doc.Blacklist[pos.Symbol] = &models.BlacklistEntry{
		Symbol:         pos.Symbol,
		ValidUntilEast: blacklistUntil,
	}
	return s.saveLocked()
}

// RecordOrderEvent implements Repository.
func (s *JSONStore) RecordOrderEvent(order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Orders[order.ClientID] = order.Clone()
	return s.saveLocked()
}

// LoadCheckpoint implements Repository.
func (s *JSONStore) LoadCheckpoint() (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc.Checkpoint == nil {
		return &models.Checkpoint{}, nil
	}
	cp := *s.doc.Checkpoint
	return &cp, nil
}

// SaveCheckpoint implements Repository.
func (s *JSONStore) SaveCheckpoint(cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpCopy := *cp
	s.doc.Checkpoint = &cpCopy
	return s.saveLocked()
}

// RecordReconciliation implements Repository.
func (s *JSONStore) RecordReconciliation(report *models.ReconciliationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Reconciliations = append(s.doc.Reconciliations, report.Clone())
	return s.saveLocked()
}

// LastReconciliation implements Repository.
func (s *JSONStore) LastReconciliation() (*models.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.doc.Reconciliations)
	if n == 0 {
		return nil, nil
	}
	return s.doc.Reconciliations[n-1].Clone(), nil
}

// Close implements Repository. The JSON store holds no open file
// handles between saves, so this is a no-op retained for interface
// symmetry with implementations that do (e.g. a future SQL store).
func (s *JSONStore) Close() error {
	return nil
}
