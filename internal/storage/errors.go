package storage

import "errors"

// ErrReservationRejected is returned by ReserveDailyCapacity when the
// requested ratio would push the day past an admission cap.
var ErrReservationRejected = errors.New("storage: daily capacity reservation rejected")

// ErrReservationNotFound is returned by CommitDailyCapacity/RollbackDailyCapacity
// for an unknown or already-resolved reservation_id.
var ErrReservationNotFound = errors.New("storage: reservation not found")

// ErrPositionNotOpen is returned by RecordClose when no open position
// exists for the given position_id.
var ErrPositionNotOpen = errors.New("storage: position not open")

// ErrIdempotencyConflict is returned when a client_id is reused with a
// materially different payload, per the §7 "idempotency conflict" kind.
var ErrIdempotencyConflict = errors.New("storage: idempotency conflict")
