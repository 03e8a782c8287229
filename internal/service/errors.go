package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	// ErrScanUnmatched is returned when a scanned code matches no item of the session.
	ErrScanUnmatched = errors.New("scanned code does not match any item in this session")
)

// ValidationError rejects a request before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError reports a decrement that would drive a quantity negative.
type InsufficientStockError struct {
	DocumentID  uuid.UUID `json:"document_id,omitempty"`
	Line        int       `json:"line,omitempty"` // 1-based; 0 when not tied to a document line
	WarehouseID uuid.UUID `json:"warehouse_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Available   int       `json:"available"`
	Requested   int       `json:"requested"`
}

func (e *InsufficientStockError) Error() string {
	msg := fmt.Sprintf("insufficient stock for product %s in warehouse %s: available %d, requested %d",
		e.ProductID, e.WarehouseID, e.Available, e.Requested)
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

// ConcurrentTransitionError means the document left the expected state between
// read and write. Retryable.
type ConcurrentTransitionError struct {
	Entity   string    `json:"entity"`
	ID       uuid.UUID `json:"id"`
	Expected string    `json:"expected"`
}

func (e *ConcurrentTransitionError) Error() string {
	return fmt.Sprintf("%s %s is no longer %s; reload and retry", e.Entity, e.ID, e.Expected)
}

// TransitionError is an illegal state change according to the transition table.
type TransitionError struct {
	Entity string `json:"entity"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

// DuplicateSerialError lists serials that repeat within a batch or already exist.
type DuplicateSerialError struct {
	ProductID uuid.UUID `json:"product_id"`
	Serials   []string  `json:"serials"`
}

func (e *DuplicateSerialError) Error() string {
	return fmt.Sprintf("duplicate serials for product %s: %s", e.ProductID, strings.Join(e.Serials, ", "))
}

// LineFailure is one stocktake line whose ledger adjustment failed.
type LineFailure struct {
	ItemID    uuid.UUID `json:"item_id"`
	ProductID uuid.UUID `json:"product_id"`
	SKU       string    `json:"sku"`
	Diff      int       `json:"diff"`
	Reason    string    `json:"reason"`
}

// PartialAdjustmentError is informational: the session completed but some
// lines could not be posted to the ledger.
type PartialAdjustmentError struct {
	SessionID uuid.UUID
	Failures  []LineFailure
}

func (e *PartialAdjustmentError) Error() string {
	return fmt.Sprintf("stocktake %s completed with %d unposted line(s)", e.SessionID, len(e.Failures))
}
