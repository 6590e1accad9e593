package series

import (
	"context"
	"errors"
	"fmt"

	"puntoventa/internal/model"
	"puntoventa/internal/store"
)

// Bounded retries for transient allocation conflicts before giving up.
const maxIntentos = 3

var ErrAllocationFailed = errors.New("sequence allocation failed")

// Allocator hands out invoice numbers for a series. Numbers are unique across
// concurrent callers and gapless while allocations keep succeeding; a number
// drawn before a confirmed failure is never re-issued.
type Allocator interface {
	Next(ctx context.Context, serie model.Serie) (int64, error)
	Last(ctx context.Context, serie model.Serie) (int64, error)
}

type allocator struct {
	store store.Store
}

func NewAllocator(store store.Store) Allocator {
	return &allocator{store: store}
}

// Next draws the next number. The store performs the increment-and-read as one
// statement; this layer only retries transient conflicts.
func (a *allocator) Next(ctx context.Context, serie model.Serie) (int64, error) {
	var err error
	for range maxIntentos {
		var numero int64
		numero, err = a.store.SeriesNext(ctx, serie)
		if err == nil {
			return numero, nil
		}
		if !errors.Is(err, store.ErrAllocationConflict) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrAllocationFailed, err)
}

// Last reads the counter without advancing it. After an unconfirmed write the
// stored value is trusted over whatever the caller saw.
func (a *allocator) Last(ctx context.Context, serie model.Serie) (int64, error) {
	return a.store.SeriesLast(ctx, serie)
}

// Format renders a number the way the authority expects it printed.
func Format(numero int64) string {
	return fmt.Sprintf("%08d", numero)
}

// FormatCompleto renders the full printed invoice number.
func FormatCompleto(serie model.Serie, numero int64) string {
	return fmt.Sprintf("%04d-%s", serie.PuntoVenta, Format(numero))
}
