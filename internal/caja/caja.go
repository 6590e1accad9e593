package caja

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"puntoventa/internal/model"
	"puntoventa/internal/store"
)

// Caja is the cash-session ledger: one session open at a time, an append-only
// movement log, and a running balance that always equals
// saldo inicial + ingresos - egresos.
type Caja interface {
	Abrir(ctx context.Context, saldoInicial decimal.Decimal) (model.CajaSesion, error)
	Actual(ctx context.Context) (model.CajaSesion, error)
	Cerrar(ctx context.Context, id uuid.UUID, saldoDeclarado decimal.Decimal) (model.CajaSesion, error)
	Registrar(ctx context.Context, sesionID uuid.UUID, mov model.Movimiento) (model.Movimiento, error)
	Movimientos(ctx context.Context, sesionID uuid.UUID) ([]model.Movimiento, error)
}

var (
	ErrSesionAbierta   = errors.New("ya existe una caja abierta")
	ErrSesionNoAbierta = errors.New("la caja no está abierta")
	ErrMontoInvalido   = errors.New("monto inválido")
	ErrNoExiste        = errors.New("no existe")
)

type caja struct {
	store store.Store
}

func NewCaja(store store.Store) Caja {
	return &caja{store: store}
}

func (caja *caja) Abrir(ctx context.Context, saldoInicial decimal.Decimal) (model.CajaSesion, error) {
	if saldoInicial.Sign() < 0 {
		return model.CajaSesion{}, ErrMontoInvalido
	}

	sesion := model.CajaSesion{
		ID:            uuid.New(),
		Estado:        model.CajaEstadoAbierta,
		FechaApertura: time.Now(),
		SaldoInicial:  saldoInicial,
		SaldoActual:   saldoInicial,
	}

	err := caja.store.CajaAbrir(ctx, sesion)
	if err != nil {
		if errors.Is(err, store.ErrSesionAbierta) {
			return model.CajaSesion{}, ErrSesionAbierta
		}
		return model.CajaSesion{}, err
	}
	return sesion, nil
}

func (caja *caja) Actual(ctx context.Context) (model.CajaSesion, error) {
	sesion, err := caja.store.CajaAbierta(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.CajaSesion{}, ErrSesionNoAbierta
		}
		return model.CajaSesion{}, err
	}
	return sesion, nil
}

// Cerrar closes the session once. The computed balance is frozen as-is; the
// declared balance is stored next to it and any mismatch is reported through
// diferencia, never reconciled silently.
func (caja *caja) Cerrar(ctx context.Context, id uuid.UUID, saldoDeclarado decimal.Decimal) (model.CajaSesion, error) {
	sesion, err := caja.store.CajaCerrar(ctx, id, saldoDeclarado, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrSesionNoAbierta) {
			return model.CajaSesion{}, ErrSesionNoAbierta
		}
		return model.CajaSesion{}, err
	}
	return sesion, nil
}

// Registrar appends a movement. The append and the balance update happen as
// one atomic unit in the store, so a reader never sees one without the other.
func (caja *caja) Registrar(ctx context.Context, sesionID uuid.UUID, mov model.Movimiento) (model.Movimiento, error) {
	if mov.Tipo != model.MovimientoIngreso && mov.Tipo != model.MovimientoEgreso {
		return model.Movimiento{}, ErrMontoInvalido
	}
	if mov.Monto.Sign() <= 0 {
		return model.Movimiento{}, ErrMontoInvalido
	}

	mov.ID = uuid.New()
	mov.SesionID = sesionID
	mov.Fecha = time.Now()

	_, err := caja.store.MovimientoPost(ctx, mov)
	if err != nil {
		if errors.Is(err, store.ErrSesionNoAbierta) {
			return model.Movimiento{}, ErrSesionNoAbierta
		}
		return model.Movimiento{}, err
	}
	return mov, nil
}

func (caja *caja) Movimientos(ctx context.Context, sesionID uuid.UUID) ([]model.Movimiento, error) {
	return caja.store.MovimientosGet(ctx, sesionID)
}
