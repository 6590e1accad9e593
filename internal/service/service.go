package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"puntoventa/internal/caja"
	"puntoventa/internal/fiscal"
	"puntoventa/internal/model"
	"puntoventa/internal/series"
	"puntoventa/internal/service/afip"
	"puntoventa/internal/service/config"
	"puntoventa/internal/store"
)

type Service interface {
	EmitirFactura(ctx context.Context, venta model.Venta) (model.Comprobante, error)
	Comprobante(ctx context.Context, numero int64) (model.Comprobante, error)
	AbrirCaja(ctx context.Context, saldoInicial decimal.Decimal) (model.CajaSesion, error)
	CerrarCaja(ctx context.Context, saldoDeclarado decimal.Decimal) (model.CajaSesion, error)
	CajaActual(ctx context.Context) (model.CajaSesion, error)
	RegistrarMovimiento(ctx context.Context, mov model.Movimiento) (model.Movimiento, error)
	Movimientos(ctx context.Context) ([]model.Movimiento, error)
}

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoExiste         = errors.New("no existe")
	ErrVentaRechazada   = errors.New("la venta ya fue rechazada por AFIP")
)

// ReconciliationError reports a cash movement that could not be posted for an
// already authorized comprobante. The comprobante stands (the authority does
// not cancel issued authorizations); the operator must post the movement by
// hand.
type ReconciliationError struct {
	Comprobante model.Comprobante
	Err         error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("comprobante %s emitido pero el movimiento de caja no se registró: %v",
		series.FormatCompleto(e.Comprobante.Serie, e.Comprobante.Numero), e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

type service struct {
	cfg       config.Config
	store     store.Store
	allocator series.Allocator
	caja      caja.Caja
	afip      afip.Client
	zaplog    *zap.Logger
}

func NewService(cfg config.Config, store store.Store, zaplog *zap.Logger) (Service, error) {
	allocator := series.NewAllocator(store)
	caja := caja.NewCaja(store)
	afipClient := afip.NewClient(cfg.AfipURL, afip.Auth{
		Token: cfg.AfipToken,
		Sign:  cfg.AfipSign,
		CUIT:  cfg.CUIT,
	})

	service := service{
		cfg:       cfg,
		store:     store,
		allocator: allocator,
		caja:      caja,
		afip:      afipClient,
		zaplog:    zaplog,
	}

	return &service, nil
}

func (service *service) serie() model.Serie {
	return model.Serie{PuntoVenta: service.cfg.PuntoVenta, TipoComprobante: model.TipoFacturaC}
}

// EmitirFactura runs the full issuance pipeline: derive amounts, allocate a
// number, request the CAE, persist the result and post the cash movement.
// A sale reference that was already processed never draws a second number.
func (service *service) EmitirFactura(ctx context.Context, venta model.Venta) (model.Comprobante, error) {
	if len(venta.Items) == 0 {
		return model.Comprobante{}, ErrInsufficientData
	}

	if venta.Referencia == uuid.Nil {
		venta.Referencia = uuid.New()
	} else {
		existing, err := service.store.ComprobanteGetByReferencia(ctx, venta.Referencia)
		switch {
		case errors.Is(err, store.ErrNoRows):
			// first time we see this sale
		case err != nil:
			return model.Comprobante{}, err
		default:
			switch existing.Estado {
			case model.ComprobanteEstadoEmitido:
				return existing, nil
			case model.ComprobanteEstadoRechazado:
				return existing, ErrVentaRechazada
			default:
				// allocated but unconfirmed: resume with the same number
				return service.autorizar(ctx, existing, venta.FormaPago)
			}
		}
	}

	neto, iva, err := fiscal.Split(venta.Total)
	if err != nil {
		return model.Comprobante{}, err
	}

	comprador := model.ConsumidorFinal()
	if venta.Comprador != nil {
		comprador = *venta.Comprador
		comprador.DocTipo = fiscal.DocTipo(comprador.DocNro)
	}

	c := model.Comprobante{
		Referencia:   venta.Referencia,
		Serie:        service.serie(),
		Fecha:        time.Now(),
		Comprador:    comprador,
		Items:        venta.Items,
		ImporteTotal: venta.Total,
		ImporteNeto:  neto,
		ImporteIVA:   iva,
		Estado:       model.ComprobanteEstadoPendiente,
	}

	numero, err := service.allocator.Next(ctx, c.Serie)
	if err != nil {
		return model.Comprobante{}, err
	}
	c.Numero = numero

	// The number is consumed from here on, whatever the authority answers.
	if err := service.store.ComprobantePost(ctx, c); err != nil {
		return model.Comprobante{}, err
	}

	return service.autorizar(ctx, c, venta.FormaPago)
}

func (service *service) autorizar(ctx context.Context, c model.Comprobante, formaPago string) (model.Comprobante, error) {
	aut, err := service.afip.Solicitar(ctx, c)
	if err != nil {
		var rejection *afip.RejectionError
		if errors.As(err, &rejection) {
			c.Estado = model.ComprobanteEstadoRechazado
			c.Observaciones = rechazos(rejection)
			if putErr := service.store.ComprobantePut(ctx, c); putErr != nil {
				service.zaplog.Error("no se pudo registrar el rechazo",
					zap.String("referencia", c.Referencia.String()),
					zap.Error(putErr))
			}
			return c, err
		}
		// unconfirmed: the comprobante stays pendiente under its number and
		// the same sale can be retried without reallocating
		return c, err
	}

	c.CAE = aut.CAE
	c.CAEVencimiento = aut.Vencimiento
	c.Observaciones = aut.Observaciones
	c.Leyenda = model.LeyendaMonotributo
	c.Estado = model.ComprobanteEstadoEmitido

	qrURL, err := fiscal.QRURL(c, service.cfg.CUIT)
	if err != nil {
		// authorized but unprintable: surfaced as reconciliation, not rolled back
		service.zaplog.Error("qr inválido", zap.Error(err))
		return c, &ReconciliationError{Comprobante: c, Err: err}
	}
	c.QRURL = qrURL

	if err := service.store.ComprobantePut(ctx, c); err != nil {
		service.zaplog.Error("comprobante autorizado pero no persistido",
			zap.String("referencia", c.Referencia.String()),
			zap.Error(err))
		return c, &ReconciliationError{Comprobante: c, Err: err}
	}

	if err := service.registrarVenta(ctx, c, formaPago); err != nil {
		recErr := &ReconciliationError{Comprobante: c, Err: err}
		service.zaplog.Error("movimiento de caja pendiente de registro manual",
			zap.String("comprobante", series.FormatCompleto(c.Serie, c.Numero)),
			zap.Error(err))
		return c, recErr
	}

	return c, nil
}

func (service *service) registrarVenta(ctx context.Context, c model.Comprobante, formaPago string) error {
	sesion, err := service.caja.Actual(ctx)
	if err != nil {
		return err
	}

	mov := model.Movimiento{
		Tipo:        model.MovimientoIngreso,
		Monto:       c.ImporteTotal,
		Descripcion: "venta a " + c.Comprador.Nombre,
		FormaPago:   formaPago,
		Comprobante: series.FormatCompleto(c.Serie, c.Numero),
		Items:       c.Items,
	}
	_, err = service.caja.Registrar(ctx, sesion.ID, mov)
	return err
}

func rechazos(rejection *afip.RejectionError) []string {
	obs := make([]string, 0, len(rejection.Errores))
	for _, e := range rejection.Errores {
		obs = append(obs, fmt.Sprintf("%d: %s", e.Code, e.Msg))
	}
	return obs
}

func (service *service) Comprobante(ctx context.Context, numero int64) (model.Comprobante, error) {
	c, err := service.store.ComprobanteGet(ctx, service.serie(), numero)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Comprobante{}, ErrNoExiste
		}
		return model.Comprobante{}, err
	}
	return c, nil
}

func (service *service) AbrirCaja(ctx context.Context, saldoInicial decimal.Decimal) (model.CajaSesion, error) {
	return service.caja.Abrir(ctx, saldoInicial)
}

func (service *service) CerrarCaja(ctx context.Context, saldoDeclarado decimal.Decimal) (model.CajaSesion, error) {
	sesion, err := service.caja.Actual(ctx)
	if err != nil {
		return model.CajaSesion{}, err
	}
	return service.caja.Cerrar(ctx, sesion.ID, saldoDeclarado)
}

func (service *service) CajaActual(ctx context.Context) (model.CajaSesion, error) {
	return service.caja.Actual(ctx)
}

func (service *service) RegistrarMovimiento(ctx context.Context, mov model.Movimiento) (model.Movimiento, error) {
	sesion, err := service.caja.Actual(ctx)
	if err != nil {
		return model.Movimiento{}, err
	}
	return service.caja.Registrar(ctx, sesion.ID, mov)
}

func (service *service) Movimientos(ctx context.Context) ([]model.Movimiento, error) {
	sesion, err := service.caja.Actual(ctx)
	if err != nil {
		return nil, err
	}
	return service.caja.Movimientos(ctx, sesion.ID)
}
