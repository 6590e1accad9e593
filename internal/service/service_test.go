package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"puntoventa/internal/model"
	"puntoventa/internal/service/afip"
	"puntoventa/internal/service/config"
	"puntoventa/internal/store"
)

// fakeStore keeps everything in memory with the same atomicity guarantees the
// real store provides.
type fakeStore struct {
	mu           sync.Mutex
	counters     map[model.Serie]int64
	comprobantes map[uuid.UUID]model.Comprobante
	sesiones     map[uuid.UUID]model.CajaSesion
	movs         []model.Movimiento
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counters:     make(map[model.Serie]int64),
		comprobantes: make(map[uuid.UUID]model.Comprobante),
		sesiones:     make(map[uuid.UUID]model.CajaSesion),
	}
}

func (f *fakeStore) SeriesNext(_ context.Context, serie model.Serie) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[serie]++
	return f.counters[serie], nil
}

func (f *fakeStore) SeriesLast(_ context.Context, serie model.Serie) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[serie], nil
}

func (f *fakeStore) ComprobantePost(_ context.Context, c model.Comprobante) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.comprobantes[c.Referencia]; ok {
		return store.ErrAlreadyExists
	}
	f.comprobantes[c.Referencia] = c
	return nil
}

func (f *fakeStore) ComprobantePut(_ context.Context, c model.Comprobante) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comprobantes[c.Referencia] = c
	return nil
}

func (f *fakeStore) ComprobanteGet(_ context.Context, serie model.Serie, numero int64) (model.Comprobante, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.comprobantes {
		if c.Serie == serie && c.Numero == numero {
			return c, nil
		}
	}
	return model.Comprobante{}, store.ErrNoRows
}

func (f *fakeStore) ComprobanteGetByReferencia(_ context.Context, referencia uuid.UUID) (model.Comprobante, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comprobantes[referencia]
	if !ok {
		return model.Comprobante{}, store.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) CajaAbrir(_ context.Context, sesion model.CajaSesion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sesiones {
		if s.Estado == model.CajaEstadoAbierta {
			return store.ErrSesionAbierta
		}
	}
	f.sesiones[sesion.ID] = sesion
	return nil
}

func (f *fakeStore) CajaAbierta(_ context.Context) (model.CajaSesion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sesiones {
		if s.Estado == model.CajaEstadoAbierta {
			return s, nil
		}
	}
	return model.CajaSesion{}, store.ErrNoRows
}

func (f *fakeStore) CajaGet(_ context.Context, id uuid.UUID) (model.CajaSesion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sesiones[id]
	if !ok {
		return model.CajaSesion{}, store.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) CajaCerrar(_ context.Context, id uuid.UUID, saldoDeclarado decimal.Decimal, fechaCierre time.Time) (model.CajaSesion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sesiones[id]
	if !ok || s.Estado != model.CajaEstadoAbierta {
		return model.CajaSesion{}, store.ErrSesionNoAbierta
	}
	diferencia := saldoDeclarado.Sub(s.SaldoActual)
	s.Estado = model.CajaEstadoCerrada
	s.FechaCierre = &fechaCierre
	s.SaldoDeclarado = &saldoDeclarado
	s.Diferencia = &diferencia
	f.sesiones[id] = s
	return s, nil
}

func (f *fakeStore) MovimientoPost(_ context.Context, mov model.Movimiento) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sesiones[mov.SesionID]
	if !ok || s.Estado != model.CajaEstadoAbierta {
		return decimal.Zero, store.ErrSesionNoAbierta
	}
	delta := mov.Monto
	if mov.Tipo == model.MovimientoEgreso {
		delta = delta.Neg()
	}
	s.SaldoActual = s.SaldoActual.Add(delta)
	f.sesiones[mov.SesionID] = s
	f.movs = append(f.movs, mov)
	return s.SaldoActual, nil
}

func (f *fakeStore) MovimientosGet(_ context.Context, sesionID uuid.UUID) ([]model.Movimiento, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var movs []model.Movimiento
	for _, mov := range f.movs {
		if mov.SesionID == sesionID {
			movs = append(movs, mov)
		}
	}
	return movs, nil
}

// afipServer serves whatever body is configured, like the real WSFE does.
type afipServer struct {
	mu   sync.Mutex
	body string
}

func (a *afipServer) set(body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.body = body
}

func (a *afipServer) handler(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write([]byte(a.body))
}

const respuestaAutorizada = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/">
      <FECAESolicitarResult>
        <FeDetResp>
          <FECAEDetResponse>
            <CAE>75123456789012</CAE>
            <CAEFchVto>20250428</CAEFchVto>
          </FECAEDetResponse>
        </FeDetResp>
      </FECAESolicitarResult>
    </FECAESolicitarResponse>
  </soap:Body>
</soap:Envelope>`

const respuestaRechazada = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/">
      <FECAESolicitarResult>
        <Errors>
          <Err><Code>10016</Code><Msg>Numero de comprobante invalido</Msg></Err>
        </Errors>
      </FECAESolicitarResult>
    </FECAESolicitarResponse>
  </soap:Body>
</soap:Envelope>`

func newTestService(t *testing.T) (Service, *fakeStore, *afipServer) {
	t.Helper()

	afipSrv := &afipServer{body: respuestaAutorizada}
	ts := httptest.NewServer(http.HandlerFunc(afipSrv.handler))
	t.Cleanup(ts.Close)

	fake := newFakeStore()
	cfg := config.Config{
		AfipURL:    ts.URL,
		AfipToken:  "tok",
		AfipSign:   "sig",
		CUIT:       "20267565393",
		PuntoVenta: 1,
	}
	service, err := NewService(cfg, fake, zap.NewNop())
	require.NoError(t, err)
	return service, fake, afipSrv
}

func ventaDePrueba() model.Venta {
	return model.Venta{
		Items: []model.Item{
			{Descripcion: "café", Cantidad: decimal.NewFromInt(2), PrecioUnitario: decimal.RequireFromString("60.50")},
		},
		Total:     decimal.RequireFromString("121.00"),
		FormaPago: "efectivo",
	}
}

func TestEmitirFactura(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.AbrirCaja(ctx, decimal.RequireFromString("500.00"))
	require.NoError(t, err)

	c, err := service.EmitirFactura(ctx, ventaDePrueba())
	require.NoError(t, err)

	require.Equal(t, model.ComprobanteEstadoEmitido, c.Estado)
	require.Equal(t, int64(1), c.Numero)
	require.Equal(t, "75123456789012", c.CAE)
	require.Equal(t, "20250428", c.CAEVencimiento.Format("20060102"))
	require.Equal(t, "100.00", c.ImporteNeto.StringFixed(2))
	require.Equal(t, "21.00", c.ImporteIVA.StringFixed(2))
	require.Equal(t, 96, c.Comprador.DocTipo)
	require.Equal(t, "CONSUMIDOR FINAL", c.Comprador.Nombre)
	require.NotEmpty(t, c.QRURL)
	require.Equal(t, model.LeyendaMonotributo, c.Leyenda)

	// la venta quedó en la caja, vinculada al comprobante
	sesion, err := service.CajaActual(ctx)
	require.NoError(t, err)
	require.Equal(t, "621.00", sesion.SaldoActual.StringFixed(2))

	movs, err := service.Movimientos(ctx)
	require.NoError(t, err)
	require.Len(t, movs, 1)
	require.Equal(t, model.MovimientoIngreso, movs[0].Tipo)
	require.Equal(t, "0001-00000001", movs[0].Comprobante)

	// y es consultable por número
	guardado, err := service.Comprobante(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.ComprobanteEstadoEmitido, guardado.Estado)
}

func TestEmitirFacturaRechazada(t *testing.T) {
	service, _, afipSrv := newTestService(t)
	ctx := context.Background()

	_, err := service.AbrirCaja(ctx, decimal.RequireFromString("500.00"))
	require.NoError(t, err)

	afipSrv.set(respuestaRechazada)

	venta := ventaDePrueba()
	venta.Referencia = uuid.New()
	c, err := service.EmitirFactura(ctx, venta)

	var rejection *afip.RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, model.ComprobanteEstadoRechazado, c.Estado)

	// sin movimiento de caja
	movs, err := service.Movimientos(ctx)
	require.NoError(t, err)
	require.Empty(t, movs)

	// reintentar la misma venta no vuelve a pedir autorización
	_, err = service.EmitirFactura(ctx, venta)
	require.ErrorIs(t, err, ErrVentaRechazada)

	// el número quedó consumido: la próxima venta toma el siguiente
	afipSrv.set(respuestaAutorizada)
	c2, err := service.EmitirFactura(ctx, ventaDePrueba())
	require.NoError(t, err)
	require.Equal(t, int64(2), c2.Numero)
}

func TestEmitirFacturaReintento(t *testing.T) {
	service, fake, afipSrv := newTestService(t)
	ctx := context.Background()

	_, err := service.AbrirCaja(ctx, decimal.RequireFromString("500.00"))
	require.NoError(t, err)

	// primera pasada: respuesta ilegible, el comprobante queda pendiente
	afipSrv.set("<html>bad gateway</html>")

	venta := ventaDePrueba()
	venta.Referencia = uuid.New()
	c, err := service.EmitirFactura(ctx, venta)
	require.ErrorIs(t, err, afip.ErrMalformedResponse)
	require.True(t, afip.Retryable(err))

	pendiente, err := fake.ComprobanteGetByReferencia(ctx, venta.Referencia)
	require.NoError(t, err)
	require.Equal(t, model.ComprobanteEstadoPendiente, pendiente.Estado)
	numero := pendiente.Numero

	// reintento: mismo número, sin nueva asignación
	afipSrv.set(respuestaAutorizada)
	c, err = service.EmitirFactura(ctx, venta)
	require.NoError(t, err)
	require.Equal(t, numero, c.Numero)
	require.Equal(t, model.ComprobanteEstadoEmitido, c.Estado)
	require.Equal(t, numero, fake.counters[c.Serie])

	// emitida: un nuevo pedido con la misma referencia devuelve lo ya emitido
	c2, err := service.EmitirFactura(ctx, venta)
	require.NoError(t, err)
	require.Equal(t, c.Numero, c2.Numero)
	movs, err := service.Movimientos(ctx)
	require.NoError(t, err)
	require.Len(t, movs, 1)
}

func TestEmitirFacturaSinCaja(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	// autorizada pero sin caja abierta: el comprobante queda emitido y la
	// inconsistencia se informa, no se revierte
	c, err := service.EmitirFactura(ctx, ventaDePrueba())

	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	require.Equal(t, model.ComprobanteEstadoEmitido, c.Estado)
	require.Equal(t, "75123456789012", c.CAE)
}

func TestEmitirFacturaMontoInvalido(t *testing.T) {
	service, fake, _ := newTestService(t)

	venta := ventaDePrueba()
	venta.Total = decimal.Zero
	_, err := service.EmitirFactura(context.Background(), venta)
	require.Error(t, err)

	// no se consumió ningún número
	require.Equal(t, int64(0), fake.counters[model.Serie{PuntoVenta: 1, TipoComprobante: model.TipoFacturaC}])
}

func TestEmitirFacturaSinItems(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.EmitirFactura(context.Background(), model.Venta{Total: decimal.NewFromInt(100)})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestCerrarCaja(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.AbrirCaja(ctx, decimal.RequireFromString("500.00"))
	require.NoError(t, err)

	_, err = service.RegistrarMovimiento(ctx, model.Movimiento{
		Tipo:        model.MovimientoIngreso,
		Monto:       decimal.RequireFromString("1210.00"),
		Descripcion: "venta",
		FormaPago:   "efectivo",
	})
	require.NoError(t, err)

	cerrada, err := service.CerrarCaja(ctx, decimal.RequireFromString("1700.00"))
	require.NoError(t, err)
	require.Equal(t, model.CajaEstadoCerrada, cerrada.Estado)
	require.Equal(t, "1710.00", cerrada.SaldoActual.StringFixed(2))
	require.Equal(t, "-10.00", cerrada.Diferencia.StringFixed(2))
}
