package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"puntoventa/internal/caja"
	"puntoventa/internal/fiscal"
	"puntoventa/internal/gzip"
	"puntoventa/internal/handler/config"
	"puntoventa/internal/logger"
	"puntoventa/internal/model"
	"puntoventa/internal/render"
	"puntoventa/internal/series"
	"puntoventa/internal/service"
	"puntoventa/internal/service/afip"
)

func Serve(cfg config.Config, service service.Service, renderer render.Renderer, zaplog *zap.Logger) error {
	h := newHandler(service, renderer, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	return srv.ListenAndServe()
}

type handler struct {
	service  service.Service
	renderer render.Renderer
	validate *validator.Validate
	zaplog   *zap.Logger
}

func newHandler(service service.Service, renderer render.Renderer, zaplog *zap.Logger) *handler {
	return &handler{
		service:  service,
		renderer: renderer,
		validate: validator.New(),
		zaplog:   zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/facturas", gzip.GzipMiddleware(logger.RequestLogMdlw(h.EmitirFactura, h.zaplog)))
	mux.HandleFunc("GET /api/facturas/{numero}", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetFactura, h.zaplog)))
	mux.HandleFunc("GET /api/facturas/{numero}/ticket", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetTicket, h.zaplog)))
	mux.HandleFunc("POST /api/caja", gzip.GzipMiddleware(logger.RequestLogMdlw(h.AbrirCaja, h.zaplog)))
	mux.HandleFunc("POST /api/caja/cierre", gzip.GzipMiddleware(logger.RequestLogMdlw(h.CerrarCaja, h.zaplog)))
	mux.HandleFunc("GET /api/caja", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetCaja, h.zaplog)))
	mux.HandleFunc("POST /api/caja/movimientos", gzip.GzipMiddleware(logger.RequestLogMdlw(h.PostMovimiento, h.zaplog)))
	mux.HandleFunc("GET /api/caja/movimientos", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetMovimientos, h.zaplog)))
	mux.HandleFunc("GET /api/caja/reporte", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetReporte, h.zaplog)))

	return mux
}

type ClienteJSON struct {
	DocNro string `json:"docNro" validate:"required,numeric"`
	Nombre string `json:"nombre" validate:"required"`
}

type ProductoJSON struct {
	Descripcion string          `json:"descripcion" validate:"required"`
	Cantidad    decimal.Decimal `json:"cantidad" validate:"required"`
	Precio      decimal.Decimal `json:"precio" validate:"required"`
}

type EmitirFacturaJSONRequest struct {
	Referencia string         `json:"referencia" validate:"omitempty,uuid"`
	Total      decimal.Decimal `json:"total" validate:"required"`
	FormaPago  string         `json:"formaPago"`
	Cliente    *ClienteJSON   `json:"cliente"`
	Productos  []ProductoJSON `json:"productos" validate:"required,min=1,dive"`
}

type ComprobanteJSONResponse struct {
	Referencia     string          `json:"referencia"`
	Numero         string          `json:"numero"`
	PuntoVenta     int             `json:"puntoVenta"`
	TipoCmp        int             `json:"tipoCmp"`
	Fecha          string          `json:"fecha"`
	Estado         string          `json:"estado"`
	ImporteTotal   decimal.Decimal `json:"importeTotal"`
	ImporteNeto    decimal.Decimal `json:"importeNeto"`
	ImporteIVA     decimal.Decimal `json:"importeIva"`
	CAE            string          `json:"cae,omitempty"`
	CAEVencimiento string          `json:"caeVencimiento,omitempty"`
	Observaciones  []string        `json:"observaciones,omitempty"`
	QRURL          string          `json:"qrUrl,omitempty"`
	Leyenda        string          `json:"leyenda,omitempty"`
	Advertencia    string          `json:"advertencia,omitempty"`
}

func comprobanteJSON(c model.Comprobante) ComprobanteJSONResponse {
	resp := ComprobanteJSONResponse{
		Referencia:    c.Referencia.String(),
		Numero:        series.FormatCompleto(c.Serie, c.Numero),
		PuntoVenta:    c.Serie.PuntoVenta,
		TipoCmp:       c.Serie.TipoComprobante,
		Fecha:         c.Fecha.Format("2006-01-02"),
		Estado:        c.Estado,
		ImporteTotal:  c.ImporteTotal,
		ImporteNeto:   c.ImporteNeto,
		ImporteIVA:    c.ImporteIVA,
		CAE:           c.CAE,
		Observaciones: c.Observaciones,
		QRURL:         c.QRURL,
		Leyenda:       c.Leyenda,
	}
	if !c.CAEVencimiento.IsZero() {
		resp.CAEVencimiento = c.CAEVencimiento.Format("2006-01-02")
	}
	return resp
}

func (h *handler) EmitirFactura(w http.ResponseWriter, r *http.Request) {
	var req EmitirFacturaJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Cliente != nil && len(req.Cliente.DocNro) == 11 && !fiscal.ValidCUIT(req.Cliente.DocNro) {
		http.Error(w, "CUIT inválido", http.StatusBadRequest)
		return
	}

	venta := model.Venta{
		Total:     req.Total,
		FormaPago: req.FormaPago,
	}
	if req.Referencia != "" {
		referencia, err := uuid.Parse(req.Referencia)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		venta.Referencia = referencia
	}
	if req.Cliente != nil {
		venta.Comprador = &model.Comprador{
			DocNro: req.Cliente.DocNro,
			Nombre: req.Cliente.Nombre,
		}
	}
	for _, producto := range req.Productos {
		venta.Items = append(venta.Items, model.Item{
			Descripcion:    producto.Descripcion,
			Cantidad:       producto.Cantidad,
			PrecioUnitario: producto.Precio,
		})
	}

	c, err := h.service.EmitirFactura(r.Context(), venta)
	if err != nil {
		// the comprobante stands; the operator gets the warning verbatim
		var recErr *service.ReconciliationError
		if errors.As(err, &recErr) {
			resp := comprobanteJSON(c)
			resp.Advertencia = recErr.Error()
			writeJSON(w, http.StatusCreated, resp)
			return
		}
		var rejection *afip.RejectionError
		if errors.As(err, &rejection) {
			http.Error(w, rejection.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, comprobanteJSON(c))
}

func (h *handler) GetFactura(w http.ResponseWriter, r *http.Request) {
	c, ok := h.factura(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, comprobanteJSON(c))
}

func (h *handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	c, ok := h.factura(w, r)
	if !ok {
		return
	}
	if c.Estado != model.ComprobanteEstadoEmitido {
		http.Error(w, "comprobante no emitido", http.StatusConflict)
		return
	}

	ticket, err := h.renderer.Ticket(c)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(ticket)
}

func (h *handler) factura(w http.ResponseWriter, r *http.Request) (model.Comprobante, bool) {
	numero, err := strconv.ParseInt(r.PathValue("numero"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return model.Comprobante{}, false
	}

	c, err := h.service.Comprobante(r.Context(), numero)
	if err != nil {
		h.writeError(w, err)
		return model.Comprobante{}, false
	}
	return c, true
}

type AbrirCajaJSONRequest struct {
	SaldoInicial decimal.Decimal `json:"saldoInicial"`
}

type CerrarCajaJSONRequest struct {
	SaldoDeclarado decimal.Decimal `json:"saldoDeclarado"`
}

type CajaJSONResponse struct {
	ID             string           `json:"id"`
	Estado         string           `json:"estado"`
	FechaApertura  time.Time        `json:"fechaApertura"`
	FechaCierre    *time.Time       `json:"fechaCierre,omitempty"`
	SaldoInicial   decimal.Decimal  `json:"saldoInicial"`
	SaldoActual    decimal.Decimal  `json:"saldoActual"`
	SaldoDeclarado *decimal.Decimal `json:"saldoDeclarado,omitempty"`
	Diferencia     *decimal.Decimal `json:"diferencia,omitempty"`
}

func cajaJSON(sesion model.CajaSesion) CajaJSONResponse {
	return CajaJSONResponse{
		ID:             sesion.ID.String(),
		Estado:         sesion.Estado,
		FechaApertura:  sesion.FechaApertura,
		FechaCierre:    sesion.FechaCierre,
		SaldoInicial:   sesion.SaldoInicial,
		SaldoActual:    sesion.SaldoActual,
		SaldoDeclarado: sesion.SaldoDeclarado,
		Diferencia:     sesion.Diferencia,
	}
}

func (h *handler) AbrirCaja(w http.ResponseWriter, r *http.Request) {
	var req AbrirCajaJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sesion, err := h.service.AbrirCaja(r.Context(), req.SaldoInicial)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cajaJSON(sesion))
}

func (h *handler) CerrarCaja(w http.ResponseWriter, r *http.Request) {
	var req CerrarCajaJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sesion, err := h.service.CerrarCaja(r.Context(), req.SaldoDeclarado)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cajaJSON(sesion))
}

func (h *handler) GetCaja(w http.ResponseWriter, r *http.Request) {
	sesion, err := h.service.CajaActual(r.Context())
	if err != nil {
		if errors.Is(err, caja.ErrSesionNoAbierta) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cajaJSON(sesion))
}

type MovimientoJSONRequest struct {
	Tipo        string          `json:"tipo" validate:"required,oneof=ingreso egreso"`
	Monto       decimal.Decimal `json:"monto" validate:"required"`
	Descripcion string          `json:"descripcion" validate:"required"`
	FormaPago   string          `json:"formaPago" validate:"required"`
}

type MovimientoJSONResponse struct {
	ID          string          `json:"id"`
	Tipo        string          `json:"tipo"`
	Monto       decimal.Decimal `json:"monto"`
	Descripcion string          `json:"descripcion"`
	FormaPago   string          `json:"formaPago"`
	Fecha       time.Time       `json:"fecha"`
	Comprobante string          `json:"comprobante,omitempty"`
}

func movimientoJSON(mov model.Movimiento) MovimientoJSONResponse {
	return MovimientoJSONResponse{
		ID:          mov.ID.String(),
		Tipo:        mov.Tipo,
		Monto:       mov.Monto,
		Descripcion: mov.Descripcion,
		FormaPago:   mov.FormaPago,
		Fecha:       mov.Fecha,
		Comprobante: mov.Comprobante,
	}
}

func (h *handler) PostMovimiento(w http.ResponseWriter, r *http.Request) {
	var req MovimientoJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mov, err := h.service.RegistrarMovimiento(r.Context(), model.Movimiento{
		Tipo:        req.Tipo,
		Monto:       req.Monto,
		Descripcion: req.Descripcion,
		FormaPago:   req.FormaPago,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movimientoJSON(mov))
}

func (h *handler) GetMovimientos(w http.ResponseWriter, r *http.Request) {
	movs, err := h.service.Movimientos(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	movsJSON := make([]MovimientoJSONResponse, 0, len(movs))
	for _, mov := range movs {
		movsJSON = append(movsJSON, movimientoJSON(mov))
	}
	writeJSON(w, http.StatusOK, movsJSON)
}

func (h *handler) GetReporte(w http.ResponseWriter, r *http.Request) {
	sesion, err := h.service.CajaActual(r.Context())
	if err != nil {
		if errors.Is(err, caja.ErrSesionNoAbierta) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.writeError(w, err)
		return
	}
	movs, err := h.service.Movimientos(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	reporte, err := h.renderer.ReporteCaja(sesion, movs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(reporte)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientData),
		errors.Is(err, fiscal.ErrMalformedAmount),
		errors.Is(err, afip.ErrInvalidInvoiceData),
		errors.Is(err, caja.ErrMontoInvalido):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNoExiste):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, caja.ErrSesionAbierta),
		errors.Is(err, caja.ErrSesionNoAbierta):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrVentaRechazada):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, afip.ErrMalformedResponse):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.zaplog.Error("internal error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
