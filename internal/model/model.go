package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Comprobantes (facturas)

// Serie identifies an invoice numbering sequence.
type Serie struct {
	PuntoVenta      int
	TipoComprobante int
}

// Factura C (monotributo)
const TipoFacturaC = 11

const LeyendaMonotributo = "Emisor Monotributista - RG 4895/2023"

type Comprador struct {
	DocTipo int
	DocNro  string
	Nombre  string
}

// ConsumidorFinal is the default buyer when the sale carries none.
func ConsumidorFinal() Comprador {
	return Comprador{DocTipo: 96, DocNro: "99999999", Nombre: "CONSUMIDOR FINAL"}
}

type Item struct {
	Descripcion    string          `json:"descripcion"`
	Cantidad       decimal.Decimal `json:"cantidad"`
	PrecioUnitario decimal.Decimal `json:"precioUnitario"`
}

// Comprobante is the invoice record, from draft (estado pendiente, numero
// already allocated) to its terminal state. Once emitido it is never mutated.
type Comprobante struct {
	Referencia     uuid.UUID
	Serie          Serie
	Numero         int64
	Fecha          time.Time
	Comprador      Comprador
	Items          []Item
	ImporteTotal   decimal.Decimal
	ImporteNeto    decimal.Decimal
	ImporteIVA     decimal.Decimal
	Estado         string
	CAE            string
	CAEVencimiento time.Time
	Observaciones  []string
	QRURL          string
	Leyenda        string
}

const (
	ComprobanteEstadoPendiente = "pendiente"
	ComprobanteEstadoEmitido   = "emitido"
	ComprobanteEstadoRechazado = "rechazado"
)

// Autorizacion is the authority's answer for one comprobante.
type Autorizacion struct {
	CAE           string
	Vencimiento   time.Time
	Observaciones []string
}

// Venta is the sale input the issuance pipeline starts from.
// Net/VAT amounts are always derived from Total, never supplied.
type Venta struct {
	Referencia uuid.UUID
	Comprador  *Comprador
	Items      []Item
	Total      decimal.Decimal
	FormaPago  string
}

// Caja

// CajaSesion is one open-to-close window of the cash drawer.
// SaldoActual changes through movement registration only; on close it is
// frozen and kept next to the declared value, never overwritten by it.
type CajaSesion struct {
	ID             uuid.UUID
	Estado         string
	FechaApertura  time.Time
	FechaCierre    *time.Time
	SaldoInicial   decimal.Decimal
	SaldoActual    decimal.Decimal
	SaldoDeclarado *decimal.Decimal
	Diferencia     *decimal.Decimal
}

const (
	CajaEstadoAbierta = "abierta"
	CajaEstadoCerrada = "cerrada"
)

// Movimiento is one append-only entry of the session ledger.
type Movimiento struct {
	ID          uuid.UUID
	SesionID    uuid.UUID
	Tipo        string
	Monto       decimal.Decimal
	Descripcion string
	FormaPago   string
	Fecha       time.Time
	Comprobante string
	Items       []Item
}

const (
	MovimientoIngreso = "ingreso"
	MovimientoEgreso  = "egreso"
)
