package render

import (
	"bytes"
	"text/template"

	"github.com/shopspring/decimal"

	"puntoventa/internal/caja"
	"puntoventa/internal/model"
	"puntoventa/internal/series"
)

// Renderer turns issued comprobantes and caja summaries into printable
// artifacts.
type Renderer interface {
	Ticket(c model.Comprobante) ([]byte, error)
	ReporteCaja(sesion model.CajaSesion, movs []model.Movimiento) ([]byte, error)
}

var ticketTmpl = template.Must(template.New("ticket").Parse(
	`FACTURA C {{.Numero}}
Fecha: {{.Fecha}}
{{.Comprador}} ({{.DocTipo}} {{.DocNro}})
----------------------------------------
{{range .Items}}{{.Descripcion}}  x{{.Cantidad}}  $ {{.Importe}}
{{end}}----------------------------------------
Neto:  $ {{.Neto}}
IVA:   $ {{.IVA}}
TOTAL: $ {{.Total}}

CAE: {{.CAE}} (vto. {{.CAEVto}})
{{.Leyenda}}
{{.QRURL}}
`))

var reporteTmpl = template.Must(template.New("reporte").Parse(
	`CAJA {{.Estado}} - apertura {{.Apertura}}
Saldo inicial: $ {{.SaldoInicial}}
Saldo actual:  $ {{.SaldoActual}}
{{if .Cerrada}}Saldo declarado: $ {{.SaldoDeclarado}}
Diferencia:      $ {{.Diferencia}}
{{end}}----------------------------------------
Por forma de pago:
{{range .FormasPago}}  {{.FormaPago}}: $ {{.Total}}
{{end}}Productos:
{{range .Productos}}  {{.Descripcion}}  x{{.Cantidad}}  $ {{.Total}}
{{end}}`))

type text struct{}

func NewText() Renderer {
	return text{}
}

type ticketItem struct {
	Descripcion string
	Cantidad    string
	Importe     string
}

func (text) Ticket(c model.Comprobante) ([]byte, error) {
	items := make([]ticketItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, ticketItem{
			Descripcion: item.Descripcion,
			Cantidad:    item.Cantidad.String(),
			Importe:     item.PrecioUnitario.Mul(item.Cantidad).StringFixed(2),
		})
	}

	var buf bytes.Buffer
	err := ticketTmpl.Execute(&buf, map[string]any{
		"Numero":    series.FormatCompleto(c.Serie, c.Numero),
		"Fecha":     c.Fecha.Format("2006-01-02"),
		"Comprador": c.Comprador.Nombre,
		"DocTipo":   c.Comprador.DocTipo,
		"DocNro":    c.Comprador.DocNro,
		"Items":     items,
		"Neto":      c.ImporteNeto.StringFixed(2),
		"IVA":       c.ImporteIVA.StringFixed(2),
		"Total":     c.ImporteTotal.StringFixed(2),
		"CAE":       c.CAE,
		"CAEVto":    c.CAEVencimiento.Format("2006-01-02"),
		"Leyenda":   c.Leyenda,
		"QRURL":     c.QRURL,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type formaPagoLine struct {
	FormaPago string
	Total     string
}

type productoLine struct {
	Descripcion string
	Cantidad    string
	Total       string
}

func (text) ReporteCaja(sesion model.CajaSesion, movs []model.Movimiento) ([]byte, error) {
	var formasPago []formaPagoLine
	for formaPago, total := range caja.TotalesPorFormaPago(movs) {
		formasPago = append(formasPago, formaPagoLine{FormaPago: formaPago, Total: total.StringFixed(2)})
	}

	var productos []productoLine
	for descripcion, stat := range caja.EstadisticasProductos(movs) {
		productos = append(productos, productoLine{
			Descripcion: descripcion,
			Cantidad:    stat.Cantidad.String(),
			Total:       stat.Total.StringFixed(2),
		})
	}

	cerrada := sesion.Estado == model.CajaEstadoCerrada
	declarado, diferencia := decimal.Zero, decimal.Zero
	if sesion.SaldoDeclarado != nil {
		declarado = *sesion.SaldoDeclarado
	}
	if sesion.Diferencia != nil {
		diferencia = *sesion.Diferencia
	}

	var buf bytes.Buffer
	err := reporteTmpl.Execute(&buf, map[string]any{
		"Estado":         sesion.Estado,
		"Apertura":       sesion.FechaApertura.Format("2006-01-02 15:04"),
		"SaldoInicial":   sesion.SaldoInicial.StringFixed(2),
		"SaldoActual":    sesion.SaldoActual.StringFixed(2),
		"Cerrada":        cerrada,
		"SaldoDeclarado": declarado.StringFixed(2),
		"Diferencia":     diferencia.StringFixed(2),
		"FormasPago":     formasPago,
		"Productos":      productos,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
