package caja

import (
	"github.com/shopspring/decimal"

	"puntoventa/internal/model"
)

// Report aggregations over a session's movement log. Pure functions.

// TotalesPorFormaPago sums movements per payment method, egresos signed
// negative.
func TotalesPorFormaPago(movs []model.Movimiento) map[string]decimal.Decimal {
	totales := make(map[string]decimal.Decimal)
	for _, mov := range movs {
		formaPago := mov.FormaPago
		if formaPago == "" {
			formaPago = "sin_especificar"
		}
		monto := mov.Monto
		if mov.Tipo == model.MovimientoEgreso {
			monto = monto.Neg()
		}
		totales[formaPago] = totales[formaPago].Add(monto)
	}
	return totales
}

type EstadisticaProducto struct {
	Cantidad decimal.Decimal
	Total    decimal.Decimal
}

// EstadisticasProductos aggregates quantity and revenue per product over the
// sale movements (egresos and movements without items are skipped).
func EstadisticasProductos(movs []model.Movimiento) map[string]EstadisticaProducto {
	stats := make(map[string]EstadisticaProducto)
	for _, mov := range movs {
		if mov.Tipo != model.MovimientoIngreso {
			continue
		}
		for _, item := range mov.Items {
			if item.Descripcion == "" {
				continue
			}
			stat := stats[item.Descripcion]
			stat.Cantidad = stat.Cantidad.Add(item.Cantidad)
			stat.Total = stat.Total.Add(item.PrecioUnitario.Mul(item.Cantidad))
			stats[item.Descripcion] = stat
		}
	}
	return stats
}
