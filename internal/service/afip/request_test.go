package afip

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"puntoventa/internal/model"
)

func comprobanteDePrueba() model.Comprobante {
	return model.Comprobante{
		Serie:        model.Serie{PuntoVenta: 1, TipoComprobante: model.TipoFacturaC},
		Numero:       42,
		Fecha:        time.Date(2025, 4, 18, 10, 0, 0, 0, time.UTC),
		Comprador:    model.Comprador{DocTipo: 96, DocNro: "99999999", Nombre: "CONSUMIDOR FINAL"},
		ImporteTotal: decimal.RequireFromString("121.00"),
		ImporteNeto:  decimal.RequireFromString("100.00"),
		ImporteIVA:   decimal.RequireFromString("21.00"),
	}
}

var authDePrueba = Auth{Token: "tok", Sign: "sig", CUIT: "20267565393"}

func TestBuildRequest(t *testing.T) {
	body, err := BuildRequest(comprobanteDePrueba(), authDePrueba)
	require.NoError(t, err)
	request := string(body)

	require.True(t, strings.HasPrefix(request, "<?xml"))
	for _, elem := range []string{
		`xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"`,
		`xmlns:ar="http://ar.gov.afip.dif.FEV1/"`,
		"<ar:Token>tok</ar:Token>",
		"<ar:Sign>sig</ar:Sign>",
		"<ar:Cuit>20267565393</ar:Cuit>",
		"<ar:CantReg>1</ar:CantReg>",
		"<ar:PtoVta>1</ar:PtoVta>",
		"<ar:CbteTipo>11</ar:CbteTipo>",
		"<ar:Concepto>1</ar:Concepto>",
		"<ar:DocTipo>96</ar:DocTipo>",
		"<ar:DocNro>99999999</ar:DocNro>",
		"<ar:CbteDesde>42</ar:CbteDesde>",
		"<ar:CbteHasta>42</ar:CbteHasta>",
		"<ar:CbteFch>20250418</ar:CbteFch>",
		"<ar:ImpTotal>121.00</ar:ImpTotal>",
		"<ar:ImpTotConc>0.00</ar:ImpTotConc>",
		"<ar:ImpNeto>100.00</ar:ImpNeto>",
		"<ar:ImpOpEx>0.00</ar:ImpOpEx>",
		"<ar:ImpIVA>21.00</ar:ImpIVA>",
		"<ar:ImpTrib>0.00</ar:ImpTrib>",
		"<ar:MonId>PES</ar:MonId>",
		"<ar:MonCotiz>1.000</ar:MonCotiz>",
		"<ar:Id>5</ar:Id>",
		"<ar:BaseImp>100.00</ar:BaseImp>",
		"<ar:Importe>21.00</ar:Importe>",
	} {
		require.Contains(t, request, elem)
	}
}

func TestBuildRequestDocTipoCUIT(t *testing.T) {
	c := comprobanteDePrueba()
	c.Comprador = model.Comprador{DocTipo: 80, DocNro: "20267565393", Nombre: "ACME SRL"}

	body, err := BuildRequest(c, authDePrueba)
	require.NoError(t, err)
	require.Contains(t, string(body), "<ar:DocTipo>80</ar:DocTipo>")
	require.Contains(t, string(body), "<ar:DocNro>20267565393</ar:DocNro>")
}

func TestBuildRequestDatosInvalidos(t *testing.T) {
	// total no positivo
	c := comprobanteDePrueba()
	c.ImporteTotal = decimal.RequireFromString("-121.00")
	_, err := BuildRequest(c, authDePrueba)
	require.ErrorIs(t, err, ErrInvalidInvoiceData)

	// sin número asignado
	c = comprobanteDePrueba()
	c.Numero = 0
	_, err = BuildRequest(c, authDePrueba)
	require.ErrorIs(t, err, ErrInvalidInvoiceData)

	// sin documento del comprador
	c = comprobanteDePrueba()
	c.Comprador.DocNro = ""
	_, err = BuildRequest(c, authDePrueba)
	require.ErrorIs(t, err, ErrInvalidInvoiceData)

	// tipo de documento inconsistente con el número
	c = comprobanteDePrueba()
	c.Comprador.DocTipo = 80
	_, err = BuildRequest(c, authDePrueba)
	require.ErrorIs(t, err, ErrInvalidInvoiceData)

	// los rechazos locales no son retryables
	require.False(t, Retryable(ErrInvalidInvoiceData))
}
