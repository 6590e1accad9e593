package fiscal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"puntoventa/internal/model"
)

const qrBaseURL = "https://www.afip.gob.ar/fe/qr/?p="

// qrPayload follows the authority's published scheme. Key names and order are
// fixed by that scheme; field order here dictates the JSON order.
type qrPayload struct {
	Ver        int         `json:"ver"`
	Fecha      string      `json:"fecha"`
	CUIT       int64       `json:"cuit"`
	PtoVta     int         `json:"ptoVta"`
	TipoCmp    int         `json:"tipoCmp"`
	NroCmp     int64       `json:"nroCmp"`
	Importe    json.Number `json:"importe"`
	Moneda     string      `json:"moneda"`
	Ctz        int         `json:"ctz"`
	TipoDocRec int         `json:"tipoDocRec"`
	NroDocRec  int64       `json:"nroDocRec"`
	TipoCodAut string      `json:"tipoCodAut"`
	CodAut     int64       `json:"codAut"`
}

// QRURL assembles the printed-invoice verification URL: the payload above,
// encoded as base64 of its JSON form.
func QRURL(c model.Comprobante, cuitEmisor string) (string, error) {
	cuit, err := strconv.ParseInt(cuitEmisor, 10, 64)
	if err != nil {
		return "", fmt.Errorf("cuit emisor %q: %w", cuitEmisor, err)
	}
	docNro, err := strconv.ParseInt(c.Comprador.DocNro, 10, 64)
	if err != nil {
		return "", fmt.Errorf("doc receptor %q: %w", c.Comprador.DocNro, err)
	}
	codAut, err := strconv.ParseInt(c.CAE, 10, 64)
	if err != nil {
		return "", fmt.Errorf("cae %q: %w", c.CAE, err)
	}

	payload := qrPayload{
		Ver:        1,
		Fecha:      c.Fecha.Format("2006-01-02"),
		CUIT:       cuit,
		PtoVta:     c.Serie.PuntoVenta,
		TipoCmp:    c.Serie.TipoComprobante,
		NroCmp:     c.Numero,
		Importe:    json.Number(c.ImporteTotal.StringFixed(2)),
		Moneda:     "PES",
		Ctz:        1,
		TipoDocRec: c.Comprador.DocTipo,
		NroDocRec:  docNro,
		TipoCodAut: "E",
		CodAut:     codAut,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return qrBaseURL + base64.StdEncoding.EncodeToString(data), nil
}
