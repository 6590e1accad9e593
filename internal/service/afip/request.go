package afip

import (
	"encoding/xml"
	"errors"

	"puntoventa/internal/fiscal"
	"puntoventa/internal/model"
)

var ErrInvalidInvoiceData = errors.New("invalid invoice data")

// Auth carries the WSAA credentials placed in the request header block.
type Auth struct {
	Token string
	Sign  string
	CUIT  string
}

// FECAESolicitar envelope. Structure and field names are fixed by the
// authority; one detail block per request.
type soapEnvelope struct {
	XMLName   xml.Name `xml:"soapenv:Envelope"`
	XMLNSSoap string   `xml:"xmlns:soapenv,attr"`
	XMLNSAr   string   `xml:"xmlns:ar,attr"`
	Header    struct{} `xml:"soapenv:Header"`
	Body      soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	Solicitar feCAESolicitar `xml:"ar:FECAESolicitar"`
}

type feCAESolicitar struct {
	Auth soapAuth `xml:"ar:Auth"`
	Req  feCAEReq `xml:"ar:FeCAEReq"`
}

type soapAuth struct {
	Token string `xml:"ar:Token"`
	Sign  string `xml:"ar:Sign"`
	Cuit  string `xml:"ar:Cuit"`
}

type feCAEReq struct {
	Cab feCabReq `xml:"ar:FeCabReq"`
	Det feDetReq `xml:"ar:FeDetReq"`
}

type feCabReq struct {
	CantReg  int `xml:"ar:CantReg"`
	PtoVta   int `xml:"ar:PtoVta"`
	CbteTipo int `xml:"ar:CbteTipo"`
}

type feDetReq struct {
	Det feCAEDetRequest `xml:"ar:FECAEDetRequest"`
}

type feCAEDetRequest struct {
	Concepto   int     `xml:"ar:Concepto"`
	DocTipo    int     `xml:"ar:DocTipo"`
	DocNro     string  `xml:"ar:DocNro"`
	CbteDesde  int64   `xml:"ar:CbteDesde"`
	CbteHasta  int64   `xml:"ar:CbteHasta"`
	CbteFch    string  `xml:"ar:CbteFch"`
	ImpTotal   string  `xml:"ar:ImpTotal"`
	ImpTotConc string  `xml:"ar:ImpTotConc"`
	ImpNeto    string  `xml:"ar:ImpNeto"`
	ImpOpEx    string  `xml:"ar:ImpOpEx"`
	ImpIVA     string  `xml:"ar:ImpIVA"`
	ImpTrib    string  `xml:"ar:ImpTrib"`
	MonId      string  `xml:"ar:MonId"`
	MonCotiz   string  `xml:"ar:MonCotiz"`
	Iva        soapIva `xml:"ar:Iva"`
}

type soapIva struct {
	Alic alicIva `xml:"ar:AlicIva"`
}

type alicIva struct {
	Id      int    `xml:"ar:Id"`
	BaseImp string `xml:"ar:BaseImp"`
	Importe string `xml:"ar:Importe"`
}

const (
	nsSoap = "http://schemas.xmlsoap.org/soap/envelope/"
	nsAr   = "http://ar.gov.afip.dif.FEV1/"

	conceptoProductos = 1
	// 5 = 21%
	alicuotaGeneral = 5
)

// BuildRequest serializes an allocated comprobante into the authorization
// request envelope. Invalid drafts fail here, they are never coerced.
func BuildRequest(c model.Comprobante, auth Auth) ([]byte, error) {
	if c.ImporteTotal.Sign() <= 0 {
		return nil, ErrInvalidInvoiceData
	}
	if c.Numero <= 0 {
		return nil, ErrInvalidInvoiceData
	}
	if c.Comprador.DocNro == "" {
		return nil, ErrInvalidInvoiceData
	}
	if c.Comprador.DocTipo != fiscal.DocTipo(c.Comprador.DocNro) {
		return nil, ErrInvalidInvoiceData
	}

	env := soapEnvelope{
		XMLNSSoap: nsSoap,
		XMLNSAr:   nsAr,
		Body: soapBody{
			Solicitar: feCAESolicitar{
				Auth: soapAuth{
					Token: auth.Token,
					Sign:  auth.Sign,
					Cuit:  auth.CUIT,
				},
				Req: feCAEReq{
					Cab: feCabReq{
						CantReg:  1,
						PtoVta:   c.Serie.PuntoVenta,
						CbteTipo: c.Serie.TipoComprobante,
					},
					Det: feDetReq{
						Det: feCAEDetRequest{
							Concepto:   conceptoProductos,
							DocTipo:    c.Comprador.DocTipo,
							DocNro:     c.Comprador.DocNro,
							CbteDesde:  c.Numero,
							CbteHasta:  c.Numero,
							CbteFch:    c.Fecha.Format("20060102"),
							ImpTotal:   c.ImporteTotal.StringFixed(2),
							ImpTotConc: "0.00",
							ImpNeto:    c.ImporteNeto.StringFixed(2),
							ImpOpEx:    "0.00",
							ImpIVA:     c.ImporteIVA.StringFixed(2),
							ImpTrib:    "0.00",
							MonId:      "PES",
							MonCotiz:   "1.000",
							Iva: soapIva{
								Alic: alicIva{
									Id:      alicuotaGeneral,
									BaseImp: c.ImporteNeto.StringFixed(2),
									Importe: c.ImporteIVA.StringFixed(2),
								},
							},
						},
					},
				},
			},
		},
	}

	body, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
