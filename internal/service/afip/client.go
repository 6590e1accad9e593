package afip

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"puntoventa/internal/model"
)

const soapAction = "http://ar.gov.afip.dif.FEV1/FECAESolicitar"

// Client requests a CAE for one comprobante. Retry/backoff policy belongs to
// the caller; the client only classifies outcomes.
type Client interface {
	Solicitar(ctx context.Context, c model.Comprobante) (model.Autorizacion, error)
}

type client struct {
	serviceURL string
	auth       Auth
	http       *resty.Client
}

func NewClient(serviceURL string, auth Auth) Client {
	return &client{
		serviceURL: serviceURL,
		auth:       auth,
		http:       resty.New(),
	}
}

func (client *client) Solicitar(ctx context.Context, c model.Comprobante) (model.Autorizacion, error) {
	body, err := BuildRequest(c, client.auth)
	if err != nil {
		return model.Autorizacion{}, err
	}

	resp, err := client.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/xml; charset=utf-8").
		SetHeader("SOAPAction", soapAction).
		SetBody(body).
		Post(client.serviceURL)
	if err != nil {
		// no confirmed response, not a confirmed rejection
		return model.Autorizacion{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return model.Autorizacion{}, fmt.Errorf("%w: status %d", ErrMalformedResponse, resp.StatusCode())
	}

	return ParseResponse(resp.Body())
}
