package afip

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"puntoventa/internal/model"
)

// ErrMalformedResponse marks a reply that does not match the expected shape:
// a transport-level problem, retryable by the caller. A business rejection is
// a *RejectionError instead and will never succeed as formed.
var ErrMalformedResponse = errors.New("malformed authority response")

type AuthorityError struct {
	Code int
	Msg  string
}

// RejectionError carries the authority's reported errors verbatim.
type RejectionError struct {
	Errores []AuthorityError
}

func (e *RejectionError) Error() string {
	msgs := make([]string, 0, len(e.Errores))
	for _, ae := range e.Errores {
		msgs = append(msgs, fmt.Sprintf("%d: %s", ae.Code, ae.Msg))
	}
	return "rechazado por AFIP: " + strings.Join(msgs, "; ")
}

// Retryable reports whether the error classifies as transient. Rejections and
// local input errors are final.
func Retryable(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// Response shape as consumed. Decoding matches local element names, so the
// soap: prefix of the reply is irrelevant.
type respEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Response struct {
			Result respResult `xml:"FECAESolicitarResult"`
		} `xml:"FECAESolicitarResponse"`
	} `xml:"Body"`
}

type respResult struct {
	Errors struct {
		Err []respErr `xml:"Err"`
	} `xml:"Errors"`
	FeDetResp struct {
		Det []respDet `xml:"FECAEDetResponse"`
	} `xml:"FeDetResp"`
}

type respErr struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type respDet struct {
	CAE           string `xml:"CAE"`
	CAEFchVto     string `xml:"CAEFchVto"`
	Observaciones struct {
		Obs []respErr `xml:"Obs"`
	} `xml:"Observaciones"`
}

// ParseResponse extracts the authorization from a raw reply, distinguishing a
// reported rejection from a reply that is simply not understandable.
func ParseResponse(raw []byte) (model.Autorizacion, error) {
	var env respEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return model.Autorizacion{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result := env.Body.Response.Result

	if len(result.Errors.Err) > 0 {
		rejection := &RejectionError{}
		for _, e := range result.Errors.Err {
			rejection.Errores = append(rejection.Errores, AuthorityError{Code: e.Code, Msg: e.Msg})
		}
		return model.Autorizacion{}, rejection
	}

	if len(result.FeDetResp.Det) == 0 {
		return model.Autorizacion{}, fmt.Errorf("%w: missing detail block", ErrMalformedResponse)
	}
	det := result.FeDetResp.Det[0]
	if det.CAE == "" {
		return model.Autorizacion{}, fmt.Errorf("%w: missing CAE", ErrMalformedResponse)
	}

	vencimiento, err := time.Parse("20060102", det.CAEFchVto)
	if err != nil {
		return model.Autorizacion{}, fmt.Errorf("%w: CAEFchVto %q", ErrMalformedResponse, det.CAEFchVto)
	}

	// advisory only, surfaced but never blocking
	var observaciones []string
	for _, obs := range det.Observaciones.Obs {
		observaciones = append(observaciones, fmt.Sprintf("%d: %s", obs.Code, obs.Msg))
	}

	return model.Autorizacion{
		CAE:           det.CAE,
		Vencimiento:   vencimiento,
		Observaciones: observaciones,
	}, nil
}
