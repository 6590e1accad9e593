package config

type Config struct {
	AfipURL    string
	AfipToken  string
	AfipSign   string
	CUIT       string
	PuntoVenta int
}
