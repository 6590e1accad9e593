package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	handlerConfig "puntoventa/internal/handler/config"
	loggerConfig "puntoventa/internal/logger/config"
	serviceConfig "puntoventa/internal/service/config"
	storeConfig "puntoventa/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config
	Service serviceConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
}

func GetConfig() Config {
	// optional .env next to the binary
	_ = godotenv.Load()

	var cfg Config

	flag.StringVar(&cfg.Handler.ServerAddr, "a", ":8080", "server address")
	flag.StringVar(&cfg.Store.DBDsn, "d", "", "database dsn")
	flag.StringVar(&cfg.Logger.LogLevel, "l", "info", "log level")
	flag.StringVar(&cfg.Service.AfipURL, "afip", "https://wswhomo.afip.gov.ar/wsfev1/service.asmx", "afip wsfe url")
	flag.IntVar(&cfg.Service.PuntoVenta, "pv", 1, "punto de venta")
	flag.Parse()

	if addr, ok := os.LookupEnv("RUN_ADDRESS"); ok {
		cfg.Handler.ServerAddr = addr
	}
	if dsn, ok := os.LookupEnv("DATABASE_URI"); ok {
		cfg.Store.DBDsn = dsn
	}
	if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Logger.LogLevel = lvl
	}
	if url, ok := os.LookupEnv("AFIP_WSFE_URL"); ok {
		cfg.Service.AfipURL = url
	}
	if pv, ok := os.LookupEnv("PUNTO_VENTA"); ok {
		if n, err := strconv.Atoi(pv); err == nil {
			cfg.Service.PuntoVenta = n
		}
	}
	cfg.Service.AfipToken = os.Getenv("AFIP_TOKEN")
	cfg.Service.AfipSign = os.Getenv("AFIP_SIGN")
	cfg.Service.CUIT = os.Getenv("CUIT")

	return cfg
}
