package main

import (
	"log"

	"puntoventa/internal/config"
	"puntoventa/internal/handler"
	"puntoventa/internal/logger"
	"puntoventa/internal/render"
	"puntoventa/internal/service"
	"puntoventa/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.GetConfig()

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}

	service, err := service.NewService(cfg.Service, store, zaplog)
	if err != nil {
		return err
	}

	renderer := render.NewText()

	return handler.Serve(cfg.Handler, service, renderer, zaplog)
}
