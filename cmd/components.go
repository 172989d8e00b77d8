// File: cmd/components.go
package cmd

import (
	"go.uber.org/zap"

	"github.com/factuscan/factuscan/internal/backend"
	"github.com/factuscan/factuscan/internal/bills"
	"github.com/factuscan/factuscan/internal/browser"
	"github.com/factuscan/factuscan/internal/captcha"
	"github.com/factuscan/factuscan/internal/config"
	"github.com/factuscan/factuscan/internal/extract"
	"github.com/factuscan/factuscan/internal/interpreter"
)

// components holds the initialized services every subcommand composes from.
type components struct {
	Backend     *backend.Client
	Interpreter *interpreter.Interpreter
	Extractor   *extract.Service
}

// initializeComponents is the composition root: it wires the backend client,
// browser factory, captcha solver, persistence gateway, interpreter, and
// extractor together from configuration.
func initializeComponents(cfg *config.Config, logger *zap.Logger) *components {
	client := backend.NewClient(cfg.Backend, logger)
	factory := browser.NewFactory(cfg.Browser, logger)
	solver := captcha.NewClient(cfg.Captcha, logger)
	gateway := bills.NewGateway(client, logger)

	interp := interpreter.New(factory, solver, gateway, interpreter.Options{
		MaxAttempts: cfg.Worker.MaxAttempts,
		ActionWait:  cfg.Browser.ActionTimeout,
	}, logger)

	return &components{
		Backend:     client,
		Interpreter: interp,
		Extractor:   extract.NewService(client, logger),
	}
}
