package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/connector"
)

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Run the event channel, correlator and console API for one tenant",
	Before: prepareApp,
	Action: cmdServe,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "tenant",
			Usage: "Override channel.tenant_id",
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "Override http.listen",
		},
	},
}

func cmdServe(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	log := getLogger(ctx)
	if v := ctx.String("tenant"); v != "" {
		cfg.Channel.TenantID = v
	}
	if v := ctx.String("listen"); v != "" {
		cfg.HTTP.Listen = v
	}
	runCtx, cancel := signalContext(ctx.Context)
	defer cancel()

	engine, err := connector.NewEngine(runCtx, log, cfg, connector.EngineOptions{})
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer engine.Close()
	log.Info().
		Str("tenant_id", cfg.Channel.TenantID).
		Str("listen", cfg.HTTP.Listen).
		Bool("resolver", engine.Resolver != nil).
		Msg("Serving")
	return engine.Run(runCtx)
}
