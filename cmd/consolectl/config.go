package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/connector"
)

var configCommand = &cli.Command{
	Name:   "config",
	Usage:  "Generate an example config file",
	Action: cmdConfig,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Value:   "-",
			Usage:   "Output file path (- for stdout)",
		},
		&cli.StringFlag{
			Name:  "tenant",
			Usage: "Tenant id to put in the generated file",
		},
	},
}

func cmdConfig(ctx *cli.Context) error {
	output := ctx.String("output")
	data := []byte(connector.ExampleConfig)
	if tenant := ctx.String("tenant"); tenant != "" {
		var err error
		data, err = connector.SetTenant(data, tenant)
		if err != nil {
			return err
		}
	}
	if output == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", output)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(output, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Config written to %s\n", output)
	return nil
}
