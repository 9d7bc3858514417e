package main

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/connector"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var resolveCommand = &cli.Command{
	Name:      "resolve",
	Usage:     "Look up the phone number behind an anonymized chat identifier",
	ArgsUsage: "LID",
	Before:    prepareApp,
	Action:    cmdResolve,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "session",
			Usage: "Backend session to resolve with. Defaults to resolver.session",
		},
	},
}

func cmdResolve(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify an identifier")
	}
	lid := ctx.Args().Get(0)
	if !correlator.IsLID(lid) {
		return fmt.Errorf("%s is not an anonymized identifier", lid)
	}
	cfg := getConfig(ctx)
	if cfg.Resolver.URL == "" {
		return fmt.Errorf("resolver.url is not configured")
	}
	session := ctx.String("session")
	if session == "" {
		session = cfg.Resolver.Session
	}
	if session == "" {
		return correlator.ErrNoActiveSession
	}
	backend := &correlator.HTTPBackend{BaseURL: cfg.Resolver.URL, Token: cfg.Resolver.Token}
	res, err := backend.ResolveLID(ctx.Context, session, lid)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", lid, err)
	}

	phone := correlator.NormalizePhone(res.Phone)
	if phone == "" {
		phone = correlator.NormalizePhone(res.ChatID)
	}
	out := map[string]any{
		"lid":     lid,
		"chat_id": res.ChatID,
		"phone":   phone,
	}
	if cfg.Snapshot.Path != "" {
		snap, err := connector.LoadSnapshotFile(cfg.Snapshot.Path)
		if err != nil {
			return err
		}
		mapping, _ := correlator.BuildIdentityMapping(snap.Contacts)
		if contactID, ok := mapping.Lookup(phone); ok {
			out["contact_id"] = contactID
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
