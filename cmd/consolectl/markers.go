package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/projection"
)

var markersCommand = &cli.Command{
	Name:   "markers",
	Usage:  "Inspect stored read markers and hidden conversations",
	Before: prepareApp,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "tenant",
			Usage: "Override channel.tenant_id",
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List conversations with stored state",
			Action: cmdMarkersList,
		},
		{
			Name:      "clear",
			Usage:     "Drop the read marker and hidden flag of a conversation",
			ArgsUsage: "CONVERSATION",
			Action:    cmdMarkersClear,
		},
	},
}

func openStore(ctx *cli.Context) (*projection.SQLiteStore, error) {
	cfg := getConfig(ctx)
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("store.path is not configured, markers only live in memory")
	}
	tenant := ctx.String("tenant")
	if tenant == "" {
		tenant = cfg.Channel.TenantID
	}
	return projection.OpenSQLiteStore(ctx.Context, cfg.Store.Path, tenant)
}

func cmdMarkersList(ctx *cli.Context) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	markers, err := store.Scan(ctx.Context, projection.KeyReadMarker)
	if err != nil {
		return err
	}
	hidden, err := store.Scan(ctx.Context, projection.KeyHidden)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(markers)+len(hidden))
	for id := range markers {
		ids = append(ids, id)
	}
	for id := range hidden {
		if _, ok := markers[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSATION\tREAD UNTIL\tHIDDEN SINCE")
	for _, id := range ids {
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, orDash(markers[id]), orDash(hidden[id]))
	}
	return w.Flush()
}

func cmdMarkersClear(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a conversation")
	}
	id := ctx.Args().Get(0)
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	for _, key := range []string{projection.KeyReadMarker, projection.KeyHidden} {
		if err = store.Delete(ctx.Context, id, key); err != nil {
			return err
		}
	}
	fmt.Printf("Cleared stored state of '%s'\n", id)
	return nil
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
