package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/connector"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/correlator"
	"github.com/Gattoajatooo/back-sparta-sub004/pkg/eventchannel"
)

var watchCommand = &cli.Command{
	Name:   "watch",
	Usage:  "Stream correlated conversation updates of one or more tenants to stdout",
	Before: prepareApp,
	Action: cmdWatch,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "tenant",
			Aliases: []string{"t"},
			Usage:   "Tenant to watch, repeatable. Defaults to channel.tenant_id",
		},
		&cli.StringSliceFlag{
			Name:  "kind",
			Usage: "Event kind to show, repeatable. Defaults to channel.kinds",
		},
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "Print frames as received instead of correlated updates",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print updates as JSON lines",
		},
	},
}

func cmdWatch(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	log := getLogger(ctx)
	tenants := ctx.StringSlice("tenant")
	if len(tenants) == 0 && cfg.Channel.TenantID != "" {
		tenants = []string{cfg.Channel.TenantID}
	}
	if len(tenants) == 0 {
		return eventchannel.ErrNoTenant
	}
	opts := cfg.Channel.Options()
	var kinds []eventchannel.Kind
	for _, k := range ctx.StringSlice("kind") {
		kinds = append(kinds, eventchannel.Kind(k))
	}
	if len(kinds) == 0 {
		kinds = opts.Kinds
	}

	var snap *correlator.Snapshot
	if cfg.Snapshot.Path != "" {
		s, err := connector.LoadSnapshotFile(cfg.Snapshot.Path)
		if err != nil {
			return err
		}
		snap = &s
	}

	runCtx, cancel := signalContext(ctx.Context)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)

	hub := eventchannel.NewHub(log, cfg.Channel.SocketBase(), opts)
	defer hub.Close()
	out := &updatePrinter{cfg: cfg, json: ctx.Bool("json")}
	for _, tenant := range tenants {
		tlog := log.With().Str("tenant_id", tenant).Logger()
		var handler eventchannel.Handler
		if ctx.Bool("raw") {
			handler = func(f eventchannel.Frame) {
				fmt.Printf("[%s] %s\n", tenant, strings.TrimSpace(string(f.Raw)))
			}
		} else {
			corr := correlator.New(tlog, correlator.Options{MissThreshold: cfg.Resolver.MissThreshold})
			if snap != nil {
				corr.LoadSnapshot(*snap)
				if cfg.Snapshot.Watch {
					eg.Go(func() error {
						return connector.WatchSnapshot(egCtx, tlog, cfg.Snapshot.Path, corr)
					})
				}
			}
			corr.OnUpdate(func(u correlator.Update) { out.print(tenant, u) })
			handler = corr.HandleFrame
		}
		sub, err := hub.Subscribe(tenant, kinds, handler, stateLogger(tlog))
		if err != nil {
			return err
		}
		defer sub.Close()
	}
	eg.Go(func() error {
		<-egCtx.Done()
		return nil
	})
	err := eg.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func stateLogger(log zerolog.Logger) func(eventchannel.StateChange) {
	return func(sc eventchannel.StateChange) {
		evt := log.Debug()
		if sc.Terminal() {
			evt = log.Error().AnErr("last_error", sc.Err)
		} else if sc.State == eventchannel.StateOpen {
			evt = log.Info()
		}
		evt.Str("state", sc.State.String()).
			Int("attempt", sc.Attempt).
			Dur("retry_in", sc.RetryIn).
			Str("reason", string(sc.Reason)).
			Msg("Event channel state changed")
	}
}

type updatePrinter struct {
	cfg  *connector.Config
	json bool
}

func (p *updatePrinter) print(tenant string, u correlator.Update) {
	if p.json {
		data, err := json.Marshal(map[string]any{"tenant_id": tenant, "update": u})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode update: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	if u.Kind == correlator.UpdateReloaded {
		fmt.Printf("[%s] snapshot reloaded\n", tenant)
		return
	}
	name := p.cfg.FormatDisplayname(connector.DisplaynameParams{
		ID:    u.Conversation.ID,
		Name:  u.Conversation.Name,
		Phone: u.Conversation.Phone,
	})
	line := fmt.Sprintf("[%s] %-8s %s", tenant, u.Kind, name)
	if u.PreviousID != "" && u.PreviousID != u.ConversationID {
		line += " (was " + u.PreviousID + ")"
	}
	if msg, ok := lastMessage(u); ok {
		switch u.Kind {
		case correlator.UpdateStatus:
			line += fmt.Sprintf(" %s -> %s", msg.ID, msg.Status)
			if msg.Error.Message != "" {
				line += " (" + msg.Error.Message + ")"
			}
		case correlator.UpdateMessage:
			line += ": " + msg.Body
			if msg.MediaType != "" {
				line += " [" + msg.MediaType + "]"
			}
		}
	}
	fmt.Println(line)
}

func lastMessage(u correlator.Update) (correlator.Message, bool) {
	for i := len(u.Conversation.Messages) - 1; i >= 0; i-- {
		m := u.Conversation.Messages[i]
		if u.MessageID != "" && (m.ID == u.MessageID || m.SchedulerJobID == u.MessageID) {
			return m, true
		}
	}
	return correlator.Message{}, false
}
