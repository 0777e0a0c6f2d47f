package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/QYUbit/axnet/pkg/backend"
	"github.com/QYUbit/axnet/pkg/backend/mem"
	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/config"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
	"github.com/QYUbit/axnet/pkg/tick"
)

var bots int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an echo server",
	Long: `Run a server that sends every received message back to its sender on
the same channel. With the mem backend the server runs in process together
with --bots simulated clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&bots, "bots", 2, "simulated clients for the mem backend")
}

func serve(ctx context.Context) error {
	set, err := cfg.ChannelSet()
	if err != nil {
		return err
	}

	core := netcore.NewServer(netcore.WithLogger(logger))
	sessions := session.NewManager(core, session.WithLogger(logger))
	loop := tick.New(cfg.TickInterval(), tick.WithLogger(logger))

	var pump backend.Pump
	if cfg.Backend == config.BackendMem {
		core.SetupChannels(set.Count())
		sessions.Start()
		hub := mem.NewHub(core, sessions, mem.WithLogger(logger))
		if err := addBots(loop, hub, set); err != nil {
			return err
		}
		pump = memPump{hub: hub}
		defer hub.Stop()
	} else {
		srv, err := startServer(ctx, cfg, set, core, sessions)
		if err != nil {
			return err
		}
		defer srv.Close()
		pump = srv
	}

	backend.Install(loop, pump)
	loop.AddSystemFunc(tick.Update, func(tick.Context) {
		logSessionEvents(sessions)
		echo(core, set)
	})

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// echo sends every received message back to its sender.
func echo(core *netcore.Server, set *channel.Set) {
	for _, ch := range set.All() {
		for _, m := range core.ReceiveAll(ch.ID) {
			core.Send(m.Peer, ch.ID, m.Payload)
		}
	}
}

func logSessionEvents(sessions *session.Manager) {
	for _, e := range sessions.DrainEvents() {
		switch e.Kind {
		case session.PeerConnected:
			logger.Info("peer joined", "peer", e.Peer, "peers", sessions.Len())
		case session.PeerDisconnected:
			logger.Info("peer left", "peer", e.Peer, "reason", e.Reason, "peers", sessions.Len())
		}
	}
}

// memPump exchanges the hub's queues once per tick, after the server and
// bots have sent.
type memPump struct {
	hub *mem.Hub
}

func (memPump) Ingest()  {}
func (p memPump) Flush() { p.hub.Exchange() }

func addBots(loop *tick.Loop, hub *mem.Hub, set *channel.Set) error {
	clients := make([]*netcore.Client, 0, bots)
	for i := 0; i < bots; i++ {
		c := netcore.NewClient(netcore.WithLogger(logger))
		if _, err := hub.Connect(c); err != nil {
			return fmt.Errorf("bot %d: %w", i, err)
		}
		clients = append(clients, c)
	}

	loop.AddSystemFunc(tick.Update, func(ctx tick.Context) {
		for i, c := range clients {
			for _, ch := range set.All() {
				for {
					msg, ok := c.Receive(ch.ID)
					if !ok {
						break
					}
					logger.Debug("bot received echo", "bot", i, "channel", ch.Name, "payload", string(msg))
				}
			}
			c.Send(channel.ID(int(ctx.Tick)%set.Count()), []byte(fmt.Sprintf("bot %d tick %d", i, ctx.Tick)))
		}
	})
	return nil
}
