package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/QYUbit/axnet/pkg/backend"
	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/tick"
)

var (
	sendChannel string
	linger      time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a server, send stdin lines and print what comes back",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return connect(ctx, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	connectCmd.Flags().StringVar(&sendChannel, "channel", "init", "channel to send lines on")
	connectCmd.Flags().DurationVar(&linger, "linger", time.Second, "time to wait for replies after stdin ends, 0 waits for a signal")
}

func connect(ctx context.Context, in io.Reader, out io.Writer) error {
	set, err := cfg.ChannelSet()
	if err != nil {
		return err
	}
	target, ok := set.Lookup(sendChannel)
	if !ok {
		return fmt.Errorf("unknown channel %q", sendChannel)
	}

	core := netcore.NewClient(netcore.WithLogger(logger))
	client, err := newClient(cfg, set, core)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string, 64)
	go readLines(ctx, in, lines, cancel)

	loop := tick.New(cfg.TickInterval(), tick.WithLogger(logger))
	backend.Install(loop, client)

	wasConnected := false
	loop.AddSystemFunc(tick.Update, func(tick.Context) {
		if !core.IsConnected() {
			if wasConnected {
				logger.Warn("connection lost")
				cancel()
			}
			return
		}
		wasConnected = true

		printReceived(core, set, out)
		for {
			select {
			case line := <-lines:
				core.Send(target.ID, []byte(line))
			default:
				return
			}
		}
	})

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func readLines(ctx context.Context, in io.Reader, lines chan<- string, done func()) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
	if linger > 0 {
		time.AfterFunc(linger, done)
	}
}

func printReceived(core *netcore.Client, set *channel.Set, out io.Writer) {
	for _, ch := range set.All() {
		for {
			msg, ok := core.Receive(ch.ID)
			if !ok {
				break
			}
			fmt.Fprintf(out, "[%s] %s\n", ch.Name, msg)
		}
	}
}
