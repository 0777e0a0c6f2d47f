package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/config"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "axnet "+version+"\n", out.String())
}

func TestEcho(t *testing.T) {
	core := netcore.NewServer()
	set := channel.DefaultSet()
	core.SetupChannels(set.Count())
	sessions := session.NewManager(core)
	sessions.Start()
	require.NoError(t, sessions.Connect("p1", "test"))

	core.InsertReceived("p1", channel.Init, []byte("a"))
	core.InsertReceived("p1", channel.Update, []byte("b"))
	echo(core, set)

	sent := core.DrainSent()
	require.Len(t, sent, 2)
	assert.Equal(t, netcore.ServerMessage{Peer: "p1", Channel: channel.Init, Payload: []byte("a")}, sent[0])
	assert.Equal(t, netcore.ServerMessage{Peer: "p1", Channel: channel.Update, Payload: []byte("b")}, sent[1])
}

func TestServeMemBots(t *testing.T) {
	logger = axlog.Nop()
	cfg = config.Default()
	cfg.Backend = config.BackendMem
	cfg.TickRate = 200
	bots = 3

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	assert.NoError(t, serve(ctx))
}

func TestNewClientRejectsMem(t *testing.T) {
	logger = axlog.Nop()
	c := config.Default()
	c.Backend = config.BackendMem
	_, err := newClient(c, channel.DefaultSet(), netcore.NewClient())
	assert.Error(t, err)
}

func TestConnectUnknownChannel(t *testing.T) {
	logger = axlog.Nop()
	cfg = config.Default()
	sendChannel = "nope"
	t.Cleanup(func() { sendChannel = "init" })

	err := connect(context.Background(), strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown channel")
}
