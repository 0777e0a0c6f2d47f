package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/QYUbit/axnet/pkg/axlog"
	"github.com/QYUbit/axnet/pkg/backend"
	quicbackend "github.com/QYUbit/axnet/pkg/backend/quic"
	websockets "github.com/QYUbit/axnet/pkg/backend/websocket"
	"github.com/QYUbit/axnet/pkg/channel"
	"github.com/QYUbit/axnet/pkg/config"
	"github.com/QYUbit/axnet/pkg/netcore"
	"github.com/QYUbit/axnet/pkg/session"
)

// serverBackend is a started server backend.
type serverBackend interface {
	backend.Pump
	Close() error
}

// clientBackend is a client backend that can be connected.
type clientBackend interface {
	backend.Pump
	Connect(ctx context.Context) error
	Disconnect() error
}

func quicServerTLS(c config.QUICConfig) (*tls.Config, error) {
	if c.CertFile == "" {
		return quicbackend.GenerateTLSConfig()
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicbackend.ALPN},
	}, nil
}

func quicClientTLS(c config.QUICConfig) *tls.Config {
	if c.Insecure {
		return quicbackend.InsecureClientTLSConfig()
	}
	return &tls.Config{NextProtos: []string{quicbackend.ALPN}}
}

func quicOptions(cfg *config.Config, set *channel.Set, logger axlog.Logger) quicbackend.Options {
	return quicbackend.Options{
		Addr: cfg.Address,
		QUICConfig: &quic.Config{
			MaxIdleTimeout:  cfg.QUIC.MaxIdleTimeout,
			KeepAlivePeriod: cfg.QUIC.KeepAlivePeriod,
		},
		Channels:         set,
		SendQueueSize:    cfg.SendQueueSize,
		InboxLimit:       cfg.InboxLimit,
		HandshakeTimeout: cfg.QUIC.HandshakeTimeout,
		Logger:           logger,
	}
}

func websocketOptions(cfg *config.Config, set *channel.Set, logger axlog.Logger) websockets.Options {
	opts := websockets.Options{
		Channels:         set,
		SendQueueSize:    cfg.SendQueueSize,
		InboxLimit:       cfg.InboxLimit,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		ReadLimit:        cfg.WebSocket.ReadLimit,
		Logger:           logger,
	}
	if cfg.WebSocket.AllowAnyOrigin {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	return opts
}

func startServer(ctx context.Context, cfg *config.Config, set *channel.Set, core *netcore.Server, sessions *session.Manager) (serverBackend, error) {
	switch cfg.Backend {
	case config.BackendQUIC:
		tlsConf, err := quicServerTLS(cfg.QUIC)
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		opts := quicOptions(cfg, set, logger)
		opts.TLSConfig = tlsConf

		srv := quicbackend.NewServer(core, sessions, opts)
		if err := srv.Start(ctx); err != nil {
			return nil, err
		}
		return srv, nil

	case config.BackendWebSocket:
		srv := websockets.NewServer(core, sessions, websocketOptions(cfg, set, logger))
		if err := srv.Start(); err != nil {
			return nil, err
		}

		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocket.Path, srv)
		hs := &http.Server{Addr: cfg.Address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
			}
		}()
		logger.Info("listening", "addr", cfg.Address, "path", cfg.WebSocket.Path)
		return &httpServer{Server: srv, http: hs}, nil

	default:
		return nil, fmt.Errorf("backend %q cannot serve over the network", cfg.Backend)
	}
}

type httpServer struct {
	*websockets.Server
	http *http.Server
}

func (s *httpServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Server.Close()
	return s.http.Shutdown(ctx)
}

func newClient(cfg *config.Config, set *channel.Set, core *netcore.Client) (clientBackend, error) {
	switch cfg.Backend {
	case config.BackendQUIC:
		opts := quicOptions(cfg, set, logger)
		opts.TLSConfig = quicClientTLS(cfg.QUIC)
		return quicbackend.NewClient(core, opts), nil

	case config.BackendWebSocket:
		opts := websocketOptions(cfg, set, logger)
		opts.Addr = cfg.Address
		if !strings.HasPrefix(opts.Addr, "ws://") && !strings.HasPrefix(opts.Addr, "wss://") {
			opts.Addr = "ws://" + opts.Addr + cfg.WebSocket.Path
		}
		return websockets.NewClient(core, opts), nil

	default:
		return nil, fmt.Errorf("backend %q cannot connect over the network", cfg.Backend)
	}
}
