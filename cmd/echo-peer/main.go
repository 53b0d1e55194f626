package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/omochice/toy-chat-client/internal/logging"
	"github.com/omochice/toy-chat-client/internal/peer"
	"github.com/omochice/toy-chat-client/internal/transport"
)

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	var (
		addr     string
		network  string
		echo     bool
		relay    bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "echo-peer",
		Short:         "Accept chat clients and echo or relay what they send",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Configure(logLevel, stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, addr, transport.Network(network), echo, relay)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", "127.0.0.1:12345", "address to listen on")
	fl.StringVar(&network, "network", string(transport.NetworkTCP), "transport to accept: tcp or ws")
	fl.BoolVar(&echo, "echo", true, "write every received chunk back to its sender")
	fl.BoolVar(&relay, "relay", false, "forward chat frames to every other connected client")
	fl.StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error or off")

	return cmd
}

// serve runs a peer until ctx is done.
func serve(ctx context.Context, addr string, network transport.Network, echo, relay bool) error {
	switch network {
	case transport.NetworkTCP, transport.NetworkWebSocket:
	default:
		return fmt.Errorf("%q: %w", network, transport.ErrUnknownNetwork)
	}

	opts := []peer.Option{peer.WithNetwork(network)}
	if echo {
		opts = append(opts, peer.WithEcho())
	}
	if relay {
		opts = append(opts, peer.WithRelay())
	}

	srv := peer.New(addr, opts...)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logrus.WithFields(logrus.Fields{
		"addr":  srv.Addr(),
		"conns": srv.ConnCount(),
	}).Info("Shutting down")
	srv.Stop()
	return nil
}
