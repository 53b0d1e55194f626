package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muesli/cancelreader"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/omochice/toy-chat-client/internal/config"
	"github.com/omochice/toy-chat-client/internal/logging"
	"github.com/omochice/toy-chat-client/internal/session"
	"github.com/omochice/toy-chat-client/internal/transport"
)

type flags struct {
	configPath   string
	host         string
	port         string
	username     string
	transport    string
	path         string
	bufferSize   int
	writeTimeout time.Duration
	logLevel     string
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "chat-client",
		Short: "Connect to a line-oriented chat server",
		Long: `chat-client connects to a chat server, identifies itself with a username
and then relays commands typed on standard input:

  send <MSG>   send a chat message
  leave        disconnect and exit

HOST, PORT and USERNAME in the environment override the matching flags.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, f, os.LookupEnv)
			if err != nil {
				return err
			}
			logging.Configure(cfg.LogLevel, stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, stdin, stdout)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	bindFlags(cmd, &f)

	return cmd
}

func bindFlags(cmd *cobra.Command, f *flags) {
	def := config.Default()
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "path to a TOML or YAML config file")
	fl.StringVar(&f.host, "host", def.Host, "host of the server")
	fl.StringVarP(&f.port, "port", "p", def.Port, "port of the server")
	fl.StringVarP(&f.username, "username", "u", "", "username used for identification")
	fl.StringVar(&f.transport, "transport", string(def.Transport), "transport to use: tcp or ws")
	fl.StringVar(&f.path, "path", def.Path, "request path for the ws transport")
	fl.IntVar(&f.bufferSize, "buffer-size", def.BufferSize, "largest outbound message in bytes")
	fl.DurationVar(&f.writeTimeout, "write-timeout", def.WriteTimeout, "time a single write may block before it is retried")
	fl.StringVar(&f.logLevel, "log-level", def.LogLevel, "log level: trace, debug, info, warn, error or off")
}

// buildConfig layers defaults, the config file, explicitly set flags and
// the environment, in that order of precedence.
func buildConfig(cmd *cobra.Command, f flags, lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()

	if f.configPath != "" {
		if err := config.LoadFile(f.configPath, &cfg); err != nil {
			return config.Config{}, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Host = f.host
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("username") {
		cfg.Username = f.username
	}
	if changed("transport") {
		cfg.Transport = transport.Network(f.transport)
	}
	if changed("path") {
		cfg.Path = f.path
	}
	if changed("buffer-size") {
		cfg.BufferSize = f.bufferSize
	}
	if changed("write-timeout") {
		cfg.WriteTimeout = f.writeTimeout
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	cfg.ApplyEnv(lookup)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run connects and drives one session. Leaving, end of input, the server
// closing the connection and an interrupt all count as success.
func run(ctx context.Context, cfg config.Config, stdin io.Reader, stdout io.Writer) error {
	log := logrus.WithField("component", "client")

	fmt.Fprintf(stdout, "Connecting to server at %s as %s\n", cfg.URL(), cfg.Username)
	conn, err := transport.Dial(ctx, cfg.DialOptions())
	if err != nil {
		return err
	}

	input := stdin
	if cr, err := cancelreader.NewReader(stdin); err != nil {
		log.WithError(err).Debug("Input is not cancelable")
	} else {
		defer cr.Close()
		input = cr
	}

	sess, err := session.New(conn, input, stdout, session.Config{
		Username:     cfg.Username,
		BufferSize:   cfg.BufferSize,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		conn.Close()
		return err
	}

	err = sess.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("Interrupted")
		return nil
	}
	return err
}
