package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/solarmqtt/mq"
	"github.com/solarmqtt/mq/internal/config"
)

var (
	publishedLabel  = color.GreenString("published")
	subscribedLabel = color.GreenString("subscribed")
)

// clientOptions translates cfg into client options. The returned func
// closes the session store.
func clientOptions(cfg *config.Config, logger *slog.Logger) ([]mq.Option, func(), error) {
	tlsConfig, err := cfg.TLSClientConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := cfg.OpenStore(cfg.Broker.ClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}
	closeStore := func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing session store", "error", err)
		}
	}

	opts := []mq.Option{
		mq.WithLogger(logger),
		mq.WithProtocolVersion(uint8(cfg.Broker.Version)),
		mq.WithKeepAlive(cfg.KeepAlive()),
		mq.WithCleanSession(cfg.Session.CleanSession),
		mq.WithAutoReconnect(cfg.Session.AutoReconnect),
		mq.WithSessionStore(st),
		mq.WithRetryPolicy(mq.RetryPolicy{
			Interval:    cfg.RetryInterval(),
			Backoff:     2,
			MaxInterval: 2 * time.Minute,
			MaxRetries:  cfg.Session.Retry.MaxRetries,
		}),
		mq.WithOnStateChange(func(_ *mq.Client, s mq.State, err error) {
			printState(os.Stderr, s, err)
		}),
		mq.WithOnEvent(func(_ *mq.Client, e mq.Event) {
			if e.Kind == mq.EventDeliveryFailed {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", color.RedString("undelivered"), e.Topic, e.Err)
			}
		}),
	}
	if cfg.Session.ConnectTimeout > 0 {
		opts = append(opts, mq.WithConnectTimeout(cfg.ConnectTimeout()))
	}
	if cfg.Broker.ClientID != "" {
		opts = append(opts, mq.WithClientID(cfg.Broker.ClientID))
	}
	if cfg.Broker.Username != "" {
		opts = append(opts, mq.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
	}
	if tlsConfig != nil {
		opts = append(opts, mq.WithTLS(tlsConfig))
	}
	return opts, closeStore, nil
}

func printMessage(_ *mq.Client, m mq.Message) {
	writeMessage(os.Stdout, m)
}

func writeMessage(w io.Writer, m mq.Message) {
	payload := string(m.Payload)
	if !utf8.Valid(m.Payload) {
		payload = fmt.Sprintf("%x", m.Payload)
	}
	flags := ""
	if m.Retained {
		flags += " " + color.YellowString("retained")
	}
	if m.Duplicate {
		flags += " " + color.YellowString("dup")
	}
	fmt.Fprintf(w, "%s %s %s%s %s\n",
		color.GreenString(time.Now().Format("2006-01-02T15:04:05")),
		color.CyanString(m.Topic),
		color.MagentaString("q%d", m.QoS),
		flags,
		payload)
}

func printState(w io.Writer, s mq.State, err error) {
	label := s.String()
	switch s {
	case mq.StateConnected:
		label = color.GreenString(label)
	case mq.StateDisconnected:
		label = color.RedString(label)
	default:
		label = color.YellowString(label)
	}
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", label, err)
		return
	}
	fmt.Fprintln(w, label)
}
