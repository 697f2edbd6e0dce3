// Command solarmqtt publishes to or subscribes from an MQTT broker, either
// interactively or as a system service.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/kardianos/service"

	"github.com/solarmqtt/mq"
	"github.com/solarmqtt/mq/internal/config"
	"github.com/solarmqtt/mq/internal/logging"
)

func main() {
	svcFlag := flag.String("service", "", "Control the system service: install, uninstall, start, stop or run.")
	cnfFlag := flag.String("c", "", "Path of config file.")
	pubFlag := flag.String("pub", "", "Publish to this topic and exit.")
	msgFlag := flag.String("m", "", "Payload for -pub.")
	qosFlag := flag.Int("q", 0, "QoS for -pub and -sub.")
	retainFlag := flag.Bool("r", false, "Set the retain flag for -pub.")
	subFlag := flag.String("sub", "", "Subscribe to this filter and print messages.")
	coopFlag := flag.Bool("cooperative", false, "Drive the client from the main goroutine with Step.")
	flag.Parse()

	cfg, err := config.Load(*cnfFlag)
	if err != nil {
		fatal(err)
	}
	logger := logging.New(cfg.Logging)

	if *qosFlag < 0 || *qosFlag > 2 {
		fatal(fmt.Errorf("-q must be 0, 1 or 2"))
	}
	qos := mq.QoS(*qosFlag)

	switch {
	case *pubFlag != "":
		if err := publish(cfg, logger, *pubFlag, []byte(*msgFlag), qos, *retainFlag); err != nil {
			fatal(err)
		}
	case *subFlag != "" && *coopFlag:
		if err := subscribeCooperative(cfg, logger, *subFlag, qos); err != nil {
			fatal(err)
		}
	case *subFlag != "" || *svcFlag != "":
		if err := runService(cfg, logger, *svcFlag, *cnfFlag, *subFlag, qos); err != nil {
			fatal(err)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("solarmqtt: %v", err))
	os.Exit(1)
}

// publish connects, sends one message and waits for its acknowledgement.
func publish(cfg *config.Config, logger *slog.Logger, topic string, payload []byte, qos mq.QoS, retain bool) error {
	opts, closeStore, err := clientOptions(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout()+cfg.RetryInterval())
	defer cancel()

	client, err := mq.Dial(ctx, cfg.Server(), opts...)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Server(), err)
	}
	defer client.Close()

	tok := client.Publish(topic, payload, mq.WithQoS(qos), mq.WithRetain(retain))
	if err := tok.Wait(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	fmt.Printf("%s %s (%d bytes, qos %d)\n", publishedLabel, color.CyanString(topic), len(payload), qos)

	return client.Disconnect(context.Background())
}

// subscribeCooperative runs the client on the main goroutine, calling Step
// until interrupted.
func subscribeCooperative(cfg *config.Config, logger *slog.Logger, filter string, qos mq.QoS) error {
	opts, closeStore, err := clientOptions(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := mq.New(cfg.Server(), opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		return err
	}
	tok := client.Subscribe(filter, qos, printMessage)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	reported := false
	for {
		select {
		case <-sig:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		default:
		}
		if err := client.Step(100 * time.Millisecond); err != nil {
			return err
		}
		if !reported {
			select {
			case <-tok.Done():
				reported = true
				if err := tok.Error(); err != nil {
					return fmt.Errorf("subscribe to %s: %w", filter, err)
				}
				fmt.Printf("%s %s\n", subscribedLabel, color.CyanString(filter))
			default:
			}
		}
	}
}

// runService runs the threaded subscriber under the service manager, or
// forwards action to it.
func runService(cfg *config.Config, logger *slog.Logger, action, cfgPath, filter string, qos mq.QoS) error {
	if filter == "" && (action == "" || action == "install" || action == "run") {
		return fmt.Errorf("-sub is required to %s the service", cmp.Or(action, "run"))
	}
	args := []string{"-sub", filter, "-q", fmt.Sprint(int(qos))}
	if cfgPath != "" {
		abs, err := filepath.Abs(cfgPath)
		if err != nil {
			return err
		}
		args = append(args, "-c", abs)
	}

	prg := &program{cfg: cfg, logger: logger, filter: filter, qos: qos}
	s, err := service.New(prg, &service.Config{
		Name:        "solarmqtt",
		DisplayName: "solarmqtt subscriber",
		Description: "Prints MQTT messages matching a topic filter.",
		Arguments:   args,
	})
	if err != nil {
		return err
	}

	if action != "" && action != "run" {
		if err := service.Control(s, action); err != nil {
			return fmt.Errorf("%w (valid actions: %q)", err, service.ControlAction)
		}
		return nil
	}
	return s.Run()
}
