package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/kardianos/service"

	"github.com/solarmqtt/mq"
	"github.com/solarmqtt/mq/internal/config"
)

// program is the threaded subscriber run by the service manager.
type program struct {
	cfg    *config.Config
	logger *slog.Logger
	filter string
	qos    mq.QoS

	client     *mq.Client
	closeStore func()
}

func (p *program) Start(s service.Service) error {
	opts, closeStore, err := clientOptions(p.cfg, p.logger)
	if err != nil {
		return err
	}
	client, err := mq.New(p.cfg.Server(), opts...)
	if err != nil {
		closeStore()
		return err
	}
	if err := client.Start(); err != nil {
		closeStore()
		return err
	}
	if err := client.Connect(context.Background()); err != nil {
		client.Close()
		closeStore()
		return err
	}
	p.client, p.closeStore = client, closeStore

	tok := client.Subscribe(p.filter, p.qos, printMessage)
	go func() {
		if err := tok.Wait(context.Background()); err != nil {
			p.logger.Error("subscribe failed", "filter", p.filter, "error", err)
			return
		}
		fmt.Printf("%s %s\n", subscribedLabel, color.CyanString(p.filter))
	}()
	p.logger.Info("subscriber started", "server", p.cfg.Server(), "filter", p.filter, "interactive", service.Interactive())
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.client.Stop(ctx)
	p.client.Close()
	p.closeStore()
	p.logger.Info("subscriber stopped")
	return err
}
