package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/atsika/wrc-gateway"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath, err := wrcgw.ParseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wrc-gateway:", err)
		return 1
	}

	fc, err := wrcgw.LoadFileConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wrc-gateway: loading config:", err)
		return 1
	}

	cfg := wrcgw.NewConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "wrc-gateway: invalid configuration:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broadcaster := wrcgw.NewActionBroadcaster()
	gateway := wrcgw.NewGateway(cfg, broadcaster)

	reader := wrcgw.NewBrokerReader(fc.Database.ReaderURI, fc.Database.ReaderQueue, broadcaster, cfg)
	writer := wrcgw.NewBrokerWriter(fc.Database.WriterURI, fc.Database.WriterQueue, gateway.Reports(), cfg)

	logrus.WithField("ports", fc.Port).Info("wrc-gateway starting")

	done := make(chan struct{})
	go func() {
		defer close(done)
		gateway.Run(ctx, fc)
	}()
	go reader.Run(ctx)
	go writer.Run(ctx)

	<-ctx.Done()
	logrus.Info("wrc-gateway shutting down")
	<-done
	return 0
}
