package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskgate/internal/app"
)

const stopTimeout = 15 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./taskgate.yaml", "path to config (yaml or json)")
	flag.Parse()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	sd := newNotifier()
	sd.Ready(a.Status())
	go sd.Loop(ctx, a.Status)

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	reason := app.StopUnknown
loop:
	for {
		select {
		case <-a.Done():
			reason = app.StopFatalError
			break loop
		case sig := <-sigs:
			switch sig {
			case os.Interrupt:
				reason = app.StopSIGINT
				break loop
			case syscall.SIGTERM:
				reason = app.StopSIGTERM
				break loop
			case syscall.SIGHUP:
				if _, err := a.Reload(ctx); err != nil {
					fmt.Fprintln(os.Stderr, "reload:", err)
				}
			case syscall.SIGUSR1:
				a.Dispatcher().Start()
			case syscall.SIGUSR2:
				a.Dispatcher().Pause()
			}
			sd.Status(a.Status())
		}
	}

	sd.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	err = a.Stop(stopCtx, reason)
	if err == nil {
		err = a.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "exit:", err)
		os.Exit(1)
	}
}
