//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"

	"github.com/golang/glog"

	"keel/app"
	"keel/hal"
)

func main() {
	var cfg hal.HeadlessConfig
	var imagePath string
	var appCfg app.Config
	var stdinUART bool
	flag.StringVar(&imagePath, "image", "", "Flash image to boot (default $KEEL_IMAGE_PATH or keel.img).")
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Frame rate in headless mode.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N frames in headless mode (0 = run forever).")
	flag.Uint64Var(&appCfg.CyclesPerTick, "cycles-per-tick", 0, "Cycles per kernel tick when no clock drives the kernel.")
	flag.BoolVar(&stdinUART, "stdin-uart", false, "Feed stdin to the console UART; input raises its interrupt.")
	flag.Parse()
	defer glog.Flush()

	var h hal.HAL
	if imagePath != "" {
		h = hal.NewWithImage(imagePath)
	} else {
		h = hal.New()
	}
	if stdinUART {
		if err := hal.AttachSerial(h, os.Stdin); err != nil {
			glog.Errorf("serial: %v", err)
			glog.Flush()
			os.Exit(1)
		}
	}
	newApp := func(h hal.HAL) func() error { return app.NewWithConfig(h, appCfg) }

	if cfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, h, newApp, cfg); err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("headless: %v", err)
			glog.Flush()
			os.Exit(1)
		}
		return
	}

	if err := hal.RunWindow(h, newApp); err != nil {
		glog.Errorf("window: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}
