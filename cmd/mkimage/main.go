//go:build !tinygo

// Command mkimage builds the image table of an app description and writes
// it to a flash file the host runtime and the board loader can boot.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"

	"keel/internal/buildinfo"
	"keel/keelos/image"
)

const (
	defaultImagePath = "keel.img"
	defaultFlashSize = 64 * 1024
	defaultEraseSize = 4096

	rebuildDelay = 100 * time.Millisecond
)

type options struct {
	app       string
	out       string
	flashSize uint32
	eraseSize uint32
}

func main() {
	var opts options
	var flashSize, eraseSize uint
	var watch bool
	flag.StringVar(&opts.app, "app", "", "App description (TOML).")
	flag.StringVar(&opts.out, "out", defaultImagePath, "Output flash image path.")
	flag.UintVar(&flashSize, "size", defaultFlashSize, "Flash image size (bytes).")
	flag.UintVar(&eraseSize, "erase", defaultEraseSize, "Erase block size (bytes).")
	flag.BoolVar(&watch, "watch", false, "Rebuild whenever the app description changes.")
	flag.Parse()
	defer glog.Flush()

	if opts.app == "" {
		fmt.Fprintln(os.Stderr, "error: -app is required")
		os.Exit(2)
	}
	opts.flashSize, opts.eraseSize = uint32(flashSize), uint32(eraseSize)

	img, err := build(opts)
	if err != nil {
		glog.Errorf("%s: %v", opts.app, err)
		if !watch {
			glog.Flush()
			os.Exit(1)
		}
	} else {
		report(opts, img)
	}
	if !watch {
		return
	}
	if err := watchAndBuild(opts); err != nil {
		glog.Errorf("watch: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

// build compiles the description and writes it at offset 0 of a freshly
// erased flash file.
func build(opts options) (*image.Image, error) {
	d, err := image.LoadDescription(opts.app)
	if err != nil {
		return nil, err
	}
	img, err := d.Build()
	if err != nil {
		return nil, err
	}
	data, err := image.Encode(img)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > uint64(opts.flashSize) {
		return nil, fmt.Errorf("image of %d bytes does not fit a %d byte flash", len(data), opts.flashSize)
	}

	ff, err := createFlashFile(opts.out, opts.flashSize, opts.eraseSize)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ff.Close() }()
	if _, err := ff.WriteAt(data, 0); err != nil {
		return nil, err
	}
	if _, err := image.ReadFlash(ff); err != nil {
		return nil, fmt.Errorf("read back %s: %w", opts.out, err)
	}
	return img, nil
}

func report(opts options, img *image.Image) {
	glog.Infof("%s: %s (%s) with %d tasks and %d regions written to %s by %s",
		opts.app, img.Name, img.Target, len(img.Tasks), len(img.Regions), opts.out, buildinfo.String())
}

// watchAndBuild rebuilds the image after every change to the app
// description. Editors that save by renaming are handled by watching the
// directory.
func watchAndBuild(opts options) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	target, err := filepath.Abs(opts.app)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	glog.Infof("watching %s", opts.app)

	var rebuild <-chan time.Time
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			rebuild = time.After(rebuildDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			glog.Warningf("watch: %v", err)
		case <-rebuild:
			rebuild = nil
			img, err := build(opts)
			if err != nil {
				glog.Errorf("%s: %v", opts.app, err)
				continue
			}
			report(opts, img)
		}
	}
}
