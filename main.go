package main

import (
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nixxel-company-limited/labelprinter/adapter"
	"github.com/nixxel-company-limited/labelprinter/config"
	"github.com/nixxel-company-limited/labelprinter/discovery"
	"github.com/nixxel-company-limited/labelprinter/label"
	"github.com/nixxel-company-limited/labelprinter/logging"
	"github.com/nixxel-company-limited/labelprinter/render"
	"github.com/nixxel-company-limited/labelprinter/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "labelprinter:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("labelprinter", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: labelprinter [flags] [TEXT...]")
		fmt.Fprintln(os.Stderr, "Each TEXT argument is printed as one line of the label.")
		flags.PrintDefaults()
	}
	configFile := flags.StringP("config", "c", "", "config file (yaml)")
	status := flags.Bool("status", false, "query and print the printer status")
	imageFile := flags.StringP("image", "i", "", "print an image file instead of text")
	serve := flags.Bool("serve", false, "run the label server")
	flags.StringP("device", "d", "", "device path, skips sysfs discovery")
	flags.String("backend", "", `device backend, "file" or "usb"`)
	flags.StringP("font", "f", "", "TrueType font file")
	flags.Float64P("size", "s", 0, "font size in pixels, 0 fits the label")
	flags.String("address", "", "label server listen address")
	flags.Bool("init", false, "send the init preamble before each label")

	if err := flags.Parse(args); err != nil {
		return err
	}

	v := config.New()
	for key, flag := range map[string]string{
		"device.path":     "device",
		"device.backend":  "backend",
		"font.path":       "font",
		"font.size":       "size",
		"server.address":  "address",
		"label.send_init": "init",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}

	cfg, err := config.Load(v, *configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	text := flags.Args()
	if !*status && !*serve && *imageFile == "" && len(text) == 0 {
		flags.Usage()
		return fmt.Errorf("nothing to print")
	}

	device := newAdapter(cfg, logger)
	opts := label.Options{SendInit: cfg.Label.SendInit, Margin: cfg.Label.Margin}

	if *serve {
		return runServer(cfg, device, opts, logger)
	}

	// Prepare the image before touching the device.
	var img image.Image
	switch {
	case *imageFile != "":
		img, err = render.LoadImage(*imageFile)
	case len(text) > 0:
		var r *render.Renderer
		if r, err = render.LoadFont(cfg.Font.Path, cfg.Font.Size); err == nil {
			img, err = r.Render(text...)
		}
	}
	if err != nil {
		return err
	}

	if err := device.Open(); err != nil {
		return err
	}
	defer device.Close()

	printer := label.New(device, opts, logger)

	if *status {
		s, err := printer.Status()
		if err != nil {
			return err
		}
		fmt.Println(s)
	}

	if img != nil {
		s, err := printer.PrintImage(img)
		if err != nil {
			return err
		}
		logger.Debug("label done", zap.Stringer("status", s))
	}

	return nil
}

// newAdapter selects the device backend from the configuration
func newAdapter(cfg *config.Config, logger *zap.Logger) adapter.Adapter {
	d := cfg.Device
	if d.Backend == "usb" {
		return adapter.NewUSBAdapter(d.VendorID, d.ProductID, 0, d.ReadTimeout, logger)
	}

	var resolver discovery.Resolver = discovery.StaticResolver(d.Path)
	if d.Path == "" {
		resolver = discovery.NewSysfsResolver(d.SysfsRoot, d.DevRoot, d.ClassID, d.VendorID, d.ProductID)
	}
	return adapter.NewFileAdapter(resolver, d.ReadTimeout)
}

func runServer(cfg *config.Config, device adapter.Adapter, opts label.Options, logger *zap.Logger) error {
	r, err := render.LoadFont(cfg.Font.Path, cfg.Font.Size)
	if err != nil {
		return err
	}

	svr := server.New(device, r, opts, cfg.Server.Address, logger)
	if err := svr.StartAsync(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	return svr.Stop()
}
