package main

import (
	"context"
	"net"
	"strconv"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netlab/rtspserver/internal/conf"
	"github.com/netlab/rtspserver/internal/core"
)

const bannerText = "rtsp-testserver"

type options struct {
	configPath string
	address    string
	port       int
	path       string
	launch     string
	logLevel   string
	noBanner   bool
}

// load reads the configuration file and applies the flags that were set.
func (o *options) load(flags interface{ Changed(string) bool }) (*conf.Conf, error) {
	c, err := conf.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	if flags.Changed("address") || flags.Changed("port") {
		host, port, err := net.SplitHostPort(c.RTSPAddress)
		if err != nil {
			return nil, errors.Wrap(err, "invalid rtspAddress")
		}

		if flags.Changed("address") {
			host = o.address
		}
		if flags.Changed("port") {
			port = strconv.Itoa(o.port)
		}

		c.SetRTSPAddress(net.JoinHostPort(host, port))
	}

	if flags.Changed("path") || flags.Changed("launch") {
		c.Mounts = map[string]*conf.Mount{
			o.path: {Launch: o.launch},
		}
	}

	if flags.Changed("log-level") {
		c.LogLevel = o.logLevel
	}

	err = c.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid flags")
	}

	return c, nil
}

func printBanner() {
	figure.NewFigure(bannerText, "", true).Print()
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

func newRootCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rtsp-testserver",
		Short:         "RTSP server that streams test sources",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.load(cmd.Flags())
			if err != nil {
				return err
			}

			if !o.noBanner {
				printBanner()
			}

			cr := &core.Core{
				Conf: c,
				Log:  newLogger(),
			}
			err = cr.Initialize()
			if err != nil {
				return err
			}

			return cr.Run(context.Background())
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&o.configPath, "config", "c", "", "path of the YAML configuration file")
	fl.StringVar(&o.address, "address", "127.0.0.1", "address the RTSP server listens on")
	fl.IntVar(&o.port, "port", 8554, "port the RTSP server listens on")
	fl.StringVar(&o.path, "path", conf.DefaultPath, "path of the mount point")
	fl.StringVar(&o.launch, "launch", conf.DefaultLaunch, "launch description of the mount point")
	fl.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fl.BoolVar(&o.noBanner, "no-banner", false, "do not print the banner")

	return cmd
}
