/*
Copyright © 2026 guljarhussain0560
*/

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind       string
	origins    []string
	port       int
	prefix     string
	profile    bool
	sendBuffer int
	tlsCert    string
	tlsKey     string
	verbose    bool
	version    bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.sendBuffer < 1 {
		return fmt.Errorf("invalid send buffer (must be at least 1): %d", c.sendBuffer)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("LAUGHLOCKDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "laughlockdown",
		Short:         "Signaling and room-coordination server for the LaughLockdown meme challenge.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringSliceVar(&cfg.origins, "allowed-origin", nil, "origins allowed to open websocket and CORS requests; empty allows all (env: LAUGHLOCKDOWN_ALLOWED_ORIGIN)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: LAUGHLOCKDOWN_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: LAUGHLOCKDOWN_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: LAUGHLOCKDOWN_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: LAUGHLOCKDOWN_PROFILE)")
	fs.IntVar(&cfg.sendBuffer, "send-buffer", 32, "outbound messages buffered per connection before drops (env: LAUGHLOCKDOWN_SEND_BUFFER)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: LAUGHLOCKDOWN_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: LAUGHLOCKDOWN_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: LAUGHLOCKDOWN_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: LAUGHLOCKDOWN_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("laughlockdown v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
