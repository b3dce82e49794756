/*
Copyright © 2026 guljarhussain0560
*/

package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	releaseVersion = "0.1.0"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: logDate}).With().
		Timestamp().
		Logger()

	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}
