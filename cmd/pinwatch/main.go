// pinwatch follows one trade's PIN from the command line, polling the
// status endpoint the way the trade view does and printing every change
// until the PIN is verified or expires.
//
// Usage: PIN_API_TOKEN=<token> pinwatch <trade-id>
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/swappo/pin-server-go/internal/client"
	"github.com/swappo/pin-server-go/internal/config"
	"github.com/swappo/pin-server-go/internal/poller"
	"github.com/swappo/pin-server-go/internal/service"
)

type watchConfig struct {
	APIURL   string `env:"PIN_API_URL" envDefault:"http://localhost:8080"`
	APIToken string `env:"PIN_API_TOKEN,required"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		log.Fatal().Msg("usage: pinwatch <trade-id>")
	}
	tradeID := os.Args[1]

	var wc watchConfig
	if err := env.Parse(&wc); err != nil {
		log.Fatal().Err(err).Msg("failed to parse config")
	}

	settings, err := config.LoadPollSettings()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse poll settings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(wc.APIURL, wc.APIToken)
	p := poller.New(api, tradeID, poller.IntervalsFrom(settings), printUpdate)

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("watch failed")
	}
}

func printUpdate(u poller.Update) {
	e := log.Info().
		Str("state", string(u.State)).
		Str("role", u.Role)
	if u.Code != "" {
		e = e.Str("code", service.FormatPinCode(u.Code))
	}
	if u.Countdown != "" {
		e = e.Str("remaining", u.Countdown).Bool("expiringSoon", u.ExpiringSoon)
	}
	e.Msg("pin status")
}
