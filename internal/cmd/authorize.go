package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/router-for-me/wearsync/internal/api/handlers/integration"
	"github.com/router-for-me/wearsync/internal/browser"
	"github.com/router-for-me/wearsync/internal/config"
	log "github.com/sirupsen/logrus"
)

// AuthorizeOptions controls the interactive authorization helper.
type AuthorizeOptions struct {
	// NoBrowser prints the start URL instead of opening it.
	NoBrowser bool
}

// StartURL is the local URL that begins an authorization flow.
func StartURL(cfg *config.Config) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(host, strconv.Itoa(cfg.Port)), integration.StartPath)
}

// AuthorizeOnReady returns an OnReady hook that sends the operator to the
// start page once the server is up.
func AuthorizeOnReady(opts AuthorizeOptions) func(cfg *config.Config) {
	return func(cfg *config.Config) {
		url := StartURL(cfg)
		if opts.NoBrowser || !browser.IsAvailable() {
			fmt.Printf("Open this URL to connect a wearable account:\n%s\n", url)
			return
		}
		go func() {
			if err := browser.OpenURL(url); err != nil {
				log.WithError(err).Warn("failed to open browser")
				fmt.Printf("Open this URL to connect a wearable account:\n%s\n", url)
			}
		}()
	}
}
