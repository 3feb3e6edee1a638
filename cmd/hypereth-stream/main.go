// Command hypereth-stream subscribes to HyperETH gateway channels and prints
// pushed frames to stdout.
//
// Subscriptions are given as channel names with optional query-style
// parameters:
//
//	hypereth-stream --sub allMids --sub 'l2Book?coin=BTC' --verbose
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/hypereth-io/hypereth-sdk-go/client/hypereth"
	"github.com/hypereth-io/hypereth-sdk-go/client/websocket"
)

var (
	wsURL       = pflag.String("url", hypereth.DefaultWSURL, "Gateway websocket URL.")
	environment = pflag.String("env", hypereth.DefaultEnvironment, "Gateway environment: testnet or mainnet.")

	configFilename = pflag.String("config", "", "YAML config file with credentials; see the config package doc for the format.")
	apiKey         = pflag.String("apikey", "", "Gateway API key. Consider using --config instead.")

	subs = pflag.StringSlice("sub", nil, "Subscription, like allMids or l2Book?coin=BTC. This flag can be given multiple times.")

	verbose = pflag.Bool("verbose", false, "Print connection state changes and debug logs.")
)

func main() {
	pflag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := &Config{
		URL:         hypereth.DefaultWSURL,
		Environment: hypereth.DefaultEnvironment,
	}

	if *configFilename != "" {
		fileCfg, err := LoadConfig(*configFilename)
		if err != nil {
			return err
		}
		cfg = cfg.Merge(fileCfg)
	}

	// Explicitly given flags win over the config file.
	flagCfg := &Config{APIKey: *apiKey}
	if pflag.CommandLine.Changed("url") {
		flagCfg.URL = *wsURL
	}
	if pflag.CommandLine.Changed("env") {
		flagCfg.Environment = *environment
	}
	cfg = cfg.Merge(flagCfg)

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}

	c, err := websocket.New(&websocket.Params{
		URL:         cfg.URL,
		Environment: cfg.Environment,
		APIKey:      cfg.APIKey,
		ReconnectOpts: &websocket.ReconnectOpts{
			Reconnect: true,
			Backoff:   true,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	var lastError error

	c.OnError(func(err error, disconnecting bool) {
		// Errors which cause a disconnect are shown on the state change
		// message instead.
		if disconnecting {
			lastError = err
			return
		}

		fmt.Printf("%s %s\n", color.RedString("error:"), err)
	})

	c.OnStateChange(websocket.ConnStateAny, func(prev, cur websocket.ConnState, cause error) {
		if !*verbose {
			return
		}

		fmt.Printf("state: %s -> %s", websocket.ConnStateNames[prev], stateString(cur))
		if lastError != nil {
			fmt.Printf(" (%s)", lastError)
			lastError = nil
		}
		fmt.Printf("\n")
	})

	c.OnSubscriptionAck(func(method, channel string) {
		fmt.Printf("%s %s %s\n", color.YellowString("ack:"), method, channel)
	})

	c.OnPush(func(frame websocket.PushFrame) {
		fmt.Printf("%s %s\n", color.GreenString(frame.Channel+":"), frame.Data)
	})

	type subscription struct {
		channel string
		params  map[string]string
	}

	parsed := make([]subscription, 0, len(*subs))
	for _, s := range *subs {
		channel, params, err := parseSubscription(s)
		if err != nil {
			return err
		}
		parsed = append(parsed, subscription{channel, params})
	}

	if *verbose {
		fmt.Printf("connecting to %s ...\n", c.URL())
	}
	if err := c.ConnectWait(context.Background()); err != nil {
		return err
	}

	// Once recorded, subscriptions are replayed automatically after any
	// reconnect.
	for _, s := range parsed {
		if err := c.Subscribe(s.channel, s.params); err != nil {
			return err
		}
	}

	// Run until interrupted.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	fmt.Printf("closing connection...\n")
	return c.Close()
}

func stateString(state websocket.ConnState) string {
	name := websocket.ConnStateNames[state]

	switch state {
	case websocket.ConnStateConnected:
		return color.GreenString(name)
	case websocket.ConnStateDisconnected:
		return color.RedString(name)
	default:
		return color.YellowString(name)
	}
}
