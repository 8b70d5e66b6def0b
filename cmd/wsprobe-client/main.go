// Command wsprobe-client is a terminal rendition of the "ping time" widget:
// it arms a latency probe against a wsprobe server and redraws the latest
// round-trip time once per interval. SIGUSR1 toggles the probe the way
// hiding the widget would: while hidden, no network activity happens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/wsprobe/wsprobe/client"
	"github.com/wsprobe/wsprobe/probe"
	"github.com/wsprobe/wsprobe/probe/spec"
)

var (
	hostname      = flag.String("hostname", "localhost", "Host to connect to")
	port          = flag.String("port", "8080", "Port to connect to")
	disableTLS    = flag.Bool("disable-tls", false, "Whether to disable TLS")
	skipTLSVerify = flag.Bool("skip-tls-verify", false, "Skip TLS verify")
	interval      = flag.Duration("interval", spec.DefaultInterval, "Interval between ticks")
	timeout       = flag.Duration("timeout", 0, "How long to wait for an ack; 0 means one interval")
	duration      = flag.Duration("duration", 0, "Exit after this long; 0 means run until interrupted")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	c := client.NewClient(client.Settings{
		Hostname:              *hostname,
		Port:                  *port,
		InsecureNoTLS:         *disableTLS,
		InsecureSkipTLSVerify: *skipTLSVerify,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rtx.Must(c.Dial(ctx), "Could not connect to the wsprobe server")
	defer c.Close()

	p := probe.New(c, *interval, *timeout)
	p.Enable()
	defer p.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	toggle := make(chan os.Signal, 1)
	signal.Notify(toggle, syscall.SIGUSR1)

	var expired <-chan time.Time
	if *duration > 0 {
		timer := time.NewTimer(*duration)
		defer timer.Stop()
		expired = timer.C
	}

	// The rendering surface only ever reads a precomputed display value; it
	// never does any timestamp arithmetic of its own.
	render := time.NewTicker(*interval)
	defer render.Stop()
	for {
		select {
		case <-render.C:
			if p.Armed() {
				fmt.Printf("\rping time: %-24s", p.CurrentDisplay())
			}
		case <-toggle:
			p.Toggle()
			if !p.Armed() {
				fmt.Printf("\rping time: %-24s", "hidden")
			}
		case <-sigs:
			log.Warn("Got interrupt signal")
			fmt.Println()
			return
		case <-expired:
			fmt.Println()
			return
		}
	}
}
