package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wsprobe/wsprobe/config"
	"github.com/wsprobe/wsprobe/listener"
	"github.com/wsprobe/wsprobe/logging"
	"github.com/wsprobe/wsprobe/probe/spec"
	"github.com/wsprobe/wsprobe/server/handler"
)

var (
	// Flags that can be passed in on the command line. Non-empty flag values
	// override the corresponding config file values.
	configFile  = flag.String("config", "", "An optional yaml configuration file")
	listenAddr  = flag.String("listen_addr", "", "The address and port to use for the probe endpoint")
	metricsAddr = flag.String("metrics_addr", "", "The address and port to use for metrics and pprof")
	certFile    = flag.String("cert", "", "The file with server certificates in PEM format.")
	keyFile     = flag.String("key", "", "The file with server key in PEM format.")

	// A metric to use to signal that the server is in lame duck mode.
	lameDuck = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wsprobe_lame_duck",
		Help: "Indicates when the server is in lame duck",
	})

	// Context for the whole program.
	ctx, cancel = context.WithCancel(context.Background())
)

func catchSigterm() {
	// Disable lame duck status.
	lameDuck.Set(0)

	// Register channel to receive SIGTERM events.
	c := make(chan os.Signal, 1)
	defer close(c)
	signal.Notify(c, syscall.SIGTERM)

	// Wait until we receive a SIGTERM or the context is canceled.
	select {
	case <-c:
		logging.Logger.Info("Received SIGTERM")
	case <-ctx.Done():
		logging.Logger.Info("Canceled")
	}
	// Set lame duck status. This will remain set until exit.
	lameDuck.Set(1)
	// When we receive a second SIGTERM, cancel the context and shut
	// everything down. This should cause main() to exit cleanly.
	select {
	case <-c:
		logging.Logger.Info("Received SIGTERM")
		cancel()
	case <-ctx.Done():
		logging.Logger.Info("Canceled")
	}
}

func defaultHandler(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(`
This is a wsprobe server.

It answers websocket pings on ` + spec.ProbeURLPath + ` so that clients can
measure their round-trip time. All timing arithmetic happens client-side.

You can monitor its status on the metrics port under /metrics.
`))
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	cfg, err := config.Load(*configFile)
	rtx.Must(err, "Could not load the configuration file")
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *certFile != "" {
		cfg.CertFile = *certFile
	}
	if *keyFile != "" {
		cfg.KeyFile = *keyFile
	}

	go catchSigterm()

	// Metrics and pprof live on a side server so that scrapes and profile
	// downloads never share a socket with the endpoint being measured.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/debug/pprof/", pprof.Index)
	metricsMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	metricsMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	metricsMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	metricsMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}
	rtx.Must(httpx.ListenAndServeAsync(metricsSrv), "Could not start metrics server")
	defer metricsSrv.Close()

	probeMux := http.NewServeMux()
	h := handler.Handler{IdleTimeout: cfg.IdleTimeout()}
	probeMux.Handle(spec.ProbeURLPath, http.HandlerFunc(h.Probe))
	probeMux.HandleFunc("/", defaultHandler)
	probeSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: logging.MakeAccessLogHandler(probeMux),
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		logging.Logger.Infof("Starting TLS probe server on %s", cfg.ListenAddr)
		rtx.Must(
			listener.ListenAndServeTLSAsync(probeSrv, cfg.CertFile, cfg.KeyFile),
			"Could not start TLS probe server")
	} else {
		logging.Logger.Infof("Starting probe server on %s", cfg.ListenAddr)
		rtx.Must(listener.ListenAndServeAsync(probeSrv), "Could not start probe server")
	}
	defer probeSrv.Close()

	<-ctx.Done()
}
