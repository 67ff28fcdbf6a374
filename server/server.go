package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"querybridge/backend"
	"querybridge/config"
	"querybridge/handler"
	"querybridge/logging"
	"querybridge/manager"
	"querybridge/metrics"
)

var log *logrus.Logger

func init() {
	log = logging.GetLogger()
}

const shutdownTimeout = 10 * time.Second

// Target is the program every POST request is bridged to.
type Target struct {
	Name string
	Path string
	// LogFailures echoes the stderr of failed runs to the console.
	LogFailures bool
}

// Run binds cfg.ListenAddress and serves target until ctx is cancelled.
// The startup banner and echoed failures go to console.
func Run(ctx context.Context, cfg *config.Config, target Target, console io.Writer) error {
	ln, err := Listen(cfg.ListenAddress)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	runner := backend.NewRunner(target.Path, cfg.ProcessTimeout)
	cm := manager.NewConcurrencyManager(map[string]int{target.Name: cfg.MaxConcurrent}, cfg.MaxConcurrent)
	defer cm.Shutdown()

	bridge := handler.NewBridgeHandler(handler.Options{
		Program:      target.Name,
		Runner:       runner,
		Concurrency:  cm,
		Metrics:      m,
		MaxBodyBytes: cfg.MaxBodyBytes,
		LogFailures:  target.LogFailures,
		Console:      console,
	})
	log.Debugf("Bridging POST requests to %s (%s)", target.Name, runner.Path())

	if cfg.MetricsAddress != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddress,
			Handler: metrics.Handler(reg),
		}
		go func() {
			log.Infof("Serving metrics on %s", cfg.MetricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
		defer metricsServer.Close()
	}

	return Serve(ctx, ln, handler.NewRouter(bridge, m), console)
}

// Listen binds a TCP listener. Failure is not retried.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, console io.Writer) error {
	srv := &http.Server{
		Handler: h,
		// "OPTIONS *" must reach the router like any other non-POST request.
		DisableGeneralOptionsHandler: true,
		ReadHeaderTimeout:            30 * time.Second,
	}

	fmt.Fprintf(console, "HTTP webserver running.  Access it at:  %s\n", displayURL(ln.Addr()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Infoln("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Graceful shutdown incomplete: %v", err)
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func displayURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String() + "/"
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}
