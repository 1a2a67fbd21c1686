package subcmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"imgsync/impl/config"
	"imgsync/impl/globals"
	"imgsync/impl/metrics"
	"imgsync/impl/regclient"
	"imgsync/impl/syncer"
	"imgsync/impl/workqueue"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const startupBanner = `----------------------------------------------------------------------
Imgsync: registry-to-registry container image replicator
Version: %s, build date: %s
Started: %s (port %d)
Running as (uid:gid) %d:%d
Process id: %d
Tls: %s
Command line: %v
----------------------------------------------------------------------
`

// listener will be initialized with the Echo listener once the Echo server
// is started.
var listener net.Listener

// syncRequest is the POST /v1/sync request body.
type syncRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode,omitempty"`
}

// syncResponse is the POST /v1/sync response body.
type syncResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Serve runs the replication REST API server, blocking until stopped with
// CTRL-C or via GET /cmd/stop.
func Serve(buildVer string, buildDtm string) error {
	tlsCfg, err := globals.ParseTls()
	if err != nil {
		return fmt.Errorf("error parsing TLS configuration: %s", err)
	}
	s, q := newSyncer()
	defer q.Close()

	if config.GetConfigFile() != "" {
		stopReload, err := config.StartReload()
		if err != nil {
			return fmt.Errorf("error watching the configuration file: %s", err)
		}
		defer stopReload()
	}

	shutdownCh := make(chan bool)
	e := newRouter(s, shutdownCh)

	if config.GetMetricsPort() != 0 {
		metrics.InitMetrics(int(config.GetMetricsPort()))
	} else {
		metrics.InitMetricsInProcess()
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	fmt.Fprintf(os.Stderr, startupBanner, buildVer, buildDtm, time.Unix(0, time.Now().UnixNano()), config.GetPort(),
		os.Getuid(), os.Getgid(), os.Getpid(), tlsMsg(), strings.Join(os.Args, " "))

	// start the API server
	go func() {
		addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(int(config.GetPort())))
		if tlsCfg != nil {
			srv := http.Server{
				Addr:      addr,
				Handler:   e,
				TLSConfig: tlsCfg,
			}
			if err := e.StartServer(&srv); err != http.ErrServerClosed {
				e.Logger.Fatal("shutting down the server. error:", err)
			}
		} else {
			if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
				e.Logger.Fatal("shutting down the server. error:", err)
			}
		}
	}()
	if err := waitForEchoListener(e); err != nil {
		return errors.New("timed out waiting for Echo listener")
	}
	listener = getEchoListener(e)
	log.Info("server is running")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-shutdownCh:
		log.Infof("received stop command - stopping")
	case sig := <-signalCh:
		log.Infof("received %s - stopping", sig)
	}
	e.Server.Shutdown(context.Background())
	log.Infof("stopped")
	return nil
}

// newRouter builds the Echo router with the replication API routes.
func newRouter(s *syncer.Syncer, shutdownCh chan bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(globals.GetEchoLoggingFunc())

	e.POST("/v1/sync", func(ctx echo.Context) error {
		var req syncRequest
		if err := ctx.Bind(&req); err != nil {
			return ctx.JSON(http.StatusBadRequest, syncResponse{Status: "error", Error: err.Error()})
		}
		if req.Mode == "" {
			req.Mode = config.GetMode()
		}
		mode, err := syncer.ParseMode(req.Mode)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, syncResponse{Status: "error", Error: err.Error()})
		}
		src, err := parseRef(req.Source)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, syncResponse{Status: "error", Error: err.Error()})
		}
		dest, err := parseRef(req.Destination)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, syncResponse{Status: "error", Error: err.Error()})
		}
		if err := s.SyncImage(ctx.Request().Context(), src, dest, mode); err != nil {
			return ctx.JSON(syncStatus(err), syncResponse{Status: "error", Error: err.Error()})
		}
		return ctx.JSON(http.StatusOK, syncResponse{Status: "ok"})
	})
	e.GET("/v1/metrics", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, s.GetMetrics())
	})
	e.GET("/health", func(ctx echo.Context) error {
		return ctx.NoContent(http.StatusOK)
	})
	e.GET("/cmd/stop", func(ctx echo.Context) error {
		shutdownCh <- true
		return nil
	})
	return e
}

// syncStatus maps a sync failure to an API status code. Queue overflow is
// backpressure: the caller should retry later, and gets 429 rather than a
// hard failure code.
func syncStatus(err error) int {
	switch {
	case errors.Is(err, workqueue.ErrQueueOverflow):
		return http.StatusTooManyRequests
	case errors.Is(err, syncer.ErrBlobTooLarge):
		return http.StatusRequestEntityTooLarge
	case regclient.IsKind(err, regclient.ManifestNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// tlsMsg formats the server TLS configuration for the startup banner
func tlsMsg() string {
	msg := "none"
	tlsCfg := config.GetServerTlsCfg()
	if tlsCfg.Cert != "" && tlsCfg.Key != "" {
		msg = fmt.Sprintf("cert=%s, key=%s", tlsCfg.Cert, tlsCfg.Key)
	}
	if tlsCfg.CA != "" {
		msg = fmt.Sprintf("%s, ca=%s", msg, tlsCfg.CA)
	}
	if msg != "none" {
		return fmt.Sprintf("%s, client verify=%s", msg, tlsCfg.ClientAuth)
	}
	return "none"
}

// getEchoListener gets the Echo listener. Supports unit testing.
func getEchoListener(e *echo.Echo) net.Listener {
	if e.Listener != nil {
		return e.Listener
	}
	return e.TLSListener
}

// waitForEchoListener waits for the Listener in the Echo server to be initialized. This
// is only used in unit testing so that the unit tests can start the server on ":0" and let
// the http package assign a random port number. Supports unit testing.
func waitForEchoListener(e *echo.Echo) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if e.Listener != nil || e.TLSListener != nil {
				return nil
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
