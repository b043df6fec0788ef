package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ithappened/internal/api"
	"ithappened/internal/capture"
	"ithappened/internal/config"
	"ithappened/internal/ics"
	appLog "ithappened/internal/log"
	"ithappened/internal/metrics"
	"ithappened/internal/schedule"
	"ithappened/internal/screen"
	"ithappened/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	apiURL     string
	once       bool
	capture    bool
	importPath string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.ResolveAPIURL(flags.apiURL, os.LookupEnv)

	appLog.SetFormat(appLog.Format(conf.LogFormat))
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("ithappened starting", "version", version)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"api_url", conf.APIURL,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"request_timeout", conf.RequestTimeout(),
		"refresh", conf.RefreshCron,
		"read_only", conf.ReadOnly,
		"once", flags.once,
		"capture", flags.capture,
		"import", flags.importPath,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	client := api.NewClient(conf.APIURL,
		api.WithTimeout(conf.RequestTimeout()),
		api.WithMetrics(m),
	)
	ctrl := screen.New(client, screen.Options{ReadOnly: conf.ReadOnly, Metrics: m})

	if flags.importPath != "" {
		if err := runImport(ctx, flags.importPath, client, ctrl); err != nil {
			appLog.Error("import failed", err, "path", flags.importPath)
			os.Exit(1)
		}
		return
	}

	if err := ctrl.Load(ctx); err != nil {
		appLog.Error("initial load failed", err)
	}

	if flags.once {
		snap := ctrl.Snapshot()
		printEvents(os.Stdout, snap, conf.Location())
		if snap.Status == screen.StatusErrored {
			os.Exit(1)
		}
		return
	}

	if conf.RefreshCron != "" {
		sched, err := schedule.New(ctx, conf.RefreshCron, ctrl)
		if err != nil {
			appLog.Error("failed to schedule background refresh", err, "refresh", conf.RefreshCron)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := web.NewServer(conf, ctrl, m, prometheus.DefaultGatherer)

	if flags.capture {
		if err := runCapture(ctx, conf, srv); err != nil {
			appLog.Error("capture failed", err, "output", conf.CapturePath)
			os.Exit(1)
		}
		return
	}

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		os.Exit(1)
	}
	appLog.Info("ithappened exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./ithappened.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.apiURL, "api-url", "", "Events API base URL (overrides $API_URL and config)")
	flag.BoolVar(&cfg.once, "once", false, "Load the event list once, print it and exit")
	flag.BoolVar(&cfg.capture, "capture", false, "Serve the screen, write a PNG screenshot to capture_path and exit")
	flag.StringVar(&cfg.importPath, "import", "", "Create one event per VEVENT in this .ics file and exit")

	flag.Parse()

	return cfg
}

// runImport creates every usable VEVENT from path and reloads the list
// once at the end.
func runImport(ctx context.Context, path string, client *api.Client, ctrl *screen.Controller) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res, err := ics.ParseICS(body)
	if err != nil {
		return err
	}

	var failed int
	for _, req := range res.Requests {
		if err := client.Create(ctx, req); err != nil {
			failed++
			appLog.Error("import create failed", err, "name", req.Name)
		}
	}
	appLog.Info("import finished", "created", len(res.Requests)-failed, "failed", failed, "skipped", res.Skipped)

	if err := ctrl.Load(ctx); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d events failed to import", failed, len(res.Requests))
	}
	return nil
}

// runCapture serves the screen long enough to screenshot it.
func runCapture(ctx context.Context, conf *config.Config, srv *web.Server) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(serveCtx) }()

	base := localBaseURL(conf.Listen)
	if err := waitHealthy(ctx, base+"/health", 5*time.Second); err != nil {
		return err
	}

	err := capture.ScreenPNG(ctx, capture.Options{
		URL:        base + "/",
		OutputPath: conf.CapturePath,
		Headers:    captureHeaders(conf),
	})
	cancel()
	if serr := <-errCh; serr != nil && !errors.Is(serr, http.ErrServerClosed) && err == nil {
		err = serr
	}
	if err == nil {
		appLog.Info("screen captured", "output", conf.CapturePath)
	}
	return err
}

// localBaseURL turns a listen address into a URL reachable from this
// host. Wildcard or empty hosts map to 127.0.0.1.
func localBaseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// captureHeaders returns the Authorization header the screen needs when
// basic auth is on.
func captureHeaders(conf *config.Config) map[string]string {
	ba := conf.BasicAuth
	if ba == nil || ba.Username == "" || ba.Password == "" {
		return nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(ba.Username + ":" + ba.Password))
	return map[string]string{"Authorization": "Basic " + token}
}

func waitHealthy(ctx context.Context, url string, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server at %s not ready after %v", url, limit)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func printEvents(w io.Writer, snap screen.Snapshot, loc *time.Location) {
	if snap.Error != "" {
		fmt.Fprintln(w, snap.Error)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range snap.Events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.ID, e.Time().In(loc).Format(time.DateTime), e.Name, e.Description)
	}
	tw.Flush()
}
