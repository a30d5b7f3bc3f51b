// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"shelfshare/internal/config"
	"shelfshare/internal/httpx"
	"shelfshare/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadGateway()
	logger, err := observability.NewLogger("api", cfg.Env)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := httpx.NewRouter(observability.Metrics)
	router.Handle("/metrics", observability.MetricsHandler())
	upstreams := []struct{ prefix, target string }{
		{"/api/v1/catalog", cfg.CatalogURL},
		{"/api/v1/members", cfg.MembershipURL},
		{"/api/v1/rentals", cfg.RentalsURL},
	}
	for _, u := range upstreams {
		proxy, err := newProxy(u.target, logger)
		if err != nil {
			return err
		}
		router.Mount(u.prefix, http.StripPrefix(u.prefix, proxy))
		logger.Info("proxying", zap.String("prefix", u.prefix), zap.String("upstream", u.target))
	}

	return httpx.Serve(ctx, ":"+cfg.Port, router, logger)
}

// newProxy forwards to target and answers 503 in the error taxonomy when
// the upstream cannot be reached.
func newProxy(target string, logger *zap.Logger) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", target, err)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream unreachable", zap.String("upstream", target), zap.String("path", r.URL.Path), zap.Error(err))
		httpx.JSON(w, http.StatusServiceUnavailable, httpx.ErrorBody{Code: "STORE_UNAVAILABLE", Message: "upstream unavailable"})
	}
	return proxy, nil
}
