package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unishare/unisync/internal/devserver"
	"github.com/unishare/unisync/internal/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	appKey := flag.String("app-key", "", "Pusher app key (default unisync-dev)")
	secret := flag.String("secret", "", "Pusher app secret, also used to sign API tokens")
	rateLimit := flag.Int64("rate-limit", 0, "API requests per minute per client, 0 for unlimited")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of issued API tokens")
	origins := flag.String("cors", "", "comma separated origins allowed to call the API from a browser")
	verbose := flag.Bool("v", false, "log every request")
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)
	logger := logging.Console(*verbose)
	defer func() { _ = logger.Sync() }()

	cfg := devserver.Config{
		AppKey:    *appKey,
		AppSecret: *secret,
		TokenTTL:  *tokenTTL,
		RateLimit: *rateLimit,
	}
	if *origins != "" {
		cfg.AllowOrigins = strings.Split(*origins, ",")
	}
	srv := devserver.New(cfg, logger)

	fmt.Printf("UniShare dev server on http://%s\n", *addr)
	fmt.Printf("  api-url:  http://%s/api\n", *addr)
	fmt.Printf("  push-url: ws://%s/app/%s?protocol=7\n", *addr, srv.AppKey())
	fmt.Println("  tokens:")
	for _, u := range devserver.DefaultSeed().Users {
		tok, err := srv.IssueToken(u.ID)
		if err != nil {
			logger.Fatal("issue token", zap.Error(err))
		}
		fmt.Printf("    user %d (%s): %s\n", u.ID, u.Name, tok)
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
