package main

import (
	"context"
	"errors"
	"github.com/jtj60/dorado-exchange-sub004/internal/app"
	"github.com/jtj60/dorado-exchange-sub004/internal/httpx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, "dorado-api", true)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer deps.Close()

	router := httpx.NewRouter(deps.Log)
	oh := &httpx.OrdersHandler{
		Engine: deps.Engine,
		Status: deps.Cache,
		Log:    deps.Log,
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              deps.Cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.Log.Info("http listening", zap.String("addr", deps.Cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		deps.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("api exited", zap.Error(err))
	}
}
