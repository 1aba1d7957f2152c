package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/agroyard/piletas/internal/api/orderapi"
	"github.com/agroyard/piletas/internal/broker/messages"
	"github.com/agroyard/piletas/internal/models"
	"github.com/agroyard/piletas/internal/services/pileorder"
)

type pileAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runPileAPI(ctx context.Context, opts pileAPIOpts, timers orderapi.TimerService, order orderapi.OrderService, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	orderapi.New(timers, order).Routes(r)

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	httpErr := make(chan error, 1)
	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()
	go func() {
		slog.Info("HTTP server listening", "addr", lis.Addr().String())
		httpErr <- srv.Serve(lis)
	}()

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		err := consumer.Consume(ctx, func(_key, value []byte) error {
			var m messages.UnitStatusChanged
			if err := json.Unmarshal(value, &m); err != nil {
				// Poison message; committing is the only way past it.
				slog.Error("skipping malformed status message", "error", err)
				return nil
			}
			err := order.UpdateSingleUnit(ctx, pileorder.UnitUpdate{
				ShipmentID:     m.ShipmentID,
				CodeGen:        m.CodeGen,
				CurrentStatus:  models.UnitStatus(m.CurrentStatus),
				Category:       m.Category,
				HasActiveTimer: m.HasActiveTimer,
			})
			if err != nil && errors.Cause(err) == err {
				// Bare errors are validation failures that no redelivery
				// can fix; store failures come back wrapped and are
				// retried via the uncommitted offset.
				slog.Error("skipping unprocessable status message", "shipment_id", m.ShipmentID, "error", err)
				return nil
			}
			return err
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("kafka consumer stopped", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}
