// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// journalcore-server — Ingestion Core Service
//
// Entry point for the ticketing core. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Registers every pipeline stage, the sync controller, and the
//     outbound sender on a worker host with per-type concurrency
//  4. Serves the Gmail Pub/Sub push endpoint
//  5. Handles graceful shutdown on SIGTERM/SIGINT, draining in-flight
//     jobs before exit
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/oss-ticketing/journalcore/internal/blobstore"
	"github.com/oss-ticketing/journalcore/internal/config"
	"github.com/oss-ticketing/journalcore/internal/crypto"
	"github.com/oss-ticketing/journalcore/internal/dedup"
	"github.com/oss-ticketing/journalcore/internal/gmail"
	"github.com/oss-ticketing/journalcore/internal/logctx"
	"github.com/oss-ticketing/journalcore/internal/models"
	"github.com/oss-ticketing/journalcore/internal/pipeline"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
	"github.com/oss-ticketing/journalcore/internal/syncctl"
	"github.com/oss-ticketing/journalcore/internal/webhook"
	"github.com/oss-ticketing/journalcore/internal/worker"
)

func main() {
	logger := slog.New(logctx.NewHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	slog.SetDefault(logger)

	slog.Info("starting journalcore server")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	box, err := crypto.NewBox(cfg.EncryptionKey)
	if err != nil {
		slog.Error("failed to build credential box", "error", err)
		os.Exit(1)
	}

	blobs, err := newBlobStore(cfg.Blob)
	if err != nil {
		slog.Error("failed to build blob store", "error", err)
		os.Exit(1)
	}

	dataStore := store.New(db)
	q := queue.New(db, cfg.BackoffBase, cfg.BackoffCap)
	provider := gmail.NewClient(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.APIBaseURL)
	filter := dedup.NewFilter(rdb)

	controller := &syncctl.Controller{
		Store:            dataStore,
		Provider:         provider,
		Box:              box,
		Queue:            q,
		FailureThreshold: cfg.CircuitBreakerThreshold,
		PauseWindow:      cfg.PauseWindow,
	}
	fetcher := &pipeline.Fetcher{Store: dataStore, Blobs: blobs, Provider: provider, Box: box, Queue: q}
	parser := &pipeline.Parser{Store: dataStore, Blobs: blobs, Queue: q, ParserVersion: cfg.ParserVersion, SanitizerRevision: cfg.SanitizerRevision}
	stitcher := &pipeline.Stitcher{Store: dataStore, Queue: q}
	router := &pipeline.Router{Store: dataStore}
	sender := &pipeline.Sender{Store: dataStore}

	host := worker.New(q, cfg.VisibilityTimeout, 0, cfg.ReaperInterval, cfg.DrainGracePeriod)
	host.Register(worker.Registration{Type: models.JobMailboxBackfill, Handler: controller.HandleBackfill, Concurrency: cfg.Concurrency.Sync})
	host.Register(worker.Registration{Type: models.JobMailboxHistorySync, Handler: controller.HandleHistorySync, Concurrency: cfg.Concurrency.Sync})
	host.Register(worker.Registration{Type: models.JobMailboxWatchRenew, Handler: controller.HandleWatchRenew, Concurrency: 1})
	host.Register(worker.Registration{Type: models.JobOccurrenceFetchRaw, Handler: fetcher.HandleFetchRaw, Concurrency: cfg.Concurrency.Fetch})
	host.Register(worker.Registration{Type: models.JobOccurrenceParse, Handler: parser.HandleParse, Concurrency: cfg.Concurrency.Parse})
	host.Register(worker.Registration{Type: models.JobOccurrenceStitch, Handler: stitcher.HandleStitch, Concurrency: cfg.Concurrency.Stitch})
	host.Register(worker.Registration{Type: models.JobTicketApplyRouting, Handler: router.HandleRoute, Concurrency: cfg.Concurrency.Route})
	host.Register(worker.Registration{Type: models.JobOutboundSend, Handler: sender.HandleOutboundSend, Concurrency: cfg.Concurrency.Outbound})

	pushHandler := &webhook.Handler{Store: dataStore, Queue: q, Filter: filter}
	ready, err := webhook.Serve(ctx, cfg.Port, pushHandler)
	if err != nil {
		slog.Error("failed to start push server", "error", err)
		os.Exit(1)
	}
	<-ready

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	slog.Info("worker host running")
	if err := host.Run(ctx); err != nil {
		slog.Error("worker host exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("journalcore server stopped")
}

func newBlobStore(cfg config.BlobConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case "s3":
		return blobstore.NewS3(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, cfg.UseSSL)
	case "filesystem", "":
		return blobstore.NewFilesystem(cfg.Root), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
