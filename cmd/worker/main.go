// Command queryflux-worker runs the consumer side of the worker bridge
// (internal/workerbridge): it receives TaskRefetch tasks enqueued by any
// Store configured with a WorkerBridge and runs the refetch handler
// registered for that task's store ID, out of process. Grounded on the teacher's cmd/worker/main.go: same
// asynq.NewServer/asynq.NewServeMux wiring, same signal-driven shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/colinmarsh/queryflux/internal/config"
	"github.com/colinmarsh/queryflux/internal/telemetry"
	"github.com/colinmarsh/queryflux/internal/workerbridge"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.HasWorkerBridge() {
		log.Fatal("QUERYFLUX_REDIS_ADDR is required to run the worker bridge consumer")
	}

	logger := telemetry.Default()

	handlers := workerbridge.NewHandlerRegistry()
	handlers.Register("github-stars", refetchGithubStars)

	srv := workerbridge.NewServer(cfg.Redis.Addr, 8, func(ctx context.Context, storeID string, params map[string]any) error {
		handle, ok := handlers.Refetcher(storeID)
		if !ok {
			logger.Warn(storeID, "", nil, "worker received refetch for unregistered store, dropping")
			return nil
		}
		return handle(ctx, storeID, params)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("", "", "worker shutting down")
		srv.Shutdown()
	}()

	logger.Info("", "", "worker running")
	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}

// refetchGithubStars fetches a GitHub repo's star count (params["repo"])
// and logs it, as a demo refetch handler. A real deployment wires a handler
// per store the host application wants this worker to serve. storeID is
// unused here since this handler only ever serves the one "github-stars"
// registration, but the signature must match workerbridge.RefetchFunc.
func refetchGithubStars(ctx context.Context, _ string, params map[string]any) error {
	repo, _ := params["repo"].(string)
	if repo == "" {
		return fmt.Errorf("refetchGithubStars: missing repo param")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/repos/"+repo, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("github repo status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		StargazersCount int `json:"stargazers_count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}

	log.Printf("[worker] refetched %s: %d stars at %s", repo, payload.StargazersCount, time.Now().UTC().Format(time.RFC3339))
	return nil
}
