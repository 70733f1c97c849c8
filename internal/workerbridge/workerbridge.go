// Package workerbridge offloads scheduled refetches/retries to a
// separate worker process over Redis, using hibiken/asynq exactly the way
// the teacher's cmd/worker does. This is an optional cross-process path
// alongside the in-process timer: the coordinator still arms its own
// clock.Timer, and a delayed task is enqueued as well so that a (possibly
// different) process runs its registered RefetchFunc when the task fires.
package workerbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// TaskRefetch is the asynq task type name for a scheduled refetch/retry.
const TaskRefetch = "queryflux:refetch"

// Payload is the JSON body of a TaskRefetch task.
type Payload struct {
	StoreID  string         `json:"store_id"`
	QueryKey string         `json:"query_key"`
	Params   map[string]any `json:"params"`
}

// Bridge is the producer side: it enqueues delayed refetch tasks. Grounded
// on the teacher's jobs package (task payload + TaskSyncStrava naming
// convention) and cmd/worker/main.go's asynq.RedisClientOpt wiring.
type Bridge struct {
	client *asynq.Client
	queue  string
}

// NewBridge constructs a Bridge against the given Redis address.
func NewBridge(redisAddr string) *Bridge {
	return &Bridge{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		queue:  "queryflux",
	}
}

// Close releases the underlying asynq client.
func (b *Bridge) Close() error {
	return b.client.Close()
}

// Schedule enqueues a TaskRefetch task to fire after delay.
func (b *Bridge) Schedule(ctx context.Context, storeID, queryKey string, params map[string]any, delay time.Duration) error {
	body, err := json.Marshal(Payload{StoreID: storeID, QueryKey: queryKey, Params: params})
	if err != nil {
		return fmt.Errorf("marshal workerbridge payload: %w", err)
	}
	task := asynq.NewTask(TaskRefetch, body, asynq.Queue(b.queue))
	_, err = b.client.EnqueueContext(ctx, task, asynq.ProcessIn(delay))
	return err
}

// RefetchFunc is the handler a host application registers with Server to
// actually perform the refetch for a given store/params. It returns an
// error to signal the fetch failed; Server decides whether that error is
// retryable.
type RefetchFunc func(ctx context.Context, storeID string, params map[string]any) error

// HandlerRegistry maps a StoreID to the RefetchFunc that knows how to
// re-trigger that particular Store[D]. A worker process is typically a
// separate binary from the one that constructed the Store, so it can't
// dispatch by type; the host registers one handler per store it wants this
// worker to serve.
type HandlerRegistry struct {
	mu       sync.Mutex
	handlers map[string]RefetchFunc
}

// NewHandlerRegistry returns an empty HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]RefetchFunc)}
}

// Register adds handle under storeID.
func (r *HandlerRegistry) Register(storeID string, handle RefetchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[storeID] = handle
}

// Refetcher looks up the handler registered for storeID.
func (r *HandlerRegistry) Refetcher(storeID string) (RefetchFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[storeID]
	return h, ok
}

// Server is the consumer side: an asynq worker that dispatches TaskRefetch
// tasks to the RefetchFunc given to NewServer. Grounded directly on the
// teacher's cmd/worker/main.go: same asynq.NewServer/asynq.NewServeMux
// shape, same permanent-vs-retryable error classification.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewServer builds a Server that routes TaskRefetch tasks to handle.
func NewServer(redisAddr string, concurrency int, handle RefetchFunc) *Server {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency:    concurrency,
		StrictPriority: false,
		Queues: map[string]int{
			"queryflux": 10,
			"default":   5,
		},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRefetch, func(ctx context.Context, t *asynq.Task) error {
		var p Payload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("bad workerbridge payload: %w", err)
		}
		err := handle(ctx, p.StoreID, p.Params)
		if err == nil {
			return nil
		}
		if isRetryableError(err) {
			return err // asynq retries per its own backoff policy
		}
		return nil // drop permanent failures rather than retry forever
	})

	return &Server{srv: srv, mux: mux}
}

// Run blocks serving tasks until the process is signaled to stop.
func (s *Server) Run() error {
	return s.srv.Run(s.mux)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// isRetryableError classifies an error the same way the teacher's
// cmd/worker/main.go does: transient network/rate-limit/5xx conditions
// are retried, everything else is treated as permanent and dropped.
func isRetryableError(err error) bool {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") {
		return true
	}

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}

	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	return false
}
