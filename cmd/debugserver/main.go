// Command queryflux-debugserver runs the introspection HTTP surface
// (internal/debugserver) alongside the periodic cache-sweep registry
// (internal/registry) for a small set of demo stores. Adapted from the
// teacher's cmd/api/main.go: same config.Load/zerolog/pgxpool wiring, with
// the coaching-app routes replaced by the read-only debug surface.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colinmarsh/queryflux"
	"github.com/colinmarsh/queryflux/internal/abortctl"
	"github.com/colinmarsh/queryflux/internal/config"
	"github.com/colinmarsh/queryflux/internal/debugserver"
	"github.com/colinmarsh/queryflux/internal/persistence"
	"github.com/colinmarsh/queryflux/internal/registry"
	"github.com/colinmarsh/queryflux/internal/telemetry"
)

// snapshotter is the common shape every demo store's Snapshot method
// satisfies, regardless of its data type parameter.
type snapshotter interface {
	Snapshot() debugserver.StoreSnapshot
}

type multiSource []snapshotter

func (m multiSource) Snapshots() []debugserver.StoreSnapshot {
	out := make([]debugserver.StoreSnapshot, 0, len(m))
	for _, s := range m {
		out = append(out, s.Snapshot())
	}
	return out
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := telemetry.Default()

	var persist persistence.Adapter
	if cfg.HasPostgres() {
		pool, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("postgres connect: %v", err)
		}
		defer pool.Close()

		pg := persistence.NewPostgresAdapter(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		persist = pg
	} else {
		fa, err := persistence.NewFileAdapter("./queryflux-data")
		if err != nil {
			log.Fatalf("file persistence: %v", err)
		}
		persist = fa
	}

	clock := time.Now
	reg, err := registry.New("@every 5m", nil)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	reg.Start()
	defer reg.Stop()

	demo := queryflux.New(queryflux.Options[int]{
		StoreID: "demo-counter",
		Params:  map[string]queryflux.ParamSource{},
		Fetcher: func(map[string]any, *abortctl.Handle) (int, error) {
			return int(clock().Unix()), nil
		},
		StaleTime:   30 * time.Second,
		Logger:      logger,
		Persistence: persist,
	})
	unsubscribeDemo := demo.Subscribe()
	defer unsubscribeDemo()
	defer reg.Register("demo-counter", demo)()

	// Second demo store riding on an in-memory scs session store, the same
	// backend shape the teacher's cmd/api/main.go used for its
	// *scs.SessionManager (here standing in for a Redis/Postgres-backed
	// scs store in production).
	sessionPersist := persistence.NewSessionAdapter(memstore.New(), 24*time.Hour)
	demoSession := queryflux.New(queryflux.Options[int]{
		StoreID: "demo-clock",
		Fetcher: func(map[string]any, *abortctl.Handle) (int, error) {
			return int(clock().UnixNano()), nil
		},
		StaleTime:   10 * time.Second,
		Logger:      logger,
		Persistence: sessionPersist,
	})
	unsubscribeSession := demoSession.Subscribe()
	defer unsubscribeSession()
	defer reg.Register("demo-clock", demoSession)()

	source := multiSource{demo, demoSession}
	dbg := debugserver.New(source)

	srv := &http.Server{Addr: cfg.DebugServerAddr, Handler: dbg.Router}
	logger.Info("", "", "debug server listening on "+cfg.DebugServerAddr)
	log.Fatal(srv.ListenAndServe())
}
