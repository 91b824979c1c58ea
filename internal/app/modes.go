package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openpredict/marketd/internal/domain"
	"github.com/openpredict/marketd/internal/engine"
	"github.com/openpredict/marketd/internal/lmsr"
	"github.com/openpredict/marketd/internal/server"
	"github.com/openpredict/marketd/internal/server/handler"
	"github.com/openpredict/marketd/internal/server/ws"
	"github.com/openpredict/marketd/internal/service"
)

// engineSet groups the assembled engine components.
type engineSet struct {
	book      *engine.Book
	ledger    *engine.Ledger
	positions *engine.Positions
	results   domain.ResultCache
	sequencer *engine.Sequencer
	resolver  *engine.Resolver
}

// buildEngine assembles and hydrates the trading engine. Without Redis
// the in-memory result store serves polling; without Postgres the engine
// runs purely in memory.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engineSet, error) {
	curve := lmsr.New(a.cfg.Market.LiquidityB, a.cfg.Market.Buffer)

	book := engine.NewBook(curve, deps.MarketStore, deps.StateStore, a.logger)
	ledger := engine.NewLedger(a.cfg.Market.InitialBalance, deps.UserStore, a.logger)
	positions := engine.NewPositions(deps.BetStore, a.logger)

	results := deps.ResultCache
	if results == nil {
		results = engine.NewResultStore(a.cfg.Engine.ResultMax)
	}

	if err := book.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	if err := ledger.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	if err := positions.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	sequencer := engine.NewSequencer(book, ledger, positions, results, engine.SequencerOpts{
		QueueSize:       a.cfg.Engine.QueueSize,
		ResultTTL:       a.cfg.Engine.ResultTTL.Duration,
		CleanupInterval: a.cfg.Engine.CleanupInterval.Duration,
		Prices:          deps.PriceCache,
		Bus:             deps.SignalBus,
		Audit:           deps.AuditStore,
	}, a.logger)

	resolver := engine.NewResolver(book, ledger, positions, a.cfg.Market.FeeRate,
		deps.SignalBus, deps.AuditStore, a.logger)

	return &engineSet{
		book:      book,
		ledger:    ledger,
		positions: positions,
		results:   results,
		sequencer: sequencer,
		resolver:  resolver,
	}, nil
}

// ServeMode runs the full stack: the trade sequencer, the HTTP API and,
// when a signal bus is wired, the WebSocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	es, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return es.sequencer.Run(ctx)
	})

	// Services.
	var archiver service.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	var notifier service.Notifier
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}
	marketSvc := service.NewMarketService(es.book, es.positions, es.resolver,
		deps.LockManager, archiver, notifier, a.logger)
	tradeSvc := service.NewTradeService(es.sequencer, es.book, es.positions,
		es.results, a.cfg.Market.MaxBetAmount, a.logger)
	userSvc := service.NewUserService(es.ledger, a.logger)

	// WebSocket hub needs the signal bus.
	var hub *ws.Hub
	if a.cfg.Server.WSEnabled && deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	var archives handler.ArchiveLister
	if deps.Archiver != nil {
		archives = deps.Archiver
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		AdminKey:     a.cfg.Server.AdminToken,
		AdminKeyHash: a.cfg.Server.AdminTokenHash,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Markets: handler.NewMarketHandler(marketSvc, a.logger),
		Trades:  handler.NewTradeHandler(tradeSvc, a.logger),
		Users:   handler.NewUserHandler(userSvc, tradeSvc, a.logger),
		Admin:   handler.NewAdminHandler(deps.AuditStore, archives, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// EngineMode runs the sequencer without the HTTP surface, for embedding
// and smoke use. Trades arrive through whatever holds the sequencer.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	es, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("engine mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return es.sequencer.Run(ctx)
	})
	return g.Wait()
}
