package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/openfund/fund/pkg/api"
	"github.com/openfund/fund/pkg/fund"
	"github.com/openfund/fund/pkg/metrics"
	"github.com/openfund/fund/pkg/websocket"
)

const (
	defaultDataDir = ".fundd"
	defaultPort    = 8080
	defaultWSPort  = 8081
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Fund
	FundName    string
	Manager     string
	DenomAsset  string
	Assets      string
	PriceWindow time.Duration

	// Engine
	EnableEngine bool
	FreezePeriod time.Duration
	PremiumBps   int64

	// Network
	HTTPPort    int
	WSPort      int
	MetricsPort int
	NATSUrl     string

	// Features
	EnableMetrics bool
	DevMode       bool
}

type FunddNode struct {
	config *Config
	db     database.Database
	ledger *fund.TokenLedger
	feed   *fund.PriceFeed
	hub    *fund.Hub
	engine *fund.Engine
	m      *metrics.FundMetrics
	ws     *websocket.Server
	nc     *nats.Conn
	logger log.Logger

	// Runtime stats
	eventsJournaled uint64
	natsPublished   uint64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFunddNode(config *Config) (*FunddNode, error) {
	level, _ := log.ToLevel(config.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Initializing fund daemon")

	// Ensure data directory exists
	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Initialize the event journal database. BadgerDB with an in-memory
	// fallback when it cannot be opened.
	dbManager := manager.NewManager(dataPath, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "fundd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory database")
	} else {
		logger.Info("BadgerDB initialized",
			"path", filepath.Join(dataPath, "badgerdb"))
	}

	// Token ledger and price feed
	ledger := fund.NewTokenLedger()
	for _, asset := range strings.Split(config.Assets, ",") {
		asset = strings.TrimSpace(asset)
		if asset == "" {
			continue
		}
		if err := ledger.RegisterAsset(asset, 18); err != nil {
			return nil, fmt.Errorf("failed to register asset %s: %w", asset, err)
		}
	}
	feed := fund.NewPriceFeed(config.PriceWindow)

	// The fund itself
	hub, err := fund.NewHub(fund.HubConfig{
		Name:              config.FundName,
		Manager:           config.Manager,
		DenominationAsset: config.DenomAsset,
	}, ledger, feed, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fund: %w", err)
	}

	node := &FunddNode{
		config: config,
		db:     db,
		ledger: ledger,
		feed:   feed,
		hub:    hub,
		logger: logger,
	}

	// Internal liquidity engine plus the trading venues
	if err := node.wireVenues(); err != nil {
		return nil, err
	}

	// Prometheus metrics
	if config.EnableMetrics {
		node.m, err = metrics.NewFundMetrics("fundd")
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	// NATS event publisher
	if config.NATSUrl != "" {
		nc, err := nats.Connect(config.NATSUrl)
		if err != nil {
			logger.Warn("NATS unavailable, events will not be published", "error", err)
		} else {
			node.nc = nc
			logger.Info("NATS connected", "url", config.NATSUrl)
		}
	}

	node.ws = websocket.NewServer(hub, logger, websocket.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	node.ctx = ctx
	node.cancel = cancel
	return node, nil
}

// wireVenues registers every trading venue the daemon ships with.
func (n *FunddNode) wireVenues() error {
	registry := n.hub.Registry()

	if n.config.EnableEngine {
		engine, err := fund.NewEngine(fund.EngineConfig{
			NativeAsset:     n.hub.DenominationAsset(),
			SettlementAsset: "MLN",
			FreezePeriod:    n.config.FreezePeriod,
			PremiumBps:      n.config.PremiumBps,
		}, n.ledger, n.feed, n.hub.Events(), n.logger)
		if err != nil {
			n.logger.Warn("Engine disabled", "error", err)
		} else {
			n.engine = engine
			if err := registry.Register(fund.NewEngineAdapter(engine)); err != nil {
				return err
			}
		}
	}

	if err := registry.Register(fund.NewOasisAdapter(fund.NewOasisVenue(n.ledger))); err != nil {
		return err
	}
	for _, version := range []int{2, 3} {
		venue, err := fund.NewZeroExVenue(fund.ZeroExVenueConfig{
			Version:  version,
			FeeAsset: "ZRX",
		}, n.ledger)
		if err != nil {
			return err
		}
		if err := registry.Register(fund.NewZeroExAdapter(venue)); err != nil {
			return err
		}
	}
	if err := registry.Register(fund.NewAirSwapAdapter(fund.NewAirSwapVenue(n.ledger))); err != nil {
		return err
	}
	if err := registry.Register(fund.NewAMMAdapter(fund.NewAMMPool(n.ledger, n.feed))); err != nil {
		return err
	}

	n.logger.Info("Venues registered", "venues", registry.Venues())
	return nil
}

func (n *FunddNode) Start() error {
	n.logger.Info("Starting fund daemon",
		"fund", n.hub.Name(),
		"manager", n.hub.Manager(),
		"denomination", n.hub.DenominationAsset(),
		"dataDir", filepath.Join(os.Getenv("HOME"), n.config.DataDir),
		"httpPort", n.config.HTTPPort,
		"wsPort", n.config.WSPort)

	// Load journal position from database
	if err := n.loadState(); err != nil {
		n.logger.Warn("Failed to load state", "error", err)
	}

	// Start event journal and publisher
	n.wg.Add(1)
	go n.runEventPump()

	// Start metrics
	if n.m != nil {
		if err := n.m.StartServer(fmt.Sprintf("%d", n.config.MetricsPort)); err != nil {
			return err
		}
		go n.m.CollectSystemMetrics(n.ctx)
		n.wg.Add(1)
		go n.pollGauges()
	}

	// Dev mode price poster keeps the feed fresh
	if n.config.DevMode {
		n.seedDevBalances()
		n.wg.Add(1)
		go n.postDevPrices()
	}

	// Start WebSocket server
	go func() {
		if err := n.ws.Start(n.config.WSPort); err != nil {
			n.logger.Error("WebSocket server error", "error", err)
		}
	}()

	// Start JSON-RPC server
	n.wg.Add(1)
	go n.runJSONRPCServer()

	// Start stats printer
	n.wg.Add(1)
	go n.printStats()

	n.logger.Info("Fund daemon started successfully")
	return nil
}

// runEventPump journals every fund event and publishes it to NATS.
func (n *FunddNode) runEventPump() {
	defer n.wg.Done()

	events := n.hub.Events().Subscribe(1024)
	for {
		select {
		case <-n.ctx.Done():
			return
		case ev := <-events:
			if err := n.storeEvent(&ev); err != nil {
				n.logger.Error("Failed to journal event", "error", err)
			}
			n.publishEvent(&ev)
			n.recordEventMetrics(&ev)
		}
	}
}

func (n *FunddNode) storeEvent(ev *fund.Event) error {
	key := []byte(fmt.Sprintf("event:%020d", ev.Sequence))
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	batch := n.db.NewBatch()
	defer batch.Reset()

	if err := batch.Put(key, value); err != nil {
		return err
	}

	seqBytes := make([]byte, 8)
	for i := 0; i < 8; i++ {
		seqBytes[7-i] = byte(ev.Sequence >> (i * 8))
	}
	if err := batch.Put([]byte("last_seq"), seqBytes); err != nil {
		return err
	}

	if err := batch.Write(); err != nil {
		return err
	}
	atomic.AddUint64(&n.eventsJournaled, 1)
	return nil
}

func (n *FunddNode) publishEvent(ev *fund.Event) {
	if n.nc == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := fmt.Sprintf("fund.%s.events.%s", n.hub.Name(), ev.Type)
	if err := n.nc.Publish(subject, data); err != nil {
		n.logger.Error("NATS publish failed", "subject", subject, "error", err)
		return
	}
	atomic.AddUint64(&n.natsPublished, 1)
	if n.m != nil {
		n.m.RecordNATSPublished()
	}
}

func (n *FunddNode) recordEventMetrics(ev *fund.Event) {
	if n.m == nil {
		return
	}
	switch ev.Type {
	case fund.EventInvestmentRequested:
		n.m.RecordRequestOpened()
	case fund.EventRequestCancelled:
		n.m.RecordRequestCancelled()
	case fund.EventRequestExecuted:
		n.m.RecordRequestExecuted()
	case fund.EventSharesRedeemed:
		n.m.RecordRedemption()
	case fund.EventOrderFilled:
		if fill, ok := ev.Data.(fund.OrderFilled); ok {
			n.m.RecordOrderFilled(fill.Venue)
		}
	}
}

// pollGauges refreshes the supply, holdings and engine gauges.
func (n *FunddNode) pollGauges() {
	defer n.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.m.UpdateShareSupply(wholeUnits(n.hub.Shares().TotalSupply()))
			for asset, bal := range n.hub.Vault().Holdings() {
				n.m.UpdateVaultHolding(asset, wholeUnits(bal))
			}
			if n.engine != nil {
				n.m.UpdateEngineLiquidity("frozen", wholeUnits(n.engine.Frozen()))
				n.m.UpdateEngineLiquidity("liquid", wholeUnits(n.engine.Liquid()))
			}
		}
	}
}

func wholeUnits(amount *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		new(big.Float).SetInt(fund.WAD),
	).Float64()
	return f
}

func (n *FunddNode) loadState() error {
	val, err := n.db.Get([]byte("last_seq"))
	if err != nil {
		if err == database.ErrNotFound {
			n.logger.Info("No previous journal found, starting fresh")
			return nil
		}
		return err
	}

	if len(val) >= 8 {
		var lastSeq uint64
		for i := 0; i < 8; i++ {
			lastSeq |= uint64(val[7-i]) << (i * 8)
		}
		n.logger.Info("Loaded journal state", "lastSequence", lastSeq)
	}

	return nil
}

// seedDevBalances mints demonstration balances so the RPC surface can be
// exercised out of the box.
func (n *FunddNode) seedDevBalances() {
	amount := new(big.Int).Mul(big.NewInt(1000), fund.WAD)
	for _, asset := range strings.Split(n.config.Assets, ",") {
		asset = strings.TrimSpace(asset)
		if asset == "" {
			continue
		}
		if err := n.ledger.Mint(asset, "dev-investor", amount); err != nil {
			n.logger.Warn("Dev mint failed", "asset", asset, "error", err)
		}
	}
	n.logger.Info("Dev balances seeded", "investor", "dev-investor")
}

// postDevPrices keeps flat demonstration prices fresh on the feed.
func (n *FunddNode) postDevPrices() {
	defer n.wg.Done()

	post := func() {
		for _, asset := range strings.Split(n.config.Assets, ",") {
			asset = strings.TrimSpace(asset)
			if asset == "" {
				continue
			}
			price := decimal.NewFromInt(1)
			if asset != n.hub.DenominationAsset() {
				price = decimal.RequireFromString("0.5")
			}
			if err := n.feed.PostRate(asset, price); err != nil {
				n.logger.Warn("Dev price post failed", "asset", asset, "error", err)
			}
		}
	}

	post()
	interval := n.config.PriceWindow / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			post()
		}
	}
}

func (n *FunddNode) runJSONRPCServer() {
	defer n.wg.Done()

	server := api.NewJSONRPCServer(n.hub, n.engine, n.logger)

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"fund":     n.hub.Name(),
			"shutDown": n.hub.IsShutDown(),
			"events":   atomic.LoadUint64(&n.eventsJournaled),
		})
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.HTTPPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("JSON-RPC server started", "port", n.config.HTTPPort, "endpoint", "/rpc")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("JSON-RPC server error", "error", err)
	}
}

func (n *FunddNode) printStats() {
	defer n.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(startTime).Seconds()
			n.logger.Info("Fund daemon status",
				"uptime", fmt.Sprintf("%.0fs", elapsed),
				"shareSupply", n.hub.Shares().TotalSupply().String(),
				"eventsJournaled", atomic.LoadUint64(&n.eventsJournaled),
				"natsPublished", atomic.LoadUint64(&n.natsPublished),
				"shutDown", n.hub.IsShutDown())
		}
	}
}

func (n *FunddNode) Shutdown() {
	n.logger.Info("Shutting down fund daemon...")

	n.cancel()
	n.ws.Stop()
	n.wg.Wait()

	if n.nc != nil {
		n.nc.Close()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info("Fund daemon shutdown complete")
}

func main() {
	config := &Config{
		DataDir: defaultDataDir,
	}

	// Parse flags
	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.StringVar(&config.FundName, "fund", "openfund", "Fund name")
	flag.StringVar(&config.Manager, "manager", "manager", "Fund manager address")
	flag.StringVar(&config.DenomAsset, "denomination", "WETH", "Denomination asset")
	flag.StringVar(&config.Assets, "assets", "WETH,MLN,DAI,ZRX", "Registered assets, comma separated")
	priceWindow := flag.Duration("price-window", time.Hour, "Price staleness window (0 disables)")

	flag.BoolVar(&config.EnableEngine, "enable-engine", true, "Enable the internal liquidity engine")
	freezePeriod := flag.Duration("freeze-period", fund.DefaultFreezePeriod, "Engine liquidity freeze period")
	flag.Int64Var(&config.PremiumBps, "premium-bps", 500, "Engine price premium in basis points")

	flag.IntVar(&config.HTTPPort, "http-port", defaultPort, "HTTP API port")
	flag.IntVar(&config.WSPort, "ws-port", defaultWSPort, "WebSocket port")
	flag.IntVar(&config.MetricsPort, "metrics-port", 9090, "Prometheus metrics port")
	flag.StringVar(&config.NATSUrl, "nats-url", "", "NATS server URL (empty disables publishing)")

	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Enable Prometheus metrics")
	flag.BoolVar(&config.DevMode, "dev", false, "Seed dev balances and keep demo prices fresh")

	flag.Parse()

	config.LogLevel = *logLevel
	config.PriceWindow = *priceWindow
	config.FreezePeriod = *freezePeriod

	rootLogger := log.Root()
	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", filepath.Join(os.Getenv("HOME"), config.DataDir))

	node, err := NewFunddNode(config)
	if err != nil {
		rootLogger.Crit("Failed to create daemon", "error", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		rootLogger.Crit("Failed to start daemon", "error", err)
		os.Exit(1)
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	node.Shutdown()
}
