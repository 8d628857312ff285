// Command builder runs the block-builder core: the global registry,
// its builder states, the event driver, the auction bidder and the
// HTTP gateway. Grounded on the teacher's cmd/geth entrypoint style:
// a urfave/cli/v2 App with one Action wiring concrete collaborators
// together from flag values.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/marketplace-builder/builder-core/api"
	"github.com/marketplace-builder/builder-core/auction"
	"github.com/marketplace-builder/builder-core/builder"
	"github.com/marketplace-builder/builder-core/codec"
	"github.com/marketplace-builder/builder-core/config"
	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/eventdriver"
	"github.com/marketplace-builder/builder-core/gateway"
	"github.com/marketplace-builder/builder-core/ingress"
	"github.com/marketplace-builder/builder-core/keys"
	"github.com/marketplace-builder/builder-core/registry"
)

var (
	hotshotEventsURLFlag = &cli.StringFlag{
		Name:  "hotshot-events-url",
		Usage: "Base URL of the consensus event stream",
		Value: config.DefaultBuilderConfig.HotShotEventsURL,
	}
	solverURLFlag = &cli.StringFlag{
		Name:  "solver-url",
		Usage: "Solver endpoint bids are POSTed to",
		Value: config.DefaultBuilderConfig.SolverURL,
	}
	apiListenAddrFlag = &cli.StringFlag{
		Name:  "api-listen-addr",
		Usage: "Address the HTTP gateway listens on",
		Value: config.DefaultBuilderConfig.APIListenAddr,
	}
	bidConfigFlag = &cli.StringFlag{
		Name:  "bid-config",
		Usage: "Path to the JSON bid configuration file",
	}
	namespaceFlag = &cli.Uint64Flag{
		Name:  "namespace",
		Usage: "Optional single namespace to filter transactions to",
	}
	maxAPIWaitingTimeFlag = &cli.DurationFlag{
		Name:  "max-api-waiting-time",
		Usage: "Bound on available_blocks wait",
		Value: config.DefaultBuilderConfig.MaxAPIWaitingTime,
	}
	broadcastBufferFlag = &cli.IntFlag{
		Name:  "broadcast-buffer",
		Usage: "Capacity of the DA/QC/Decide broadcast buses",
		Value: config.DefaultBuilderConfig.BroadcastBufferSize,
	}
	allowEmptyBlockPeriodFlag = &cli.Uint64Flag{
		Name:  "allow-empty-block-period",
		Usage: "Views after a non-empty block during which empty blocks are still offered",
		Value: uint64(config.DefaultBuilderConfig.AllowEmptyBlockPeriod),
	}
	keyFileFlag = &cli.StringFlag{
		Name:  "key-file",
		Usage: "Path to the builder's raw private key; a fresh key is generated if omitted",
	}
)

func main() {
	app := &cli.App{
		Name:  "builder",
		Usage: "Sequencing-marketplace block-builder core",
		Flags: []cli.Flag{
			hotshotEventsURLFlag,
			solverURLFlag,
			apiListenAddrFlag,
			bidConfigFlag,
			namespaceFlag,
			maxAPIWaitingTimeFlag,
			broadcastBufferFlag,
			allowEmptyBlockPeriodFlag,
			keyFileFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("builder: fatal error", "err", err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg := config.DefaultBuilderConfig
	cfg.HotShotEventsURL = cliCtx.String(hotshotEventsURLFlag.Name)
	cfg.SolverURL = cliCtx.String(solverURLFlag.Name)
	cfg.APIListenAddr = cliCtx.String(apiListenAddrFlag.Name)
	cfg.MaxAPIWaitingTime = cliCtx.Duration(maxAPIWaitingTimeFlag.Name)
	cfg.BroadcastBufferSize = cliCtx.Int(broadcastBufferFlag.Name)
	cfg.AllowEmptyBlockPeriod = coretypes.View(cliCtx.Uint64(allowEmptyBlockPeriodFlag.Name))
	if cliCtx.IsSet(namespaceFlag.Name) {
		ns := coretypes.NamespaceID(cliCtx.Uint64(namespaceFlag.Name))
		cfg.Namespace = &ns
	}
	cfg.BidConfigPath = cliCtx.String(bidConfigFlag.Name)
	log.Info("builder: starting", "config", cfg.String())

	keyScheme, err := loadOrGenerateKeys(cliCtx.String(keyFileFlag.Name))
	if err != nil {
		return fmt.Errorf("builder: private key unavailable: %w", err)
	}

	builder.AllowEmptyBlockPeriod = cfg.AllowEmptyBlockPeriod
	builder.DefaultBusCapacity = cfg.BroadcastBufferSize

	payloadCodec := codec.New()
	filter := ingress.New(cfg.Namespace)
	reg := registry.New(filter)
	reg.StartSweep(cfg.SweepInterval)
	defer reg.StopSweep()

	buses := builder.NewBuses()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := eventdriver.NewHTTPSource(cfg.HotShotEventsURL)
	startupInfo, err := source.Startup(ctx)
	if err != nil {
		log.Warn("builder: startup probe failed, falling back to a zero committee size", "err", err)
	}
	numNodesHint := uint64(startupInfo.KnownNodesWithStake + startupInfo.NonStakedNodeCount)

	genesis := coretypes.Anchor{}
	genesisState := builder.New(genesis, numNodesHint, payloadCodec, reg, buses, builder.Config{
		MaxBlockSize:  cfg.MaxBlockSize,
		BuildTimeout:  cfg.BuildTimeout,
		RequestBuffer: 8,
	})
	reg.Register(genesis, genesisState.RequestChannel())
	go genesisState.Run()

	var onViewFinished func(coretypes.ViewFinishedEvent)
	if cfg.BidConfigPath != "" && cfg.Namespace != nil {
		bidCfg, err := config.LoadBidConfig(cfg.BidConfigPath)
		if err != nil {
			return fmt.Errorf("builder: bid config: %w", err)
		}
		bidder := auction.New(bidCfg, keyScheme, *cfg.Namespace, cfg.SolverURL)
		onViewFinished = bidder.OnViewFinished
	} else {
		log.Warn("builder: no bid config or namespace set, auction submission disabled")
	}

	driver := eventdriver.New(source, buses, reg, keyScheme, filter, onViewFinished)
	go driver.Run(ctx)

	gw := gateway.New(reg, keyScheme, cfg.MaxAPIWaitingTime)
	server := api.NewServer(gw)

	httpServer := &http.Server{
		Addr:    cfg.APIListenAddr,
		Handler: server.Router(),
	}
	log.Info("builder: listening", "addr", cfg.APIListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("builder: http server: %w", err)
	}
	return nil
}

func loadOrGenerateKeys(path string) (*keys.ECDSAScheme, error) {
	if path == "" {
		log.Warn("builder: no --key-file given, generating an ephemeral key")
		return keys.Generate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return keys.Load(data)
}
