package main

import (
	"context"
	"errors"
	"flag"
	"math/big"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/flashbots/go-utils/cli"
	redisadapter "github.com/flashbots/mempool-reactor/adapters/redis"
	"github.com/flashbots/mempool-reactor/reactor"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// .env is loaded before any default below is read from the environment
	dotenvErr = godotenv.Load()

	version = "dev" // is set during build process

	// Default values
	defaultDebug               = os.Getenv("DEBUG") == "1"
	defaultLogProd             = os.Getenv("LOG_PROD") == "1"
	defaultLogService          = os.Getenv("LOG_SERVICE")
	defaultLogFile             = os.Getenv("LOG_FILE")
	defaultMetricsAddr         = os.Getenv("METRICS_ADDR")
	defaultEthWSEndpoint       = os.Getenv("ETH_WS_ENDPOINT")
	defaultEthHTTPEndpoint     = os.Getenv("ETH_HTTP_ENDPOINT")
	defaultChainID             = os.Getenv("CHAIN_ID")
	defaultRelaysConfig        = os.Getenv("RELAYS_CONFIG")
	defaultRelays              = cli.GetEnv("RELAYS", "flashbots=https://relay.flashbots.net,beaverbuild=https://rpc.beaverbuild.org,titan=https://rpc.titanbuilder.xyz,rsync=https://rsync-builder.xyz")
	defaultRedisEndpoint       = os.Getenv("REDIS_ENDPOINT")
	defaultOutcomeChannel      = cli.GetEnv("REDIS_OUTCOME_CHANNEL", "reactor-outcomes")
	defaultTriggerCacheTTL     = cli.GetEnv("TRIGGER_CACHE_TTL", "5m")
	defaultStakingContract     = cli.GetEnv("STAKING_CONTRACT", reactor.DefaultStakingContract.Hex())
	defaultWatchedTokens       = os.Getenv("WATCHED_TOKENS")
	defaultPriorityFeeGwei     = cli.GetEnv("PRIORITY_FEE_GWEI", "2")
	defaultResponseTo          = os.Getenv("RESPONSE_TO")
	defaultResponseData        = cli.GetEnv("RESPONSE_DATA", "0x")
	defaultResponseValue       = cli.GetEnv("RESPONSE_VALUE_WEI", "0")
	defaultResponseGasLimit    = cli.GetEnv("RESPONSE_GAS_LIMIT", strconv.FormatUint(reactor.DefaultResponseGasLimit, 10))
	defaultBackrun             = os.Getenv("BACKRUN") == "1"
	defaultPaused              = os.Getenv("PAUSED") == "1"
	defaultSimulationTimestamp = cli.GetEnv("SIMULATION_TIMESTAMP", "0")
	defaultSubmissionTimeout   = cli.GetEnv("SUBMISSION_TIMEOUT", reactor.DefaultSubmissionTimeout.String())
	defaultPendingFetchers     = cli.GetEnv("PENDING_TX_FETCHERS", strconv.Itoa(reactor.DefaultPendingTxFetchers))

	// Flags
	debugPtr               = flag.Bool("debug", defaultDebug, "print debug output")
	logProdPtr             = flag.Bool("log-prod", defaultLogProd, "log in production mode (json)")
	logServicePtr          = flag.String("log-service", defaultLogService, "'service' tag to logs")
	logFilePtr             = flag.String("log-file", defaultLogFile, "also write json logs to this file, rotated")
	metricsAddrPtr         = flag.String("metrics-addr", defaultMetricsAddr, "serve metrics and pprof on this address, disabled when empty")
	ethWSPtr               = flag.String("eth-ws", defaultEthWSEndpoint, "eth websocket endpoint used for subscriptions")
	ethHTTPPtr             = flag.String("eth-http", defaultEthHTTPEndpoint, "eth http endpoint used for reads")
	chainIDPtr             = flag.String("chain-id", defaultChainID, "chain id, must match the node")
	relaysConfigPtr        = flag.String("relays-config", defaultRelaysConfig, "relays config file, overrides -relays")
	relaysPtr              = flag.String("relays", defaultRelays, "relays (comma separated name=url), the first one simulates bundles")
	redisPtr               = flag.String("redis", defaultRedisEndpoint, "redis url string, enables trigger de-duplication and outcome publishing")
	outcomeChannelPtr      = flag.String("outcome-channel", defaultOutcomeChannel, "redis pub/sub channel for submission outcomes")
	triggerCacheTTLPtr     = flag.String("trigger-cache-ttl", defaultTriggerCacheTTL, "how long a trigger stays claimed in redis")
	stakingContractPtr     = flag.String("staking-contract", defaultStakingContract, "staking contract whose unstake calls are answered")
	watchedTokensPtr       = flag.String("watched-tokens", defaultWatchedTokens, "tokens whose transferFrom calls are answered (comma separated)")
	priorityFeeGweiPtr     = flag.String("priority-fee-gwei", defaultPriorityFeeGwei, "priority fee of response transactions in gwei")
	responseToPtr          = flag.String("response-to", defaultResponseTo, "recipient of response transactions, sender address when empty")
	responseDataPtr        = flag.String("response-data", defaultResponseData, "calldata of response transactions (hex)")
	responseValuePtr       = flag.String("response-value", defaultResponseValue, "value of response transactions in wei")
	responseGasLimitPtr    = flag.String("response-gas-limit", defaultResponseGasLimit, "gas limit of response transactions")
	backrunPtr             = flag.Bool("backrun", defaultBackrun, "put the trigger transaction in front of the response")
	pausedPtr              = flag.Bool("paused", defaultPaused, "log recognized triggers without sending bundles")
	simulationTimestampPtr = flag.String("simulation-timestamp", defaultSimulationTimestamp, "timestamp used in bundle simulation, relay default when 0")
	submissionTimeoutPtr   = flag.String("submission-timeout", defaultSubmissionTimeout, "upper bound for simulate, broadcast and inclusion wait")
	pendingFetchersPtr     = flag.String("pending-tx-fetchers", defaultPendingFetchers, "concurrent lookups of announced pending transactions")
)

func main() {
	flag.Parse()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting mempool-reactor", zap.String("version", version))
	if dotenvErr != nil && !errors.Is(dotenvErr, os.ErrNotExist) {
		logger.Warn("Failed to load .env", zap.Error(dotenvErr))
	}

	cfg := loadConfig(logger)

	senderKey := requireEnv(logger, "SENDER_PRIVATE_KEY")
	signer, err := reactor.NewSigner(senderKey, cfg.ChainID)
	if err != nil {
		logger.Fatal("Failed to parse sender key", zap.Error(err))
	}
	bundleSigningKey, err := crypto.HexToECDSA(strings.TrimPrefix(requireEnv(logger, "BUNDLE_SIGNER_PRIVATE_KEY"), "0x"))
	if err != nil {
		logger.Fatal("Failed to parse bundle signer key", zap.Error(err))
	}

	var relays reactor.Relays
	if *relaysConfigPtr != "" {
		relays, err = reactor.LoadRelaysConfig(*relaysConfigPtr, bundleSigningKey)
	} else {
		relays, err = reactor.ParseRelayList(*relaysPtr, bundleSigningKey)
	}
	if err != nil {
		logger.Fatal("Failed to load relays", zap.Error(err))
	}

	if *ethWSPtr == "" || *ethHTTPPtr == "" {
		logger.Fatal("ETH_WS_ENDPOINT and ETH_HTTP_ENDPOINT are required")
	}
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	node, err := reactor.DialEthNode(dialCtx, *ethWSPtr, *ethHTTPPtr)
	if err != nil {
		logger.Fatal("Failed to connect to eth node", zap.Error(err))
	}
	if err := node.CheckChainID(dialCtx, cfg.ChainID); err != nil {
		logger.Fatal("Failed to verify chain id", zap.Error(err), zap.String("chain_id", cfg.ChainID.String()))
	}
	dialCancel()

	var (
		triggerCache reactor.TriggerCache
		notifier     reactor.OutcomeNotifier
	)
	if *redisPtr != "" {
		redisOpts, err := redis.ParseURL(*redisPtr)
		if err != nil {
			logger.Fatal("Failed to parse redis url", zap.Error(err))
		}
		triggerCacheTTL, err := time.ParseDuration(*triggerCacheTTLPtr)
		if err != nil {
			logger.Fatal("Failed to parse trigger cache ttl", zap.Error(err))
		}
		redisClient := redis.NewClient(redisOpts)
		triggerCache = redisadapter.NewTriggerCache(redisClient, triggerCacheTTL, "reactor-trigger-")
		notifier = reactor.NewRedisOutcomeBackend(redisClient, *outcomeChannelPtr)
	}

	pendingFetchers, err := strconv.Atoi(*pendingFetchersPtr)
	if err != nil {
		logger.Fatal("Failed to parse pending tx fetchers", zap.Error(err))
	}
	decoder, err := reactor.NewABIDecoder()
	if err != nil {
		logger.Fatal("Failed to create calldata decoder", zap.Error(err))
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	backgroundWg := &sync.WaitGroup{}

	bus := reactor.NewBus()
	blocks := reactor.NewBlockFetcher(node)
	builder := reactor.NewBundleBuilder(logger, cfg, node, signer)
	submitter := reactor.NewBundleSubmitter(logger, relays, reactor.NewInclusionWatcher(logger, blocks), cfg.SubmissionTimeout, backgroundWg)
	responder := reactor.NewBundleResponder(logger, builder, submitter, notifier)
	dispatcher := reactor.NewDispatcher(logger, cfg, node, bus, decoder, blocks, responder, triggerCache)

	if *metricsAddrPtr != "" {
		startMetricsServer(logger, *metricsAddrPtr)
	}

	logger.Info("Reactor configured",
		zap.String("sender", signer.Address().Hex()),
		zap.String("chain_id", cfg.ChainID.String()),
		zap.String("staking_contract", cfg.StakingContract.Hex()),
		zap.Int("watched_tokens", len(cfg.WatchedTokens)),
		zap.Int("relays", len(relays.All)),
		zap.String("simulation_relay", relays.Simulator.Name()),
		zap.Bool("paused", cfg.Paused),
		zap.Bool("backrun", cfg.Backrun),
	)

	tasksWg := &sync.WaitGroup{}
	tasksWg.Add(3)
	go func() {
		defer tasksWg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer tasksWg.Done()
		reactor.NewBlockStream(logger, node, bus).Run(ctx)
	}()
	go func() {
		defer tasksWg.Done()
		reactor.NewPendingTxStream(logger, node, bus, cfg.ChainID, pendingFetchers).Run(ctx)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
	logger.Info("Shutting down...")
	ctxCancel()

	// in-flight submissions run to completion
	tasksWg.Wait()
	backgroundWg.Wait()
	bus.Close()
	node.Close()
}

func newLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	if *logProdPtr {
		atom := zap.NewAtomicLevel()
		if *debugPtr {
			atom.SetLevel(zap.DebugLevel)
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores := []zapcore.Core{zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stdout),
			atom,
		)}
		if *logFilePtr != "" {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderCfg),
				zapcore.AddSync(&lumberjack.Logger{
					Filename:   *logFilePtr,
					MaxSize:    200,
					MaxBackups: 10,
					MaxAge:     30,
				}),
				atom,
			))
		}
		logger = zap.New(zapcore.NewTee(cores...))
	} else if *logFilePtr != "" {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(&lumberjack.Logger{Filename: *logFilePtr, MaxSize: 200, MaxBackups: 10, MaxAge: 30}),
			zap.DebugLevel,
		)
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}
	if *logServicePtr != "" {
		logger = logger.With(zap.String("service", *logServicePtr))
	}
	return logger
}

func requireEnv(logger *zap.Logger, key string) string {
	value := os.Getenv(key)
	if value == "" {
		logger.Fatal("Missing required environment variable", zap.String("key", key))
	}
	return value
}

func loadConfig(logger *zap.Logger) *reactor.Config {
	chainID, ok := new(big.Int).SetString(*chainIDPtr, 10)
	if !ok || chainID.Sign() <= 0 {
		logger.Fatal("CHAIN_ID is missing or invalid", zap.String("chain_id", *chainIDPtr))
	}

	gwei, ok := new(big.Float).SetString(*priorityFeeGweiPtr)
	if !ok || gwei.Sign() < 0 {
		logger.Fatal("Invalid priority fee", zap.String("priority_fee_gwei", *priorityFeeGweiPtr))
	}
	priorityFee, _ := new(big.Float).Mul(gwei, big.NewFloat(params.GWei)).Int(nil)

	if !common.IsHexAddress(*stakingContractPtr) {
		logger.Fatal("Invalid staking contract", zap.String("staking_contract", *stakingContractPtr))
	}
	var watchedTokens []common.Address
	for _, token := range strings.Split(*watchedTokensPtr, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if !common.IsHexAddress(token) {
			logger.Fatal("Invalid watched token", zap.String("token", token))
		}
		watchedTokens = append(watchedTokens, common.HexToAddress(token))
	}

	response := reactor.ResponseConfig{}
	if *responseToPtr != "" {
		if !common.IsHexAddress(*responseToPtr) {
			logger.Fatal("Invalid response recipient", zap.String("response_to", *responseToPtr))
		}
		to := common.HexToAddress(*responseToPtr)
		response.To = &to
	}
	data, err := hexutil.Decode(*responseDataPtr)
	if err != nil && !errors.Is(err, hexutil.ErrEmptyString) {
		logger.Fatal("Invalid response data", zap.Error(err))
	}
	response.Data = data
	value, ok := new(big.Int).SetString(*responseValuePtr, 10)
	if !ok || value.Sign() < 0 {
		logger.Fatal("Invalid response value", zap.String("response_value", *responseValuePtr))
	}
	response.Value = value
	response.GasLimit, err = strconv.ParseUint(*responseGasLimitPtr, 10, 64)
	if err != nil {
		logger.Fatal("Invalid response gas limit", zap.Error(err))
	}

	simulationTimestamp, err := strconv.ParseUint(*simulationTimestampPtr, 10, 64)
	if err != nil {
		logger.Fatal("Invalid simulation timestamp", zap.Error(err))
	}
	submissionTimeout, err := time.ParseDuration(*submissionTimeoutPtr)
	if err != nil {
		logger.Fatal("Invalid submission timeout", zap.Error(err))
	}

	return &reactor.Config{
		ChainID:             chainID,
		PriorityFee:         priorityFee,
		StakingContract:     common.HexToAddress(*stakingContractPtr),
		WatchedTokens:       watchedTokens,
		Response:            response,
		Backrun:             *backrunPtr,
		Paused:              *pausedPtr,
		SimulationTimestamp: simulationTimestamp,
		SubmissionTimeout:   submissionTimeout,
	}
}

func startMetricsServer(logger *zap.Logger, addr string) {
	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	metricsMux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
	metricsMux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	metricsMux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	metricsMux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	metricsMux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))

	go func() {
		metricsServer := &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           metricsMux,
		}
		err := metricsServer.ListenAndServe()
		if err != nil {
			logger.Error("Metrics server stopped", zap.Error(err), zap.String("addr", addr))
		}
	}()
}
