package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/fhebridge/adapters/events"
	"github.com/layer-3/fhebridge/adapters/mock"
	"github.com/layer-3/fhebridge/adapters/relayer"
	"github.com/layer-3/fhebridge/adapters/rpc"
	"github.com/layer-3/fhebridge/adapters/sdk"
	"github.com/layer-3/fhebridge/adapters/store"
	"github.com/layer-3/fhebridge/internal/config"
	"github.com/layer-3/fhebridge/internal/eth"
	"github.com/layer-3/fhebridge/internal/logger"
	"github.com/layer-3/fhebridge/ports"
	"github.com/layer-3/fhebridge/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "fhebridge:"

// app holds the wired process
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	bridge      *service.Bridge
	provisioner *sdk.Provisioner
	mocks       *mock.Factory
	account     *eth.KeySigner

	redis     *redis.Client
	publisher *redisstream.Publisher
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logger.Init(cfg.Stage, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log}

	if cfg.GrantStore == config.StoreRedis || cfg.GrantEvents {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
	}

	var grantStore ports.Store
	switch cfg.GrantStore {
	case config.StoreRedis:
		grantStore = store.NewRedisStore(a.redis, redisKeyPrefix)
	default:
		grantStore = store.NewMemoryStore()
	}

	var grantEvents ports.EventPublisher
	if cfg.GrantEvents {
		a.publisher, err = redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: a.redis,
			},
			watermill.NewStdLogger(cfg.LogLevel == "debug", false),
		)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		grantEvents = events.NewWatermillPublisher(a.publisher)
	}

	// Mock cleartexts live next to the grants so a redis store carries them across runs
	var mockOpts []mock.Option
	if cfg.MockCoprocessorKey != "" {
		key, err := eth.ParseKey(cfg.MockCoprocessorKey)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("invalid mock coprocessor key: %w", err)
		}
		mockOpts = append(mockOpts, mock.WithCoprocessorKey(key))
	}
	a.mocks, err = mock.NewFactory(grantStore, log.Named("mock"), mockOpts...)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	sepolia := relayer.SepoliaConfig()
	if cfg.RelayerURL != "" {
		sepolia.RelayerURL = cfg.RelayerURL
	}
	httpClient := &nethttp.Client{Timeout: cfg.HTTPTimeout}
	a.provisioner = sdk.NewProvisioner(
		&sdk.HTTPSource{URL: cfg.SDKURL, Client: httpClient},
		log.Named("sdk"),
		sdk.WithHTTPClient(httpClient),
	)

	a.bridge = service.NewBridge(
		service.NewChainResolver(cfg.SandboxChains, service.NewMetadataProbe(cfg.DevNodeMarkers, log), rpc.Dialer, log.Named("resolver")),
		service.NewBackendFactory(
			service.MockBackend(a.mocks),
			service.RelayerBackend(a.provisioner, map[uint64]relayer.NetworkConfig{sepolia.ChainID: sepolia}),
			log,
		),
		service.NewGrantCache(grantStore, grantEvents, log.Named("grants")),
		service.NewDecryptor(log),
		log.Named("bridge"),
	)

	if cfg.SignerKey != "" {
		a.account, err = eth.KeySignerFromHex(cfg.SignerKey)
		if err != nil {
			a.close(context.Background())
			return nil, err
		}
	}

	return a, nil
}

// attach connects to the configured RPC endpoint and makes it the live session
func (a *app) attach(ctx context.Context) (*service.Session, error) {
	conn, err := rpc.Dial(ctx, a.cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	return a.bridge.Attach(ctx, conn)
}

// requireNodeAccount fails unless the node behind conn manages account, which
// eth_sendTransaction needs to send from it
func requireNodeAccount(ctx context.Context, conn ports.Connection, account common.Address) error {
	accounts, err := rpc.Accounts(ctx, conn)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a == account {
			return nil
		}
	}
	return fmt.Errorf("account %s is not unlocked on the node", account.Hex())
}

func (a *app) requireAccount() (*eth.KeySigner, error) {
	if a.account == nil {
		return nil, errors.New("SIGNER_KEY is not set")
	}
	return a.account, nil
}

func (a *app) close(ctx context.Context) {
	if a.bridge != nil {
		a.bridge.Detach()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Failed to close publisher", zap.Error(err))
		}
	}
	if a.provisioner != nil {
		if err := a.provisioner.Close(ctx); err != nil {
			a.logger.Warn("Failed to close SDK", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}
