package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/bitfsorg/libpayshare-go/config"
	"github.com/bitfsorg/libpayshare-go/network"
	"github.com/bitfsorg/libpayshare-go/revshare"
	"github.com/bitfsorg/libpayshare-go/treasury"
	"github.com/bitfsorg/libpayshare-go/wallet"
)

// EnvPassword holds the wallet password.
const EnvPassword = "PAYSPLIT_PASSWORD"

// LedgerFileName is the bbolt database inside the data directory.
const LedgerFileName = "ledger.db"

// session carries what the global flags resolve to across one invocation.
type session struct {
	getenv func(string) string

	// newChain connects to the node; replaced in tests.
	newChain func(cfg *network.RPCConfig) network.BlockchainService

	cfg     config.Config
	logger  *slog.Logger
	logFile *os.File
	rpc     network.RPCConfig
}

func (s *session) before(ctx *cli.Context) error {
	dataDir := ctx.GlobalString(dataDirFlag.Name)
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	path := ctx.GlobalString(configFlag.Name)
	if path == "" {
		path = config.ConfigPath(dataDir)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return err
	}
	// The flag wins over a datadir set in the file.
	if ctx.GlobalIsSet(dataDirFlag.Name) || cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	s.cfg = cfg

	s.logger, s.logFile, err = newLogger(cfg, ctx.App.ErrWriter)
	if err != nil {
		return err
	}
	s.rpc = network.RPCConfig{
		URL:      ctx.GlobalString(rpcURLFlag.Name),
		User:     ctx.GlobalString(rpcUserFlag.Name),
		Password: ctx.GlobalString(rpcPassFlag.Name),
	}
	return nil
}

func (s *session) after(*cli.Context) error {
	if s.logFile != nil {
		return s.logFile.Close()
	}
	return nil
}

// newLogger builds a text handler at the configured level, writing to the
// configured log file or to stderr.
func newLogger(cfg config.Config, stderr io.Writer) (*slog.Logger, *os.File, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, cfg.LogLevel)
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	var (
		w    = stderr
		file *os.File
	)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, file = f, f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), file, nil
}

func (s *session) ledgerPath() string {
	return filepath.Join(s.cfg.DataDir, LedgerFileName)
}

func (s *session) password() (string, error) {
	pw := s.getenv(EnvPassword)
	if pw == "" {
		return "", fmt.Errorf("wallet password required: set %s", EnvPassword)
	}
	return pw, nil
}

// poolKeys loads the wallet and derives the pool and fee keys.
func (s *session) poolKeys() (pool, fee *wallet.KeyPair, w *wallet.Wallet, err error) {
	pw, err := s.password()
	if err != nil {
		return nil, nil, nil, err
	}
	seed, err := wallet.LoadSeedFile(s.cfg.DataDir, pw)
	if err != nil {
		return nil, nil, nil, err
	}
	netCfg, err := wallet.GetNetwork(s.cfg.Network)
	if err != nil {
		return nil, nil, nil, err
	}
	w, err = wallet.NewWallet(seed, netCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if pool, err = w.DerivePoolKey(0); err != nil {
		return nil, nil, nil, err
	}
	if fee, err = w.DeriveFeeKey(wallet.ExternalChain, 0); err != nil {
		return nil, nil, nil, err
	}
	return pool, fee, w, nil
}

func (s *session) chain() (network.BlockchainService, error) {
	env := map[string]string{
		network.EnvRPCURL:  s.getenv(network.EnvRPCURL),
		network.EnvRPCUser: s.getenv(network.EnvRPCUser),
		network.EnvRPCPass: s.getenv(network.EnvRPCPass),
	}
	rpcCfg, err := network.ResolveConfig(&s.rpc, env, s.cfg.Network)
	if err != nil {
		return nil, err
	}
	if s.newChain != nil {
		return s.newChain(rpcCfg), nil
	}
	return network.NewRPCClient(*rpcCfg), nil
}

// chainPool opens the on-chain pool for the wallet in the data directory.
func (s *session) chainPool() (*treasury.ChainPool, error) {
	pool, fee, w, err := s.poolKeys()
	if err != nil {
		return nil, err
	}
	chain, err := s.chain()
	if err != nil {
		return nil, err
	}
	return treasury.NewChainPool(chain, pool.PrivateKey, fee.PrivateKey, w.Network().IsMainnet(),
		treasury.WithFeeRate(s.cfg.FeeRate),
		treasury.WithLogger(s.logger),
	)
}

// openLedger opens the ledger database and restores the ledger over the
// chain pool. The caller closes the returned store.
func (s *session) openLedger() (*revshare.Ledger, *treasury.ChainPool, *revshare.BoltStore, error) {
	pool, err := s.chainPool()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := revshare.OpenBoltStore(s.ledgerPath())
	if err != nil {
		return nil, nil, nil, err
	}
	l, err := revshare.Open(store, pool,
		revshare.WithEventSink(store),
		revshare.WithLogger(s.logger),
	)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	return l, pool, store, nil
}

// context returns a context cancelled on the first interrupt.
func (s *session) context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
