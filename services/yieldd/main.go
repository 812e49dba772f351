package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"xsauce/integrations/aave"
	nativecommon "xsauce/native/common"
	"xsauce/native/yield"
	"xsauce/observability"
	"xsauce/observability/logging"
	"xsauce/services/yieldd/server"
	"xsauce/storage"
)

func main() {
	configPath := flag.String("config", "config/yieldd.toml", "path to the yieldd TOML configuration")
	allowConfigChange := flag.Bool("allow-config-change", false, "accept a collaborator set differing from the stored config record")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Setup("yieldd", cfg.Env, logging.Options{
		FilePath:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting yieldd", "config", fmt.Sprintf("%+v", cfg.Sanitized()))

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open state database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := yield.NewStore(storage.NewManager(db))

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		logger.Error("dial chain rpc", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKeyHex, "0x"))
	if err != nil {
		logger.Error("parse signer key", "error", err)
		os.Exit(1)
	}
	self := ethcrypto.PubkeyToAddress(key.PublicKey)
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		logger.Error("build transactor", "error", err)
		os.Exit(1)
	}
	binder, err := aave.NewBinder(client, opts, time.Duration(cfg.ReceiptWaitSeconds)*time.Second)
	if err != nil {
		logger.Error("build contract binder", "error", err)
		os.Exit(1)
	}

	record := &yield.ConfigRecord{
		Version:      yield.ConfigVersion,
		Market:       common.HexToAddress(cfg.Addresses.Market),
		Treasury:     common.HexToAddress(cfg.Addresses.Treasury),
		PaymentToken: common.HexToAddress(cfg.Addresses.PaymentToken),
		ReceiptToken: common.HexToAddress(cfg.Addresses.ReceiptToken),
		PoolRegistry: common.HexToAddress(cfg.Addresses.PoolRegistry),
		Incentives:   common.HexToAddress(cfg.Addresses.Incentives),
		ReferralCode: cfg.ReferralCode,
	}
	stored, found, err := store.ConfigGet()
	if err != nil {
		logger.Error("load stored config record", "error", err)
		os.Exit(1)
	}
	if found && !stored.Matches(record) {
		if !*allowConfigChange {
			logger.Error("configured collaborator set differs from stored record; rerun with -allow-config-change to migrate")
			os.Exit(1)
		}
		logger.Warn("migrating stored config record", "storedVersion", stored.Version)
	}
	if err := store.ConfigPut(record); err != nil {
		logger.Error("persist config record", "error", err)
		os.Exit(1)
	}

	engine := yield.NewEngine(self)
	engine.SetState(store)
	engine.SetEmitter(observability.NewInstrumentedEmitter(logger))
	pauses := nativecommon.StaticPauses{}
	for _, module := range cfg.PausedModules {
		if trimmed := strings.TrimSpace(module); trimmed != "" {
			pauses[trimmed] = true
		}
	}
	engine.SetPauses(pauses)
	if err := engine.Configure(yield.EngineConfig{
		Market:       record.Market,
		Treasury:     record.Treasury,
		Payment:      aave.NewERC20(record.PaymentToken, binder),
		Receipt:      aave.NewAToken(record.ReceiptToken, binder),
		Registry:     aave.NewAddressesProvider(record.PoolRegistry, binder),
		Incentives:   aave.NewRewardsController(record.Incentives, binder),
		ReferralCode: record.ReferralCode,
	}); err != nil {
		logger.Error("configure engine", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(engine, logger, server.Options{
		Market:             record.Market,
		SharedSecretHeader: cfg.SharedSecretHeader,
		SharedSecretValue:  cfg.SharedSecretValue,
		RateLimitPerMin:    cfg.RateLimitPerMin,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Listen, "custody", self.Hex())
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
