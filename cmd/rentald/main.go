package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"rentchain/config"
	"rentchain/core/events"
	"rentchain/crypto"
	gatewayconfig "rentchain/gateway/config"
	"rentchain/gateway/middleware"
	"rentchain/gateway/routes"
	nativecommon "rentchain/native/common"
	"rentchain/native/custody"
	"rentchain/native/rental"
	"rentchain/observability"
	"rentchain/observability/logging"
	"rentchain/observability/otel"
	"rentchain/storage"

	corestate "rentchain/core/state"
)

const (
	signerPassEnv   = "RENTCHAIN_SIGNER_PASS"
	gatewaySecret   = "RENTCHAIN_GATEWAY_SECRET"
	otelEndpointEnv = "RENTCHAIN_OTEL_ENDPOINT"
)

// moduleAddress derives the fixed protocol address of a module caller. The
// addresses only need to be distinct and stable so the authorization table can
// name them.
func moduleAddress(name string) [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("rentchain/module/"+name))[12:])
	return out
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the node configuration file")
	gatewayFile := flag.String("gateway-config", "", "Path to the gateway configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RENTCHAIN_ENV"))
	logger := logging.Setup("rentald", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	gwCfg, err := gatewayconfig.Load(*gatewayFile)
	if err != nil {
		logger.Error("failed to load gateway config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := func(context.Context) error { return nil }
	if endpoint := strings.TrimSpace(os.Getenv(otelEndpointEnv)); endpoint != "" {
		shutdownTelemetry, err = otel.Init(ctx, otel.Config{
			ServiceName: "rentald",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    env == "dev",
			Metrics:     gwCfg.Observability.Metrics,
			Traces:      gwCfg.Observability.Tracing,
		})
		if err != nil {
			logger.Error("failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := corestate.NewManager(db)

	nodeKey, err := loadSignerKey(cfg)
	if err != nil {
		logger.Error("failed to load signer key",
			slog.Any("error", err),
			logging.MaskField("keystore", cfg.SignerKeystorePath))
		os.Exit(1)
	}
	var nodeAddr [20]byte
	copy(nodeAddr[:], nodeKey.PubKey().Address().Bytes())

	// The node operator administers whitelists and seeds parameters at boot.
	if err := manager.GrantRole(rental.RoleRentalAdmin, nodeAddr[:]); err != nil {
		logger.Error("failed to grant operator admin role", slog.Any("error", err))
		os.Exit(1)
	}
	if err := grantConfiguredRoles(manager, cfg); err != nil {
		logger.Error("failed to grant configured roles", slog.Any("error", err))
		os.Exit(1)
	}

	converterAddr := moduleAddress("converter")
	stopAddr := moduleAddress("stop")
	escrowAddr := moduleAddress("escrow")

	auth := rental.NewAuthTable(
		rental.Grant{Caller: converterAddr, Ops: []rental.Operation{
			rental.OpLedgerAddRentals,
			rental.OpEscrowDeposit,
		}},
		rental.Grant{Caller: stopAddr, Ops: []rental.Operation{
			rental.OpLedgerRemoveRentals,
			rental.OpEscrowSettle,
		}},
		rental.Grant{Caller: nodeAddr, Ops: []rental.Operation{
			rental.OpLedgerRegisterWallet,
		}},
	)

	bank := custody.NewBank(manager, escrowAddr)
	vault := custody.NewVault(manager)
	emitter := observability.NewMetricsEmitter(events.NoopEmitter{})
	pauses := nativecommon.NewPauses(manager, rental.RoleRentalAdmin)

	ledger := rental.NewLedger(manager, auth)
	ledger.SetPauses(pauses)
	escrow := rental.NewPaymentEscrow(manager, bank, auth, escrowAddr)
	escrow.SetEmitter(emitter)
	escrow.SetPauses(pauses)

	converter := rental.NewConverter(ledger, escrow, vault, converterAddr)
	converter.SetEmitter(emitter)
	converter.SetPauses(pauses)
	stopEngine := rental.NewStopEngine(ledger, escrow, vault, stopAddr)
	stopEngine.SetEmitter(emitter)
	stopEngine.SetPauses(pauses)
	stopEngine.SetHooks(converter.Hooks())

	var emergencyUpgrade [20]byte
	if trimmed := strings.TrimSpace(cfg.EmergencyUpgrade); trimmed != "" {
		decoded, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			logger.Error("invalid emergency upgrade address", slog.Any("error", err))
			os.Exit(1)
		}
		copy(emergencyUpgrade[:], decoded.Bytes())
	}
	guard := rental.NewGuard(ledger, vault, emergencyUpgrade)
	guard.SetPauses(pauses)
	guard.SetHooks(converter.Hooks())

	if err := seedParameters(cfg, ledger, escrow, nodeAddr); err != nil {
		logger.Error("failed to seed protocol parameters", slog.Any("error", err))
		os.Exit(1)
	}

	handler, err := buildGateway(gwCfg, ledger, escrow, converter, stopEngine, guard, pauses, nodeAddr, logger)
	if err != nil {
		logger.Error("failed to build gateway", slog.Any("error", err))
		os.Exit(1)
	}

	listen := gwCfg.ListenAddress
	if strings.TrimSpace(cfg.ListenAddress) != "" {
		listen = cfg.ListenAddress
	}
	server := &http.Server{
		Addr:         listen,
		Handler:      handler,
		ReadTimeout:  gwCfg.ReadTimeout,
		WriteTimeout: gwCfg.WriteTimeout,
		IdleTimeout:  gwCfg.IdleTimeout,
	}

	tlsCert := strings.TrimSpace(gwCfg.Security.TLSCertFile)
	tlsKey := strings.TrimSpace(gwCfg.Security.TLSKeyFile)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("rentald listening",
			slog.String("address", listen),
			slog.String("network", cfg.NetworkName),
			slog.Bool("tls", tlsCert != ""),
			slog.String("operator", nodeKey.PubKey().Address().String()))
		if tlsCert != "" && tlsKey != "" {
			errCh <- server.ListenAndServeTLS(tlsCert, tlsKey)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("gateway server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", slog.Any("error", err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown failed", slog.Any("error", err))
	}
}

func grantConfiguredRoles(manager *corestate.Manager, cfg *config.Config) error {
	for _, admin := range cfg.Admins {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(admin))
		if err != nil {
			return fmt.Errorf("invalid admin address %q: %w", admin, err)
		}
		if err := manager.GrantRole(rental.RoleRentalAdmin, decoded.Bytes()); err != nil {
			return err
		}
	}
	for _, signer := range cfg.Signers {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(signer))
		if err != nil {
			return fmt.Errorf("invalid signer address %q: %w", signer, err)
		}
		if err := manager.GrantRole(rental.RoleRentalSigner, decoded.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func seedParameters(cfg *config.Config, ledger *rental.Ledger, escrow *rental.PaymentEscrow, operator [20]byte) error {
	if cfg.EscrowFeeBps > 0 {
		if err := escrow.SetFee(operator, cfg.EscrowFeeBps); err != nil {
			return fmt.Errorf("set escrow fee: %w", err)
		}
	}
	if cfg.Limits.MaxRentDuration > 0 {
		if err := ledger.SetMaxRentDuration(operator, cfg.Limits.MaxRentDuration); err != nil {
			return fmt.Errorf("set max rent duration: %w", err)
		}
	}
	if cfg.Limits.MaxOfferItems > 0 {
		if err := ledger.SetMaxOfferItems(operator, cfg.Limits.MaxOfferItems); err != nil {
			return fmt.Errorf("set max offer items: %w", err)
		}
	}
	if cfg.Limits.MaxConsiderationItems > 0 {
		if err := ledger.SetMaxConsiderationItems(operator, cfg.Limits.MaxConsiderationItems); err != nil {
			return fmt.Errorf("set max consideration items: %w", err)
		}
	}
	return nil
}

func buildGateway(
	gwCfg gatewayconfig.Config,
	ledger *rental.Ledger,
	escrow *rental.PaymentEscrow,
	converter *rental.Converter,
	stopEngine *rental.StopEngine,
	guard *rental.Guard,
	pauses *nativecommon.Pauses,
	operator [20]byte,
	logger *slog.Logger,
) (http.Handler, error) {
	stdLogger := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   gwCfg.Observability.ServiceName,
		MetricsPrefix: gwCfg.Observability.MetricsPrefix,
		LogRequests:   gwCfg.Observability.LogRequests,
		Enabled:       gwCfg.Observability.Metrics || gwCfg.Observability.Tracing,
	}, stdLogger)

	limits := make(map[string]middleware.RateLimit, len(gwCfg.RateLimits))
	for _, entry := range gwCfg.RateLimits {
		limits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			RatePerSecond:     entry.RatePerSecond,
			Burst:             entry.Burst,
		}
	}
	limiter := middleware.NewRateLimiter(limits, stdLogger)

	secret := strings.TrimSpace(os.Getenv(gatewaySecret))
	if gwCfg.Auth.Enabled && secret == "" && gwCfg.Auth.HMACSecret == "" {
		return nil, fmt.Errorf("gateway auth enabled but no HMAC secret configured; set %s", gatewaySecret)
	}
	if secret == "" {
		secret = gwCfg.Auth.HMACSecret
	}
	authenticator := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        gwCfg.Auth.Enabled,
		HMACSecret:     secret,
		Issuer:         gwCfg.Auth.Issuer,
		Audience:       gwCfg.Auth.Audience,
		ScopeClaim:     gwCfg.Auth.ScopeClaim,
		OptionalPaths:  gwCfg.Auth.OptionalPaths,
		AllowAnonymous: gwCfg.Auth.AllowAnonymous,
		ClockSkew:      gwCfg.Auth.ClockSkew,
	}, stdLogger)

	return routes.New(routes.Config{
		Rental:        routes.NewRentalAPI(ledger, escrow, pauses, operator, logger),
		Exec:          routes.NewExecAPI(converter, stopEngine, guard),
		Authenticator: authenticator,
		RateLimiter:   limiter,
		Observability: obs,
	})
}

func loadSignerKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if envName := strings.TrimSpace(cfg.SignerKMSEnv); envName != "" {
		material, ok := os.LookupEnv(envName)
		if !ok {
			return nil, fmt.Errorf("environment variable %q not set", envName)
		}
		trimmed := strings.TrimPrefix(strings.TrimSpace(material), "0x")
		raw, err := hex.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decode signer key material: %w", err)
		}
		return crypto.PrivateKeyFromBytes(raw)
	}
	if cfg.SignerKeystorePath == "" {
		return nil, fmt.Errorf("signer keystore path not configured")
	}
	passphrase := os.Getenv(signerPassEnv)
	return crypto.LoadFromKeystore(cfg.SignerKeystorePath, passphrase)
}
