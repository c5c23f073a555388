// Command reconciler runs the PSP-to-ledger reconciliation engine: the
// PSP poller and CRM sender loops, supervised for lifecycle logging and
// cooperative shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"reconciler/internal/config"
	"reconciler/internal/crm"
	"reconciler/internal/provider"
	"reconciler/internal/provider/cardpsp"
	"reconciler/internal/provider/localredirect"
	"reconciler/internal/provider/walletpsp"
	"reconciler/internal/ratelimit"
	"reconciler/internal/reconcile"
	"reconciler/internal/store/postgres"
	"reconciler/internal/supervisor"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("starting reconciliation engine")

	pool := postgres.MustOpen(ctx, cfg.DBDSN)
	defer pool.Close()
	repo := postgres.NewRepo(pool)

	registry := buildRegistry(cfg)
	gate := ratelimit.NewGate(cfg.RedisAddr, cfg.ProviderRatePerSecond)
	defer gate.Close()

	poller := reconcile.NewPoller(repo, registry, gate, cfg.Reconcile, cfg.AdapterTimeout)

	crmClient := crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.PagarPath, cfg.CRM.AuthBearer, cfg.AdapterTimeout)
	senderInterval := time.Duration(cfg.Reconcile.IntervalSeconds) * time.Second
	sender := crm.NewSender(repo, crmClient, cfg.CRM, senderInterval)

	sup := supervisor.New(repo, cfg.HeartbeatInterval, cfg.ShutdownTimeout)
	sup.Run(ctx, poller.Run, sender.Run)

	log.Info().Msg("reconciliation engine stopped")
}

// buildRegistry wires each configured adapter with its opaque credential
// bag: one table lookup from provider key to adapter instance, built at
// startup, each adapter wrapped in its own circuit breaker.
func buildRegistry(cfg config.Cfg) *provider.Registry {
	registry := provider.NewRegistry()

	if creds, ok := cfg.Providers["card-psp"]; ok && creds["secret_key"] != "" {
		registry.Register("card-psp", provider.WrapWithBreaker(cardpsp.New(creds["secret_key"], cfg.AdapterTimeout)))
	}
	if creds, ok := cfg.Providers["wallet-psp"]; ok && creds["horizon_url"] != "" {
		registry.Register("wallet-psp", provider.WrapWithBreaker(walletpsp.New(creds["horizon_url"], cfg.AdapterTimeout)))
	}
	if creds, ok := cfg.Providers["local-redirect-psp"]; ok && creds["base_url"] != "" {
		adapter := localredirect.New(creds["base_url"], creds["consumer_key"], creds["consumer_secret"], cfg.AdapterTimeout)
		registry.Register("local-redirect-psp", provider.WrapWithBreaker(adapter))
	}

	log.Info().Strs("providers", registry.Providers()).Msg("provider registry initialized")
	return registry
}
