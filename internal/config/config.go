package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// --- minimal .env loader (no extra deps) ---
func loadDotenv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return // silently ignore if .env doesn't exist
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k := strings.TrimSpace(parts[0])
		v := strings.TrimSpace(parts[1])
		v = strings.Trim(v, `"'`)
		_ = os.Setenv(k, v)
	}
}

// ------------------------------------------------

// ReconcileCfg governs the PSP poller loop.
type ReconcileCfg struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
	Providers       []string
	AttemptOffsets  []int // seconds after creation, index k = prior status_check count
	AbandonedAfter  time.Duration

	// EnqueueOnTerminal lists canonical terminal statuses beyond
	// AUTHORIZED whose transitions should also enqueue a CRM push.
	// Empty by default: only AUTHORIZED enqueues.
	EnqueueOnTerminal []string
}

// CRMCfg governs the CRM sender loop and the downstream CRM endpoint.
type CRMCfg struct {
	Enabled      bool
	BaseURL      string
	PagarPath    string
	AuthBearer   string
	RetryBackoff []int // seconds, index k-1 = wait after the k-th failed attempt (1-indexed)
}

// ProviderCfg is the opaque-to-the-core credential bag for one adapter,
// keyed by the same provider string used in the payment row and the
// polling whitelist.
type ProviderCfg map[string]string

type Cfg struct {
	DBDSN                 string
	RedisAddr             string
	ProviderRatePerSecond int
	AdapterTimeout        time.Duration
	Reconcile             ReconcileCfg
	CRM                   CRMCfg
	HeartbeatInterval     time.Duration
	ShutdownTimeout       time.Duration
	Providers             map[string]ProviderCfg
}

func Load() Cfg {
	loadDotenv(".env")

	viper.AutomaticEnv()
	viper.SetDefault("RECONCILE_ENABLED", true)
	viper.SetDefault("RECONCILE_INTERVAL_SECONDS", 15)
	viper.SetDefault("RECONCILE_BATCH_SIZE", 50)
	viper.SetDefault("RECONCILE_ATTEMPT_OFFSETS", "60,180,900,1800")
	viper.SetDefault("RECONCILE_POLLING_PROVIDERS", "card-psp,wallet-psp,local-redirect-psp")
	viper.SetDefault("ABANDONED_TIMEOUT_MINUTES", 1440)
	viper.SetDefault("RECONCILE_ENQUEUE_ON_TERMINAL", "")
	viper.SetDefault("CRM_ENABLED", true)
	viper.SetDefault("CRM_PAGAR_PATH", "/pagar")
	viper.SetDefault("CRM_RETRY_BACKOFF", "60,300,1800")
	viper.SetDefault("HEARTBEAT_INTERVAL_SECONDS", 30)
	viper.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 20)
	viper.SetDefault("ADAPTER_TIMEOUT_SECONDS", 20)
	viper.SetDefault("RECONCILE_PROVIDER_RATE_PER_SECOND", 0)

	cfg := Cfg{
		DBDSN:                 viper.GetString("DATABASE_DSN"),
		RedisAddr:             viper.GetString("REDIS_ADDR"),
		ProviderRatePerSecond: viper.GetInt("RECONCILE_PROVIDER_RATE_PER_SECOND"),
		AdapterTimeout:        time.Duration(viper.GetInt("ADAPTER_TIMEOUT_SECONDS")) * time.Second,
		Reconcile: ReconcileCfg{
			Enabled:         viper.GetBool("RECONCILE_ENABLED"),
			IntervalSeconds: viper.GetInt("RECONCILE_INTERVAL_SECONDS"),
			BatchSize:       viper.GetInt("RECONCILE_BATCH_SIZE"),
			Providers:       splitCSV(viper.GetString("RECONCILE_POLLING_PROVIDERS")),
			AttemptOffsets:  splitCSVInts(viper.GetString("RECONCILE_ATTEMPT_OFFSETS")),
			AbandonedAfter:  time.Duration(viper.GetInt("ABANDONED_TIMEOUT_MINUTES")) * time.Minute,

			EnqueueOnTerminal: splitCSV(viper.GetString("RECONCILE_ENQUEUE_ON_TERMINAL")),
		},
		CRM: CRMCfg{
			Enabled:      viper.GetBool("CRM_ENABLED"),
			BaseURL:      viper.GetString("CRM_BASE_URL"),
			PagarPath:    viper.GetString("CRM_PAGAR_PATH"),
			AuthBearer:   viper.GetString("CRM_AUTH_BEARER"),
			RetryBackoff: splitCSVInts(viper.GetString("CRM_RETRY_BACKOFF")),
		},
		HeartbeatInterval: time.Duration(viper.GetInt("HEARTBEAT_INTERVAL_SECONDS")) * time.Second,
		ShutdownTimeout:   time.Duration(viper.GetInt("SHUTDOWN_TIMEOUT_SECONDS")) * time.Second,
		Providers:         loadProviderCreds(),
	}

	if cfg.DBDSN == "" {
		log.Fatal().Msg("DATABASE_DSN is required")
	}
	if cfg.CRM.Enabled && (cfg.CRM.BaseURL == "" || cfg.CRM.AuthBearer == "") {
		log.Fatal().Msg("CRM_BASE_URL and CRM_AUTH_BEARER are required when CRM_ENABLED=true")
	}

	return cfg
}

// loadProviderCreds gathers the opaque per-provider credential bags the
// core never interprets, only forwards to the matching adapter
// constructor. Recognised keys:
//
//	CARD_PSP_SECRET_KEY
//	WALLET_PSP_HORIZON_URL
//	LOCAL_REDIRECT_PSP_BASE_URL / _CONSUMER_KEY / _CONSUMER_SECRET
func loadProviderCreds() map[string]ProviderCfg {
	return map[string]ProviderCfg{
		"card-psp": {
			"secret_key": viper.GetString("CARD_PSP_SECRET_KEY"),
		},
		"wallet-psp": {
			"horizon_url": viper.GetString("WALLET_PSP_HORIZON_URL"),
		},
		"local-redirect-psp": {
			"base_url":        viper.GetString("LOCAL_REDIRECT_PSP_BASE_URL"),
			"consumer_key":    viper.GetString("LOCAL_REDIRECT_PSP_CONSUMER_KEY"),
			"consumer_secret": viper.GetString("LOCAL_REDIRECT_PSP_CONSUMER_SECRET"),
		},
	}
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitCSVInts(s string) []int {
	raw := splitCSV(s)
	out := make([]int, 0, len(raw))
	for _, r := range raw {
		n, err := strconv.Atoi(r)
		if err != nil {
			log.Warn().Str("value", r).Msg("config: ignoring non-integer in comma-separated list")
			continue
		}
		out = append(out, n)
	}
	return out
}
