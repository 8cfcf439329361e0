package config

import (
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("API_JWT_SECRET", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DIR", "./db")

	v.SetDefault("EVM_RPC", "http://localhost:8545")
	v.SetDefault("EVM_CHAIN_ID", 1)
	v.SetDefault("EVM_GAS_LIMIT", 21000)
	v.SetDefault("BTC_RPC", "localhost:8332")
	v.SetDefault("BTC_RPC_USER", "")
	v.SetDefault("BTC_RPC_PASS", "")
	v.SetDefault("BTC_NETWORK_TYPE", "")
	v.SetDefault("BTC_FEE_API", "")
	v.SetDefault("SOLANA_RPC", "")
	v.SetDefault("HEALTH_HTTP_PROBES", "")

	v.SetDefault("RPC_TIMEOUT", "5s")
	v.SetDefault("HEALTH_POLL_INTERVAL", "10s")
	v.SetDefault("HEALTH_HYSTERESIS", 2)
	v.SetDefault("SWEEP_MAX_RETRIES", 5)
	v.SetDefault("SWEEP_BACKOFF_BASE", "1s")
	v.SetDefault("SWEEP_BACKOFF_CAP", "30s")
	v.SetDefault("SWEEP_WORKERS", 0)
	v.SetDefault("BALANCE_CACHE_TTL", "15s")
}

// LoadConfig reads the environment into a Config without touching globals
func LoadConfig() Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	logLevel, err := log.ParseLevel(strings.ToLower(v.GetString("LOG_LEVEL")))
	if err != nil {
		log.Warnf("Invalid log level %q, fallback to info", v.GetString("LOG_LEVEL"))
		logLevel = log.InfoLevel
	}

	cfg := Config{
		HTTPPort:        v.GetString("HTTP_PORT"),
		APIJwtSecret:    v.GetString("API_JWT_SECRET"),
		LogLevel:        logLevel,
		DbDir:           v.GetString("DB_DIR"),
		EVMRPC:          v.GetString("EVM_RPC"),
		EVMChainID:      v.GetInt64("EVM_CHAIN_ID"),
		EVMGasLimit:     v.GetUint64("EVM_GAS_LIMIT"),
		BTCRPC:          v.GetString("BTC_RPC"),
		BTCRPC_USER:     v.GetString("BTC_RPC_USER"),
		BTCRPC_PASS:     v.GetString("BTC_RPC_PASS"),
		BTCNetworkType:  v.GetString("BTC_NETWORK_TYPE"),
		BTCFeeAPI:       v.GetString("BTC_FEE_API"),
		SolanaRPC:       v.GetString("SOLANA_RPC"),
		HTTPProbes:      parseProbes(v.GetString("HEALTH_HTTP_PROBES")),
		RPCTimeout:      v.GetDuration("RPC_TIMEOUT"),
		PollInterval:    v.GetDuration("HEALTH_POLL_INTERVAL"),
		DisconnectAfter: v.GetInt("HEALTH_HYSTERESIS"),
		MaxRetries:      v.GetInt("SWEEP_MAX_RETRIES"),
		BackoffBase:     v.GetDuration("SWEEP_BACKOFF_BASE"),
		BackoffCap:      v.GetDuration("SWEEP_BACKOFF_CAP"),
		WorkerPoolSize:  v.GetInt("SWEEP_WORKERS"),
		BalanceCacheTTL: v.GetDuration("BALANCE_CACHE_TTL"),
	}
	cfg.normalize()
	return cfg
}

func InitConfig() {
	AppConfig = LoadConfig()

	log.Infof("Init config, RPCTimeout %v, PollInterval %v, MaxRetries %d, BackoffBase %v, BackoffCap %v, BalanceCacheTTL %v",
		AppConfig.RPCTimeout, AppConfig.PollInterval, AppConfig.MaxRetries, AppConfig.BackoffBase, AppConfig.BackoffCap, AppConfig.BalanceCacheTTL)

	log.SetOutput(os.Stdout)
	log.SetLevel(AppConfig.LogLevel)
}

// normalize replaces non-positive values with the documented defaults
func (c *Config) normalize() {
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.DisconnectAfter < 1 {
		c.DisconnectAfter = 2
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap < c.BackoffBase {
		log.Warnf("Backoff cap %v lower than base %v, set to base", c.BackoffCap, c.BackoffBase)
		c.BackoffCap = c.BackoffBase
	}
	if c.WorkerPoolSize < 0 {
		c.WorkerPoolSize = 0
	}
	if c.BalanceCacheTTL <= 0 {
		c.BalanceCacheTTL = 15 * time.Second
	}
	if c.EVMGasLimit == 0 {
		c.EVMGasLimit = 21000
	}
}

// parseProbes reads "id=url,id2=url2"
func parseProbes(raw string) map[string]string {
	probes := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, url, ok := strings.Cut(item, "=")
		if !ok || id == "" || url == "" {
			log.Warnf("Ignore malformed HEALTH_HTTP_PROBES entry %q", item)
			continue
		}
		probes[strings.TrimSpace(id)] = strings.TrimSpace(url)
	}
	return probes
}

type Config struct {
	HTTPPort        string
	APIJwtSecret    string
	LogLevel        log.Level
	DbDir           string
	EVMRPC          string
	EVMChainID      int64
	EVMGasLimit     uint64
	BTCRPC          string
	BTCRPC_USER     string
	BTCRPC_PASS     string
	BTCNetworkType  string
	BTCFeeAPI       string
	SolanaRPC       string
	HTTPProbes      map[string]string
	RPCTimeout      time.Duration
	PollInterval    time.Duration
	DisconnectAfter int
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	WorkerPoolSize  int
	BalanceCacheTTL time.Duration
}
