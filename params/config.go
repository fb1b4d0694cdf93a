package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Chain struct {
	RPCURL            string
	ChainID           int64
	SettlementAddress string
	// RelayerPrivateKey signs settlement transactions. Hex, no default.
	RelayerPrivateKey string
}

type Engine struct {
	// MatchInterval is the period of the matching loop.
	MatchInterval time.Duration
	// ExpirySweepEvery runs the expired-order sweep every Nth matching
	// tick. 0 disables the sweep.
	ExpirySweepEvery int
}

type Relayer struct {
	BatchSize       int
	BatchDelay      time.Duration
	MaxGasPriceGwei int64
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

type API struct {
	Addr string
}

type Config struct {
	Chain   Chain
	Engine  Engine
	Relayer Relayer
	API     API
	LogFile string
}

func Default() Config {
	return Config{
		Chain: Chain{
			RPCURL:  "http://127.0.0.1:8545",
			ChainID: 1111111,
		},
		Engine: Engine{
			MatchInterval:    time.Second,
			ExpirySweepEvery: 10,
		},
		Relayer: Relayer{
			BatchSize:       10,
			BatchDelay:      2 * time.Second,
			MaxGasPriceGwei: 100,
			MaxRetries:      3,
			RetryBaseDelay:  time.Second,
			RetryMaxDelay:   30 * time.Second,
		},
		API: API{
			Addr: ":8080",
		},
		LogFile: "data/node.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = id
		}
	}
	if v := os.Getenv("SETTLEMENT_ADDRESS"); v != "" {
		cfg.Chain.SettlementAddress = v
	}
	if v := os.Getenv("RELAYER_PRIVATE_KEY"); v != "" {
		cfg.Chain.RelayerPrivateKey = v
	}

	if ms, ok := envMillis("MATCH_INTERVAL_MS"); ok {
		cfg.Engine.MatchInterval = ms
	}
	if v := os.Getenv("EXPIRY_SWEEP_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.ExpirySweepEvery = n
		}
	}

	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Relayer.BatchSize = n
		}
	}
	if ms, ok := envMillis("BATCH_DELAY_MS"); ok {
		cfg.Relayer.BatchDelay = ms
	}
	if v := os.Getenv("MAX_GAS_PRICE_GWEI"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Relayer.MaxGasPriceGwei = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Relayer.MaxRetries = n
		}
	}
	if ms, ok := envMillis("RETRY_BASE_DELAY_MS"); ok {
		cfg.Relayer.RetryBaseDelay = ms
	}
	if ms, ok := envMillis("RETRY_MAX_DELAY_MS"); ok {
		cfg.Relayer.RetryMaxDelay = ms
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg
}

func envMillis(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
