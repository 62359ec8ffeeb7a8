package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Cron     CronConfig     `mapstructure:"cron"`
	Gamma    GammaConfig    `mapstructure:"gamma"`
	ClobREST ClobRESTConfig `mapstructure:"clob_rest"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Embed    EmbedConfig    `mapstructure:"embedding"`

	Scan        ScanConfig        `mapstructure:"scan"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Rate        RateConfig        `mapstructure:"rate"`
	Thresholds  ThresholdsConfig  `mapstructure:"thresholds"`
	Strategies  StrategiesConfig  `mapstructure:"strategies"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Scan    string `mapstructure:"scan"`
}

type GammaConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PageLimit int           `mapstructure:"page_limit"`
	MaxPages  int           `mapstructure:"max_pages"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type ClobRESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxCalls    int           `mapstructure:"max_calls"`
	Temperature float64       `mapstructure:"temperature"`
}

type EmbedConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKeyEnv string        `mapstructure:"api_key_env"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
}

type ScanConfig struct {
	Tags              []string      `mapstructure:"tags"`
	MarketLimit       int           `mapstructure:"market_limit"`
	MinLiquidityUSD   float64       `mapstructure:"min_liquidity_usd"`
	TargetSizeUSD     float64       `mapstructure:"target_size_usd"`
	MinAPY            float64       `mapstructure:"min_apy"`
	ProfitEpsilon     float64       `mapstructure:"profit_epsilon"`
	EquivEpsilon      float64       `mapstructure:"equiv_epsilon"`
	ExhaustiveEpsilon float64       `mapstructure:"exhaustive_epsilon"`
	DeadlineTolerance time.Duration `mapstructure:"deadline_tolerance"`
	PlanMaxAge        time.Duration `mapstructure:"plan_max_age"`
	SimilarityCutoff  float64       `mapstructure:"similarity_cutoff"`
	OptimalOnly       bool          `mapstructure:"optimal_only"`
}

type ConcurrencyConfig struct {
	NSource int `mapstructure:"n_source"`
	NEmbed  int `mapstructure:"n_embed"`
	NLLM    int `mapstructure:"n_llm"`
	NBook   int `mapstructure:"n_book"`
}

type RateConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxRetries        int     `mapstructure:"max_retries"`
}

type ThresholdsConfig struct {
	Mono       float64 `mapstructure:"mono"`
	Impl       float64 `mapstructure:"impl"`
	Equiv      float64 `mapstructure:"equiv"`
	Exhaustive float64 `mapstructure:"exhaustive"`
}

type StrategiesConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", false)
	v.SetDefault("cron.scan", "@every 30m")
	v.SetDefault("gamma.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("gamma.timeout", "10s")
	v.SetDefault("gamma.page_limit", 200)
	v.SetDefault("gamma.max_pages", 25)
	v.SetDefault("gamma.cache_ttl", "60s")
	v.SetDefault("clob_rest.base_url", "https://clob.polymarket.com")
	v.SetDefault("clob_rest.timeout", "5s")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_calls", 200)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.batch_size", 100)

	v.SetDefault("scan.tags", []string{"crypto"})
	v.SetDefault("scan.market_limit", 0)
	v.SetDefault("scan.min_liquidity_usd", 10000)
	v.SetDefault("scan.target_size_usd", 500)
	v.SetDefault("scan.min_apy", 0.15)
	v.SetDefault("scan.profit_epsilon", 0.005)
	v.SetDefault("scan.equiv_epsilon", 0.03)
	v.SetDefault("scan.exhaustive_epsilon", 0.02)
	v.SetDefault("scan.deadline_tolerance", "24h")
	v.SetDefault("scan.plan_max_age", "60s")
	v.SetDefault("scan.similarity_cutoff", 0.45)
	v.SetDefault("scan.optimal_only", false)

	v.SetDefault("concurrency.n_source", 4)
	v.SetDefault("concurrency.n_embed", 4)
	v.SetDefault("concurrency.n_llm", 3)
	v.SetDefault("concurrency.n_book", 8)

	v.SetDefault("rate.requests_per_second", 10)
	v.SetDefault("rate.burst", 10)
	v.SetDefault("rate.max_retries", 3)

	v.SetDefault("thresholds.mono", 0.01)
	v.SetDefault("thresholds.impl", 0.90)
	v.SetDefault("thresholds.equiv", 0.90)
	v.SetDefault("thresholds.exhaustive", 0.85)

	v.SetDefault("strategies.enabled", []string{
		"MONOTONICITY", "INTERVAL", "EXHAUSTIVE",
		"IMPLICATION", "EQUIVALENT", "TEMPORAL",
	})

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
