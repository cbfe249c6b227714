package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		RateLimit       struct {
			Enabled bool    `yaml:"enabled"`
			RPS     float64 `yaml:"rps"`
			Burst   int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Logger struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logger"`
	Signal struct {
		ModelVersion    string  `yaml:"model_version"`
		JitterAmplitude float64 `yaml:"jitter_amplitude"`
		JitterSeed      int64   `yaml:"jitter_seed"`
	} `yaml:"signal"`
	Simulation struct {
		InitialBalance  float64 `yaml:"initial_balance"`
		TransactionCost float64 `yaml:"transaction_cost"`
		PositionSize    float64 `yaml:"position_size"`
		Lookback        int     `yaml:"lookback"`
	} `yaml:"simulation"`
	Trainer struct {
		PolicyServiceURL string        `yaml:"policy_service_url"`
		Timeout          time.Duration `yaml:"timeout"`
		Retries          int           `yaml:"retries"`
		ModelDir         string        `yaml:"model_dir"`
		ONNXLibraryPath  string        `yaml:"onnx_library_path"`
		MinRows          int           `yaml:"min_rows"`
		HistoryRows      int           `yaml:"history_rows"`
		Timeframe        string        `yaml:"timeframe"`
		DefaultTimesteps int           `yaml:"default_timesteps"`
		LockTTL          time.Duration `yaml:"lock_ttl"`
		LearningRate     float64       `yaml:"learning_rate"`
		Thresholds       struct {
			MinSharpe      float64 `yaml:"min_sharpe"`
			MinWinRate     float64 `yaml:"min_win_rate"`
			MaxDrawdown    float64 `yaml:"max_drawdown"`
			MinTotalTrades int     `yaml:"min_total_trades"`
		} `yaml:"thresholds"`
	} `yaml:"trainer"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
		PoolSize int           `yaml:"pool_size"`
		// Entries kept in the in-process layer in front of Redis.
		MemorySize int `yaml:"memory_size"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled          bool     `yaml:"enabled"`
		Brokers          []string `yaml:"brokers"`
		DecisionsTopic   string   `yaml:"decisions_topic"`
		TrainingTopic    string   `yaml:"training_topic"`
		TrainResultTopic string   `yaml:"train_result_topic"`
		RequiredAcks     int      `yaml:"required_acks"`
		Compression      string   `yaml:"compression"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		CandleTable      string        `yaml:"candle_table"`
		DecisionTable    string        `yaml:"decision_table"`
		DecisionTTLDays  int           `yaml:"decision_ttl_days"`
		MaxConnections   int           `yaml:"max_connections"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

// Default returns a configuration with every field set to a usable value.
func Default() *Config {
	var c Config
	c.Environment = "development"
	c.Server.Port = 8000
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Server.CORSOrigins = []string{"*"}
	c.Server.RateLimit.RPS = 20
	c.Server.RateLimit.Burst = 40
	c.Metrics.Enabled = true
	c.Metrics.Path = "/prometheus"
	c.Logger.Level = "info"
	c.Logger.Format = "console"
	c.Logger.Output = "stdout"
	c.Signal.ModelVersion = "v1.1.0-smc"
	c.Signal.JitterAmplitude = 0.03
	c.Simulation.InitialBalance = 10000
	c.Simulation.TransactionCost = 0.001
	c.Simulation.PositionSize = 1.0
	c.Simulation.Lookback = 20
	c.Trainer.Timeout = 10 * time.Minute
	c.Trainer.Retries = 2
	c.Trainer.ModelDir = "models"
	c.Trainer.MinRows = 100
	c.Trainer.HistoryRows = 5000
	c.Trainer.Timeframe = "1m"
	c.Trainer.DefaultTimesteps = 50000
	c.Trainer.LockTTL = 2 * time.Hour
	c.Trainer.LearningRate = 0.0003
	c.Trainer.Thresholds.MinSharpe = 1.0
	c.Trainer.Thresholds.MinWinRate = 0.52
	c.Trainer.Thresholds.MaxDrawdown = 0.20
	c.Trainer.Thresholds.MinTotalTrades = 20
	c.Redis.Prefix = "rl:"
	c.Redis.TTL = 7 * 24 * time.Hour
	c.Redis.PoolSize = 10
	c.Redis.MemorySize = 1000
	c.Kafka.DecisionsTopic = "rl.decisions"
	c.Kafka.TrainingTopic = "rl.training.jobs"
	c.Kafka.TrainResultTopic = "rl.training.results"
	c.Kafka.RequiredAcks = -1
	c.Kafka.Consumer.GroupID = "rl-signal"
	c.Kafka.Consumer.Workers = 1
	c.ClickHouse.Port = 9000
	c.ClickHouse.Database = "rl"
	c.ClickHouse.CandleTable = "candles_1m"
	c.ClickHouse.DecisionTable = "decisions"
	c.ClickHouse.DecisionTTLDays = 90
	c.ClickHouse.MaxConnections = 10
	return &c
}

// Load reads and parses a YAML configuration file on top of Default.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, then applies
// environment overrides and validates the result again.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("POLICY_SERVICE_URL"); v != "" {
		c.Trainer.PolicyServiceURL = v
	}
	if v := os.Getenv("MODEL_DIR"); v != "" {
		c.Trainer.ModelDir = v
	}
	if v := os.Getenv("ONNXRUNTIME_LIB"); v != "" {
		c.Trainer.ONNXLibraryPath = v
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive, got %d", c.Server.Port)
	}
	if c.Signal.JitterAmplitude < 0 {
		return fmt.Errorf("signal.jitter_amplitude cannot be negative")
	}
	if c.Simulation.InitialBalance <= 0 {
		return fmt.Errorf("simulation.initial_balance must be positive")
	}
	if c.Simulation.TransactionCost < 0 {
		return fmt.Errorf("simulation.transaction_cost cannot be negative")
	}
	if c.Simulation.PositionSize <= 0 {
		return fmt.Errorf("simulation.position_size must be positive")
	}
	if c.Simulation.Lookback < 1 {
		return fmt.Errorf("simulation.lookback must be >= 1")
	}
	if c.Trainer.MinRows <= c.Simulation.Lookback+1 {
		return fmt.Errorf("trainer.min_rows must exceed simulation.lookback+1")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}
