package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Consumer group IDs, one per service.
const (
	MemoryGroup      = "trade-memory-service-group"
	PersistenceGroup = "trade-persistence-service-group"
	CalculationGroup = "calculation-service-group"
)

// Config holds all pipeline configuration. A single struct is shared by the
// service binaries; each reads the fields it needs.
type Config struct {
	// Bus
	KafkaBrokers []string
	TradesTopic  string
	MarketTopic  string

	// Database
	MongoURI string

	// RPC
	GRPCPort        int
	TradesHost      string
	TradesPort      int
	PersistenceHost string
	PersistencePort int

	// Observability
	MetricsPort int
	LogLevel    string

	// Pipeline tuning
	BatchInterval         time.Duration
	MemoryRetention       time.Duration
	QueriedRangeRetention time.Duration
	MarketBufferSize      int
	WaitTimeout           time.Duration
	TradingFeePerMWh      string

	// Trade archive exporter (opt-in: only active when ArchiveDir is set)
	ArchiveDir           string
	ArchiveMaxGB         int
	ArchiveIntervalHours int
	ArchiveAfterHours    int
}

// Load parses flags with env fallbacks. A .env file in the working
// directory is read first when present.
func Load() *Config {
	godotenv.Load()

	c := &Config{}

	var brokers string
	flag.StringVar(&brokers, "kafka-brokers", envStr("KAFKA_BROKERS", "localhost:9092"), "Comma-separated Kafka broker list")
	flag.StringVar(&c.TradesTopic, "trades-topic", envStr("TRADES_TOPIC", "trades"), "Trade stream topic")
	flag.StringVar(&c.MarketTopic, "market-topic", envStr("MARKET_TOPIC", "market"), "Market interval stream topic")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGODB_URI", "mongodb://localhost:27017/pnl"), "MongoDB connection URI")

	flag.IntVar(&c.GRPCPort, "grpc-port", envInt("GRPC_PORT", 50051), "gRPC listen port")
	flag.StringVar(&c.TradesHost, "trades-host", envStr("TRADES_SERVICE_HOST", "localhost"), "Trade memory service host")
	flag.IntVar(&c.TradesPort, "trades-port", envInt("TRADES_SERVICE_PORT", 50051), "Trade memory service port")
	flag.StringVar(&c.PersistenceHost, "persistence-host", envStr("PERSISTENCE_SERVICE_HOST", "localhost"), "Trade persistence service host")
	flag.IntVar(&c.PersistencePort, "persistence-port", envInt("PERSISTENCE_SERVICE_PORT", 50052), "Trade persistence service port")

	flag.IntVar(&c.MetricsPort, "metrics-port", envInt("METRICS_PORT", 9100), "Metrics/health listen port")
	flag.StringVar(&c.LogLevel, "log-level", envStr("LOG_LEVEL", "info"), "Log level (trace|debug|info|warn|error)")

	flag.DurationVar(&c.BatchInterval, "batch-interval", envMillis("BATCH_INTERVAL_MS", 10*time.Second), "Trade store flush interval")
	flag.DurationVar(&c.MemoryRetention, "memory-retention", envMillis("MEMORY_RETENTION_MS", 10*time.Second), "In-memory trade retention")
	flag.DurationVar(&c.QueriedRangeRetention, "queried-range-retention", envMillis("QUERIED_RANGE_RETENTION_MS", time.Minute), "Queried-range tracking window")
	flag.IntVar(&c.MarketBufferSize, "market-buffer", envInt("MARKET_BUFFER_SIZE", 100), "Recently processed interval cache size")
	flag.DurationVar(&c.WaitTimeout, "wait-timeout", envMillis("WAIT_TIMEOUT_MS", 3*time.Second), "Late-arrival wait / RPC deadline")
	flag.StringVar(&c.TradingFeePerMWh, "trading-fee", envStr("TRADING_FEE_PER_MWH", "0.13"), "Trading fee per MWh (decimal)")

	flag.StringVar(&c.ArchiveDir, "archive-dir", envStr("ARCHIVE_DIR", ""), "Trade archive directory (empty = disabled)")
	flag.IntVar(&c.ArchiveMaxGB, "archive-max-gb", envInt("ARCHIVE_MAX_GB", 10), "Max total archive size in GB")
	flag.IntVar(&c.ArchiveIntervalHours, "archive-interval", envInt("ARCHIVE_INTERVAL_HOURS", 6), "Hours between archive runs")
	flag.IntVar(&c.ArchiveAfterHours, "archive-after", envInt("ARCHIVE_AFTER_HOURS", 24), "Archive trades older than this many hours")

	flag.Parse()

	c.KafkaBrokers = splitList(brokers)

	return c
}

// TradesAddr returns the trade memory service dial address.
func (c *Config) TradesAddr() string {
	return c.TradesHost + ":" + strconv.Itoa(c.TradesPort)
}

// PersistenceAddr returns the trade persistence service dial address.
func (c *Config) PersistenceAddr() string {
	return c.PersistenceHost + ":" + strconv.Itoa(c.PersistencePort)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
