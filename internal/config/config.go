package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Restaurant struct {
	Name    string
	Address string
	Phone   string
	GSTIN   string
	Footer  string
}

type Config struct {
	Port               string
	PostgresURL        string
	KafkaBrokers       []string
	EventsTopic        string
	JWTSecret          string
	DefaultTaxRate     decimal.Decimal
	StrictTransitions  bool
	Location           *time.Location
	Restaurant         Restaurant
	CORSAllowedOrigins []string
	OTLPEndpoint       string
}

// Load reads configuration from an optional .env file, the environment and
// command line flags. Flags win over the environment.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var (
		cfg         Config
		kafka       string
		taxRate     string
		timezone    string
		corsOrigins string
	)

	fs := flag.NewFlagSet("pos", flag.ContinueOnError)
	fs.StringVar(&cfg.Port, "port", getEnv("PORT", "8080"), "HTTP listen port")
	fs.StringVar(&cfg.PostgresURL, "postgres-url", getEnv("POSTGRES_URL", ""), "Postgres connection string")
	fs.StringVar(&kafka, "kafka-brokers", getEnv("KAFKA_BROKERS", ""), "comma separated Kafka brokers; empty disables cross-instance fan-out")
	fs.StringVar(&cfg.EventsTopic, "events-topic", getEnv("EVENTS_TOPIC", "pos.realtime"), "Kafka topic carrying realtime events")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", getEnv("JWT_SECRET", ""), "HS256 secret for staff tokens; empty disables auth")
	fs.StringVar(&taxRate, "default-tax-rate", getEnv("DEFAULT_TAX_RATE", "5"), "tax percentage for order estimates")
	fs.BoolVar(&cfg.StrictTransitions, "strict-status-transitions", getEnvBool("STRICT_STATUS_TRANSITIONS", false), "reject backwards order status moves")
	fs.StringVar(&timezone, "timezone", getEnv("TIMEZONE", "UTC"), "IANA zone that decides the business day")
	fs.StringVar(&cfg.Restaurant.Name, "restaurant-name", getEnv("RESTAURANT_NAME", "Restaurant"), "name printed on receipts")
	fs.StringVar(&cfg.Restaurant.Address, "restaurant-address", getEnv("RESTAURANT_ADDRESS", ""), "address printed on receipts")
	fs.StringVar(&cfg.Restaurant.Phone, "restaurant-phone", getEnv("RESTAURANT_PHONE", ""), "phone printed on receipts")
	fs.StringVar(&cfg.Restaurant.GSTIN, "restaurant-gstin", getEnv("RESTAURANT_GSTIN", ""), "tax registration printed on receipts")
	fs.StringVar(&cfg.Restaurant.Footer, "receipt-footer", getEnv("RECEIPT_FOOTER", "Thank you!"), "receipt footer line")
	fs.StringVar(&corsOrigins, "cors-allowed-origins", getEnv("CORS_ALLOWED_ORIGINS", "*"), "comma separated origins allowed by CORS")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"), "OTLP gRPC trace endpoint")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.PostgresURL == "" {
		return nil, errors.New("POSTGRES_URL is required")
	}

	rate, err := decimal.NewFromString(taxRate)
	if err != nil || rate.IsNegative() {
		return nil, fmt.Errorf("invalid default tax rate %q", taxRate)
	}
	cfg.DefaultTaxRate = rate

	cfg.Location, err = time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	cfg.KafkaBrokers = splitList(kafka)
	cfg.CORSAllowedOrigins = splitList(corsOrigins)

	return &cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
