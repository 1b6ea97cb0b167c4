package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Env struct {
	AppAddr  string
	GinMode  string
	LogLevel string

	// Store selects the ledger backend: "mysql" (default) or "memory".
	Store     string
	MySQLDSN  string
	RedisAddr string
	JWTSecret string

	GatewayBaseURL     string
	GatewayToken       string
	GatewayShortCode   string
	GatewayCallbackURL string

	PollInterval time.Duration
	PollAttempts int

	SweepInterval time.Duration
	SweepGrace    time.Duration
	SweepWorkers  int

	OperationsRatio decimal.Decimal
	InsuranceRatio  decimal.Decimal
	LoanRatio       decimal.Decimal

	EmergencyLoanCeiling decimal.Decimal

	// PaymentRateLimit is the number of processPayment calls allowed per client per minute.
	PaymentRateLimit int
}

func LoadEnv() Env {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	appAddr := strings.TrimSpace(os.Getenv("APP_ADDR"))
	if appAddr == "" {
		appAddr = ":8080"
	}

	ginMode := strings.TrimSpace(os.Getenv("GIN_MODE"))

	return Env{
		AppAddr:  appAddr,
		GinMode:  ginMode,
		LogLevel: envString("LOG_LEVEL", "info"),

		Store:     strings.ToLower(envString("STORE", "mysql")),
		MySQLDSN:  envString("MYSQL_DSN", "root:@tcp(127.0.0.1:3306)/sacco?parseTime=true&loc=Local&charset=utf8mb4&timeout=5s&readTimeout=30s&writeTimeout=30s"),
		RedisAddr: envString("REDIS_ADDR", ""),
		JWTSecret: envString("JWT_SECRET", "super-secret-key-change-me"),

		GatewayBaseURL:     envString("GATEWAY_BASE_URL", "http://127.0.0.1:9090"),
		GatewayToken:       envString("GATEWAY_TOKEN", ""),
		GatewayShortCode:   envString("GATEWAY_SHORTCODE", "174379"),
		GatewayCallbackURL: envString("GATEWAY_CALLBACK_URL", ""),

		PollInterval: envDuration("POLL_INTERVAL", 5*time.Second),
		PollAttempts: envInt("POLL_ATTEMPTS", 10),

		SweepInterval: envDuration("SWEEP_INTERVAL", time.Minute),
		SweepGrace:    envDuration("SWEEP_GRACE", 2*time.Minute),
		SweepWorkers:  envInt("SWEEP_WORKERS", 4),

		OperationsRatio: envDecimal("SPLIT_OPERATIONS_RATIO", "0.05"),
		InsuranceRatio:  envDecimal("SPLIT_INSURANCE_RATIO", "0.05"),
		LoanRatio:       envDecimal("SPLIT_LOAN_RATIO", "0.50"),

		EmergencyLoanCeiling: envDecimal("EMERGENCY_LOAN_CEILING", "30000"),

		PaymentRateLimit: envInt("PAYMENT_RATE_LIMIT", 30),
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envDecimal(key, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return decimal.RequireFromString(def)
	}
	return d
}
