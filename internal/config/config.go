package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"avelon-ledger/pkg/loanmath"
)

const (
	StoreSQL    = "sql"
	StoreMemory = "memory"

	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	LedgerStore string
	DBDriver    string

	MySQLHost string
	MySQLPort string
	MySQLDB   string
	MySQLUser string
	MySQLPass string

	PostgresDSN string

	RedisAddr string
	RedisDB   int

	IdempTTLSecs int

	EthRPCURL        string
	EthConfirmations uint64
	EscrowAddress    string
	TreasuryAddress  string
	EthPriceUSD      string

	KafkaBrokers []string
	KafkaTopic   string

	Thresholds loanmath.Thresholds

	RiskSweepSchedule string
	AutoLiquidate     bool
	ExpireOverdue     bool
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getint(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getbps(k string, d uint32) uint32 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return d
}

func getbool(k string) bool {
	b, _ := strconv.ParseBool(os.Getenv(k))
	return b
}

// Load reads the environment. A .env file in the working directory, when
// present, fills variables that are not already set.
func Load() *Config {
	_ = godotenv.Load()

	c := &Config{
		AppPort:  getenv("APP_PORT", "8080"),
		AppEnv:   getenv("APP_ENV", "production"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		LedgerStore: getenv("LEDGER_STORE", StoreSQL),
		DBDriver:    getenv("DB_DRIVER", DriverMySQL),

		MySQLHost: getenv("MYSQL_HOST", "mysql"),
		MySQLPort: getenv("MYSQL_PORT", "3306"),
		MySQLDB:   getenv("MYSQL_DB", "avelon"),
		MySQLUser: getenv("MYSQL_USER", "avelon"),
		MySQLPass: getenv("MYSQL_PASS", "avelon"),

		PostgresDSN: os.Getenv("POSTGRES_DSN"),

		RedisAddr:    getenv("REDIS_ADDR", "redis:6379"),
		RedisDB:      getint("REDIS_DB", 0),
		IdempTTLSecs: getint("IDEMPOTENCY_TTL_SECONDS", 300),

		EthRPCURL:        os.Getenv("ETH_RPC_URL"),
		EthConfirmations: uint64(getint("ETH_CONFIRMATIONS", 12)),
		EscrowAddress:    os.Getenv("ESCROW_ADDRESS"),
		TreasuryAddress:  os.Getenv("TREASURY_ADDRESS"),
		EthPriceUSD:      getenv("ETH_PRICE_USD", "2500"),

		KafkaTopic: getenv("KAFKA_TOPIC", "avelon.loan-events"),

		Thresholds: loanmath.Thresholds{
			MinCollateralRatioBps:     getbps("MIN_COLLATERAL_RATIO_BPS", 12000),
			WarningCollateralRatioBps: getbps("WARNING_COLLATERAL_RATIO_BPS", 13000),
			LiquidationPenaltyBps:     getbps("LIQUIDATION_PENALTY_BPS", 500),
		},

		RiskSweepSchedule: getenv("RISK_SWEEP_SCHEDULE", "@every 5m"),
		AutoLiquidate:     getbool("AUTO_LIQUIDATE"),
		ExpireOverdue:     getbool("EXPIRE_OVERDUE"),
	}
	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			c.KafkaBrokers = append(c.KafkaBrokers, b)
		}
	}
	return c
}

func (c *Config) Validate() error {
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.RiskSweepSchedule); err != nil {
		return fmt.Errorf("invalid RISK_SWEEP_SCHEDULE %q: %w", c.RiskSweepSchedule, err)
	}
	for k, addr := range map[string]string{"ESCROW_ADDRESS": c.EscrowAddress, "TREASURY_ADDRESS": c.TreasuryAddress} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s %q", k, addr)
		}
	}

	switch c.LedgerStore {
	case StoreMemory:
		return nil
	case StoreSQL:
	default:
		return fmt.Errorf("invalid LEDGER_STORE %q (want %s or %s)", c.LedgerStore, StoreSQL, StoreMemory)
	}
	switch c.DBDriver {
	case DriverMySQL:
		if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
			return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
		}
		if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("missing POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("invalid DB_DRIVER %q (want %s or %s)", c.DBDriver, DriverMySQL, DriverPostgres)
	}
	return nil
}

func (c *Config) Development() bool { return c.AppEnv == "development" }

func (c *Config) IdempotencyTTL() time.Duration { return time.Duration(c.IdempTTLSecs) * time.Second }

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// parseTime is needed for DATETIME columns
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&charset=utf8mb4",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == DriverPostgres {
		return c.PostgresDSN
	}
	return c.MySQLDSN()
}
