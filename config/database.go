package config

import (
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

func init() {
	// .env is optional; the DB connection itself waits for main()
	_ = godotenv.Load()
}

// DatabaseDSN builds the MySQL DSN from DB_* env vars.
// DB_HOST of the form "/cloudsql/<CONNECTION_NAME>" switches to a unix socket.
func DatabaseDSN() string {
	cfg := mysqldrv.NewConfig()
	cfg.User = os.Getenv("DB_USER")
	cfg.Passwd = os.Getenv("DB_PASSWORD")
	cfg.DBName = os.Getenv("DB_NAME")
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true

	host := os.Getenv("DB_HOST")
	if strings.HasPrefix(host, "/cloudsql/") {
		cfg.Net = "unix"
		cfg.Addr = host
	} else {
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, os.Getenv("DB_PORT"))
	}
	return cfg.FormatDSN()
}

// ConnectDatabaseWithRetry connects and sets the global DB.
// Call this from main() AFTER the HTTP server is listening.
func ConnectDatabaseWithRetry() {
	dsn := DatabaseDSN()
	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(mysql.Open(dsn), initConfig())
		if err == nil {
			tunePool(conn)
			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			db = conn
			log.Printf("connected to database (attempt=%d)", attempt)
			return
		}

		sleep := RetryBackoff(attempt)
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

// tunePool applies DB_MAX_OPEN_CONNS (50), DB_MAX_IDLE_CONNS (25),
// DB_CONN_MAX_LIFETIME_SECONDS (300) and DB_CONN_MAX_IDLE_TIME_SECONDS (60).
func tunePool(conn *gorm.DB) {
	sqlDB, err := conn.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if n := intFromEnv("DB_MAX_OPEN_CONNS", 50); n > 0 {
		sqlDB.SetMaxOpenConns(n)
	}
	if n := intFromEnv("DB_MAX_IDLE_CONNS", 25); n >= 0 {
		sqlDB.SetMaxIdleConns(n)
	}
	if n := intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300); n > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(n) * time.Second)
	}
	if n := intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60); n > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(n) * time.Second)
	}
}

// RetryBackoff doubles per attempt starting at 2s, capped at 30s.
func RetryBackoff(attempt int) time.Duration {
	sleep := time.Second * time.Duration(1<<min(attempt, 5))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func initLog() logger.Interface {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
	return newLogger
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
