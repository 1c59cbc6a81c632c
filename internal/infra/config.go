package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации движка и консоли.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Tickets  TicketsConfig  `mapstructure:"tickets"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и Cache).
// Пустой Addr — одноинстансный режим без Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// EngineConfig — параметры Decision-пайплайна.
type EngineConfig struct {
	// Путь к yaml с переопределениями дефолтного ruleset (пусто — дефолты)
	RulesetPath string `mapstructure:"ruleset_path"`

	// Дефолтные лимиты бюджета для агентов без переопределений
	BudgetLimitUSD float64 `mapstructure:"budget_limit_usd"`
	BudgetPeriod   string  `mapstructure:"budget_period"` // daily | monthly

	// SLA-дедлайны эскалаций
	SLAStandard time.Duration `mapstructure:"sla_standard"`
	SLADeletion time.Duration `mapstructure:"sla_deletion"`

	// Период фонового sweep'а таймаутов и опроса тикетов
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Целевой autonomy rate и окно/период его пересчета
	AutonomyTarget   float64       `mapstructure:"autonomy_target"`
	AutonomyWindow   time.Duration `mapstructure:"autonomy_window"`
	AutonomyInterval time.Duration `mapstructure:"autonomy_interval"`

	// TTL кэша аттестации namespace
	AttestationTTL time.Duration `mapstructure:"attestation_ttl"`

	// Буфер телеметрии
	TelemetryBufferSize    int           `mapstructure:"telemetry_buffer_size"`
	TelemetryBatchSize     int           `mapstructure:"telemetry_batch_size"`
	TelemetryFlushInterval time.Duration `mapstructure:"telemetry_flush_interval"`

	// Настройки Circuit Breaker тикет-коннектора
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// TicketsConfig — внешняя тикет-система (пустой URL — mock).
type TicketsConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	// Если нет — читаем файл по указанному пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")

	v.SetDefault("engine.budget_limit_usd", 1000.0)
	v.SetDefault("engine.budget_period", "daily")
	v.SetDefault("engine.sla_standard", 4*time.Hour)
	v.SetDefault("engine.sla_deletion", 1*time.Hour)
	v.SetDefault("engine.sweep_interval", 30*time.Second)
	v.SetDefault("engine.autonomy_target", 0.80)
	v.SetDefault("engine.autonomy_window", 24*time.Hour)
	v.SetDefault("engine.autonomy_interval", 1*time.Minute)
	v.SetDefault("engine.attestation_ttl", 1*time.Minute)
	v.SetDefault("engine.telemetry_buffer_size", 10000)
	v.SetDefault("engine.telemetry_batch_size", 100)
	v.SetDefault("engine.telemetry_flush_interval", 500*time.Millisecond)
}

// loadKeyResource — универсальный хелпер архитектора
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
