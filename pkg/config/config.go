package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Config представляет конфигурацию шлюза. Структура содержит вложенные структуры для различных компонентов приложения.
type Config struct {
	Server       ServerConfig    `json:"server" yaml:"server"`
	Backend      BackendConfig   `json:"backend" yaml:"backend"`
	Cache        CacheConfig     `json:"cache" yaml:"cache"`
	Logger       LoggerConfig    `json:"logger" yaml:"logger"`
	RabbitMQ     RabbitMQConfig  `json:"rabbitmq" yaml:"rabbitmq"`
	RateLimiting RateLimitConfig `json:"rate_limiting" yaml:"rate_limiting"`
	Environment  string          `json:"environment" yaml:"environment"`
}

// RateLimitConfig представляет конфигурацию Rate Limiting
// Нулевое значение отключает ограничение
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
}

// ServerConfig представляет конфигурацию HTTP-сервера
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// BackendConfig представляет конфигурацию хранилища документов
// Mode выбирает реализацию: live (живая документная база), memory (эмуляция
// в памяти) или postgres
type BackendConfig struct {
	Mode     string         `json:"mode" yaml:"mode"`
	CouchDB  CouchDBConfig  `json:"couchdb" yaml:"couchdb"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// CouchDBConfig представляет параметры подключения к живому бэкенду
type CouchDBConfig struct {
	URL      string        `json:"url" yaml:"url"`
	Username string        `json:"username" yaml:"username"`
	Password string        `json:"password" yaml:"password"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// PostgresConfig представляет параметры подключения к PostgreSQL
type PostgresConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Name     string `json:"name" yaml:"name"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
}

// CacheConfig представляет конфигурацию кэша тенант-контекста
// При пустом Redis.Addr используется кэш в памяти процесса
type CacheConfig struct {
	TTL   time.Duration `json:"ttl" yaml:"ttl"`
	Redis RedisConfig   `json:"redis" yaml:"redis"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	Password    string `json:"password" yaml:"password"`
	DB          int    `json:"db" yaml:"db"`
	PoolSize    int    `json:"pool_size" yaml:"pool_size"`
	MinIdleConn int    `json:"min_idle_conn" yaml:"min_idle_conn"`
}

// LoggerConfig представляет конфигурацию логгера. Определяет уровень логирования и формат вывода логов.
type LoggerConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// RabbitMQConfig представляет конфигурацию RabbitMQ
// При пустом URL события изменений не публикуются
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Exchange   string `json:"exchange" yaml:"exchange"`
	RoutingKey string `json:"routing_key" yaml:"routing_key"`
}

// LoadConfig загружает конфигурацию в следующем порядке приоритета:
// 1. Загрузка значений по умолчанию
// 2. Загрузка из файла (если указан)
// 3. Переопределение значениями из переменных окружения
// 4. Валидация конфигурации
// Возвращает готовую конфигурацию или ошибку.
func LoadConfig(configFile string) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Backend: BackendConfig{
			Mode: "memory",
			CouchDB: CouchDBConfig{
				URL:     "http://localhost:5984",
				Timeout: 30 * time.Second,
			},
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				Name:    "docgateway",
				User:    "docgateway",
				SSLMode: "disable",
			},
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
			Redis: RedisConfig{
				PoolSize:    10,
				MinIdleConn: 2,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:   "doc-gateway",
			RoutingKey: "doc.changes",
		},
		Environment: "dev",
	}

	// Load from file if specified
	if configFile != "" {
		if err := loadConfigFromFile(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Load from environment variables
	if err := loadConfigFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadConfigFromFile(config *Config, filename string) error {
	// Expand environment variables in the file path
	filename = os.ExpandEnv(filename)

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", filename)
	}

	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	// Try to unmarshal as YAML first, then JSON
	if err := yaml.Unmarshal(content, config); err != nil {
		if jsonErr := json.Unmarshal(content, config); jsonErr != nil {
			return fmt.Errorf("failed to unmarshal config file as YAML or JSON: %w", err)
		}
	}

	return nil
}

func loadConfigFromEnv(config *Config) error {
	// Server config
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &config.Server.Port); err != nil {
			return fmt.Errorf("invalid SERVER_PORT: %s", port)
		}
	}

	// Backend config
	if mode := os.Getenv("BACKEND_MODE"); mode != "" {
		config.Backend.Mode = mode
	}
	if url := os.Getenv("COUCHDB_URL"); url != "" {
		config.Backend.CouchDB.URL = url
	}
	if user := os.Getenv("COUCHDB_USER"); user != "" {
		config.Backend.CouchDB.Username = user
	}
	if password := os.Getenv("COUCHDB_PASSWORD"); password != "" {
		config.Backend.CouchDB.Password = password
	}
	if host := os.Getenv("DATABASE_HOST"); host != "" {
		config.Backend.Postgres.Host = host
	}
	if port := os.Getenv("DATABASE_PORT"); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &config.Backend.Postgres.Port); err != nil {
			return fmt.Errorf("invalid DATABASE_PORT: %s", port)
		}
	}
	if name := os.Getenv("DATABASE_NAME"); name != "" {
		config.Backend.Postgres.Name = name
	}
	if user := os.Getenv("DATABASE_USER"); user != "" {
		config.Backend.Postgres.User = user
	}
	if password := os.Getenv("DATABASE_PASSWORD"); password != "" {
		config.Backend.Postgres.Password = password
	}

	// Cache config
	if ttl := os.Getenv("CACHE_TTL"); ttl != "" {
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("invalid CACHE_TTL: %s", ttl)
		}
		config.Cache.TTL = parsed
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Cache.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Cache.Redis.Password = password
	}

	// RabbitMQ config
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		config.RabbitMQ.URL = url
	}

	// Rate limiting config
	if rpm := os.Getenv("RATE_LIMIT_RPM"); rpm != "" {
		if _, err := fmt.Sscanf(rpm, "%d", &config.RateLimiting.RequestsPerMinute); err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPM: %s", rpm)
		}
	}

	// Logger config
	if level := os.Getenv("LOGGER_LEVEL"); level != "" {
		config.Logger.Level = level
	}
	if format := os.Getenv("LOGGER_FORMAT"); format != "" {
		config.Logger.Format = format
	}

	// Environment
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = env
	}

	return nil
}

func validateConfig(config *Config) error {
	// Проверка корректности окружения. Поддерживаются только: dev, staging, prod
	switch config.Environment {
	case "dev", "staging", "prod":
		// Valid environment
	default:
		return fmt.Errorf("invalid environment: %s, must be one of: dev, staging, prod", config.Environment)
	}

	// Валидация конфигурации сервера
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Валидация конфигурации бэкенда: режим определяет обязательные поля
	switch config.Backend.Mode {
	case "memory":
		// Эмуляция не требует подключения
	case "live":
		if config.Backend.CouchDB.URL == "" {
			return fmt.Errorf("backend.couchdb.url is required for live mode")
		}
	case "postgres":
		if config.Backend.Postgres.Host == "" {
			return fmt.Errorf("backend.postgres.host is required for postgres mode")
		}
		if config.Backend.Postgres.Port <= 0 || config.Backend.Postgres.Port > 65535 {
			return fmt.Errorf("backend.postgres.port must be between 1 and 65535")
		}
		if config.Backend.Postgres.Name == "" {
			return fmt.Errorf("backend.postgres.name is required for postgres mode")
		}
		if config.Backend.Postgres.User == "" {
			return fmt.Errorf("backend.postgres.user is required for postgres mode")
		}
	default:
		return fmt.Errorf("invalid backend.mode: %s, must be one of: memory, live, postgres", config.Backend.Mode)
	}

	// Валидация кэша
	if config.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	// Валидация конфигурации логгера
	if config.Logger.Level == "" {
		return fmt.Errorf("logger.level is required")
	}
	if config.Logger.Format == "" {
		return fmt.Errorf("logger.format is required")
	}

	return nil
}

// Save сохраняет конфигурацию в файл в формате YAML.
// Автоматически создает директорию, если она не существует.
func (c *Config) Save(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	content, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, content, 0644)
}
