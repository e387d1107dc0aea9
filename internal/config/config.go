// Package config предоставляет структуры и функцию для парсинга и загрузки конфига.
//
// Вся конфигурация движка (длительности пробного периода и подписки, цена,
// список прокси-серверов, секреты) передаётся явной структурой в конструкторы,
// процесс-уровневых изменяемых синглтонов нет.
package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RabbitMQ                `yaml:"rabbitmq"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	ServiceToken            `yaml:"service_token"`
	Subscription            `yaml:"subscription"`
	Proxy                   `yaml:"proxy"`
	Payment                 `yaml:"payment"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP   string        `yaml:"addresshttp" env-default:"0.0.0.0:8080"`
	TimeoutHTTP   time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" env-default:"60s"`
	PrecheckRPS   float64       `yaml:"precheck_rps" env-default:"10"`
	PrecheckBurst int           `yaml:"precheck_burst" env-default:"20"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ структура для настройки подключения к брокеру событий.
// Пустой URL отключает публикацию событий.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// ServiceToken структура для проверки сервисных JWT от шлюза бота.
type ServiceToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"15m"`
}

// Subscription параметры жизненного цикла доступа.
type Subscription struct {
	TrialDuration        time.Duration `yaml:"trial_duration" env-default:"24h"`
	SubscriptionDuration time.Duration `yaml:"subscription_duration" env-default:"720h"`
}

// Payment ожидаемая цена подписки. Сумма в минорных единицах валюты.
type Payment struct {
	PriceAmount   int64  `yaml:"price_amount" env-default:"500"`
	PriceCurrency string `yaml:"price_currency" env-default:"USD"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// Proxy список прокси-серверов в формате host:port. Порядок списка
// определяет порядок выдачи учётных данных пользователю.
type Proxy struct {
	Servers []string `yaml:"servers"`
}

// Endpoint один прокси-сервер из конфигурации. ID стабилен и служит
// ключом учётных данных.
type Endpoint struct {
	ID   string
	Host string
	Port int
}

// Endpoints разбирает список серверов в упорядоченный список Endpoint.
func (p Proxy) Endpoints() ([]Endpoint, error) {
	const op = "config.Endpoints"

	endpoints := make([]Endpoint, 0, len(p.Servers))
	for _, s := range p.Servers {
		host, portStr, err := net.SplitHostPort(s)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid proxy server %q: %w", op, s, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid proxy port in %q: %w", op, s, err)
		}
		endpoints = append(endpoints, Endpoint{ID: s, Host: host, Port: port})
	}
	return endpoints, nil
}

// MustLoad функция для загрузки конфига из файла, указанного в CONFIG_PATH.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if _, err := cfg.Proxy.Endpoints(); err != nil {
		log.Fatalf("cannot parse proxy servers: %s", err)
	}
	return &cfg
}
