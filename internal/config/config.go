package config

import (
	"os"
	"strconv"
	"time"
)

type RedisConfig struct {
	Addr        string
	Password    string
	User        string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
}

func GetDBURL() string {
	dbURL := os.Getenv("DATABASE_URL")
	return dbURL
}

func GetRedisConfig() RedisConfig {
	cfg := RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		User:     os.Getenv("REDIS_USER"),
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DB = n
		}
	}
	return cfg
}

func GetListenAddr() string {
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return addr
}

func GetDeliveryQueue() string {
	queue := os.Getenv("DELIVERY_QUEUE")
	if queue == "" {
		queue = "webhook:deliveries"
	}
	return queue
}
