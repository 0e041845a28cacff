package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		Addr         string `yaml:"addr"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		PoolSize     int    `yaml:"pool_size"`
		MinIdleConns int    `yaml:"min_idle_conns"`
	} `yaml:"redis"`

	NATS struct {
		URL string `yaml:"url"` // 留空時停用事件發佈
	} `yaml:"nats"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig 讀取 YAML 配置檔並套用預設值
func LoadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 - path 來自啟動參數
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return config, nil
}

// defaultConfig 本地開發用的預設值
func defaultConfig() *Config {
	config := &Config{}

	config.Server.Port = 8080
	config.Server.ReadTimeout = 15 * time.Second
	config.Server.WriteTimeout = 15 * time.Second

	config.Postgres.Host = "localhost"
	config.Postgres.Port = 5432
	config.Postgres.User = "postgres"
	config.Postgres.Password = "password"
	config.Postgres.DBName = "matchmaking"
	config.Postgres.MaxConns = 10
	config.Postgres.MinConns = 2

	config.Redis.Addr = "localhost:6379"
	config.Redis.PoolSize = 10
	config.Redis.MinIdleConns = 5

	config.Log.Level = "info"
	config.Log.Format = "text"

	return config
}

// PostgresDSN 生成 PostgreSQL 連線字串
//
// URL 形式，pgxpool 與 golang-migrate 都接受。
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}
