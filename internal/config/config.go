package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	BidResult    string `mapstructure:"bid_result"`
	Notification string `mapstructure:"notification"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"` // WebSocket 连接认证用 HS256 密钥
}

type BusinessConfig struct {
	HighValueBidPence       int64 `mapstructure:"high_value_bid_pence"`       // 高额出价通知阈值（便士）
	PartyMaxDurationMinutes int   `mapstructure:"party_max_duration_minutes"` // 派对最长持续时间，超时自动结束
	MaxRetryCount           int   `mapstructure:"max_retry_count"`            // 发件箱消息最大重试次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
