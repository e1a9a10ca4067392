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
	RewardNotify string `mapstructure:"reward_notify"`
}

// BusinessConfig 积分业务参数
type BusinessConfig struct {
	// 兑换汇率：1 积分兑换多少最小货币单位（分）
	RedeemRateCents int64  `mapstructure:"redeem_rate_cents"`
	RedeemCurrency  string `mapstructure:"redeem_currency"`

	// 积分有效期（天），入账时写入 expires_at
	PointsExpireDays int `mapstructure:"points_expire_days"`

	// 风控阈值
	FraudMaxRedemptionsPerHour int   `mapstructure:"fraud_max_redemptions_per_hour"`
	FraudMaxDailyPoints        int64 `mapstructure:"fraud_max_daily_points"`

	// 乐观锁冲突最大重试次数
	MaxRetryCount int `mapstructure:"max_retry_count"`
	// 消息发送最大重试次数
	OutboxMaxRetryCount int `mapstructure:"outbox_max_retry_count"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 业务参数默认值，配置文件可覆盖
	viper.SetDefault("business.redeem_rate_cents", 1)
	viper.SetDefault("business.redeem_currency", "INR")
	viper.SetDefault("business.points_expire_days", 365)
	viper.SetDefault("business.fraud_max_redemptions_per_hour", 5)
	viper.SetDefault("business.fraud_max_daily_points", 1000)
	viper.SetDefault("business.max_retry_count", 3)
	viper.SetDefault("business.outbox_max_retry_count", 3)

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
