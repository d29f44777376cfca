package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	EventBus EventBusConfig `mapstructure:"eventbus"`
	Gateway  GatewayConfig
	Backtest BacktestConfig
}

type ServerConfig struct {
	Port    string
	AppName string `mapstructure:"app_name"`
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	TimeZone    string
	TablePrefix string `mapstructure:"table_prefix"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EventBusConfig struct {
	Workers       int `mapstructure:"workers"`
	BufferSize    int `mapstructure:"buffer_size"`
	TimerInterval int `mapstructure:"timer_interval"` // seconds
}

type GatewayConfig struct {
	Name   string
	Key    string
	Secret string
	// 周期性补查间隔，单位秒
	OrderSyncInterval   int `mapstructure:"order_sync_interval"`
	TimeSyncInterval    int `mapstructure:"time_sync_interval"`
	AccountSyncInterval int `mapstructure:"account_sync_interval"`
}

type BacktestConfig struct {
	Capital        float64 `mapstructure:"capital"`
	Slippage       float64 `mapstructure:"slippage"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	Size           float64 `mapstructure:"size"`
}

func LoadConfig() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")        // 在当前目录中查找配置
	viper.AddConfigPath("./config") // 在 config 目录中查找配置

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("eventbus.workers", 1)
	viper.SetDefault("eventbus.buffer_size", 1000)
	viper.SetDefault("eventbus.timer_interval", 1)
	viper.SetDefault("gateway.order_sync_interval", 600)
	viper.SetDefault("gateway.time_sync_interval", 300)
	viper.SetDefault("gateway.account_sync_interval", 120)
	viper.SetDefault("backtest.capital", 1000000)
	viper.SetDefault("backtest.size", 1)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Error reading config file, %s", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	return &config
}
