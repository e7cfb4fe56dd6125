package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database，为空时不记录请求历史
	DatabaseURL string

	// 跨设备请求使用的设备 ID
	DeviceID string

	// 聚合
	AggregationInterval time.Duration
	MockLocationEnabled bool

	// 允许的调用方 token，为空表示全部允许
	AllowedTokens []uint32

	// 逆地理编码
	AmapAPIKey           string
	GeocodeCacheTTL      time.Duration
	NominatimMinInterval time.Duration
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:           getEnv("PORT", "4000"),
		Debug:                getEnvBool("DEBUG", false),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		DeviceID:             getEnv("DEVICE_ID", "local"),
		AggregationInterval:  getEnvDuration("AGGREGATION_INTERVAL", time.Second),
		MockLocationEnabled:  getEnvBool("MOCK_LOCATION_ENABLED", false),
		AllowedTokens:        getEnvTokens("ALLOWED_TOKENS"),
		AmapAPIKey:           getEnv("AMAP_API_KEY", ""),
		GeocodeCacheTTL:      getEnvDuration("GEOCODE_CACHE_TTL", 24*time.Hour),
		NominatimMinInterval: getEnvDuration("NOMINATIM_MIN_INTERVAL", time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvTokens 解析逗号分隔的 token 列表，无法解析的项被忽略
func getEnvTokens(key string) []uint32 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var tokens []uint32
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			continue
		}
		tokens = append(tokens, uint32(n))
	}
	return tokens
}
