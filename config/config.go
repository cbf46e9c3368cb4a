package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"landrop/logger"
)

// AppConfig 应用配置
var AppConfig struct {
	// 服务器配置
	Port           string
	Mode           string // debug 或 release
	AppName        string
	LogLevel       string
	NodeID         string // 集群节点ID，为空时启动时随机生成
	MaxConnections int    // 最大WebSocket连接数，0表示不限制
	ConfigFile     string // 可选的YAML配置文件

	// 令牌配置
	JWTSecret        string
	TokenXORKey      string
	TokenExpiryHours int
	TokenIssuer      string

	// 用户配置
	AdminID       int64
	AdminPassword string

	// 数据库配置
	DBDriver           string // sqlite 或 mysql
	DBConnectionString string
	DBMaxIdleConns     int
	DBMaxOpenConns     int

	// Redis配置（在线状态、缓存、限流）
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// 缓存配置
	CacheExpiration int // 缓存过期时间（秒）

	// 限流配置（每分钟）
	RateLimitAPI int
	RateLimitWS  int

	// Kafka配置（多节点转发）
	KafkaEnabled           bool
	KafkaBootstrapServers  []string
	KafkaConsumerGroup     string
	KafkaTopicPrefix       string
	KafkaPartitions        int
	KafkaReplicationFactor int

	// 消息配置
	ChannelBuffSize  int // 每个连接的发送缓冲
	ChatHistoryLimit int // 单个会话最多返回的聊天记录数，0表示全部
	NotifyWorkers    int
	NotifyQueueSize  int
}

// LoadConfig 依次从.env文件、YAML配置文件和环境变量加载配置
func LoadConfig() {
	// 尝试加载.env文件
	if err := godotenv.Load(); err != nil {
		logger.L().Info("未找到.env文件，将使用环境变量")
	}

	file := &FileConfig{}
	AppConfig.ConfigFile = os.Getenv("LANDROP_CONFIG")
	if AppConfig.ConfigFile != "" {
		loaded, err := ReadFileConfig(AppConfig.ConfigFile)
		if err != nil {
			logger.L().Warn("读取配置文件失败", zap.String("path", AppConfig.ConfigFile), zap.Error(err))
		} else {
			file = loaded
		}
	}

	// 服务器配置
	AppConfig.Port = getEnv("PORT", file.portOr("4321"))
	AppConfig.Mode = getEnv("MODE", "debug")
	AppConfig.AppName = getEnv("APP_NAME", orString(file.AppName, "LanDrop"))
	AppConfig.LogLevel = getEnv("LOG_LEVEL", orString(file.LogLevel, "info"))
	AppConfig.NodeID = getEnv("NODE_ID", "")
	AppConfig.MaxConnections = getEnvInt("MAX_CONNECTIONS", 10000)

	// 令牌配置
	AppConfig.JWTSecret = getEnv("JWT_SECRET", "KNTWcTMPxMbGPhUZskWn")
	AppConfig.TokenXORKey = getEnv("TOKEN_XOR_KEY", "xmn30241yv413y5b01vy")
	AppConfig.TokenExpiryHours = getEnvInt("TOKEN_EXPIRY_HOURS", orInt(file.TokenExpiryTime, 24))
	AppConfig.TokenIssuer = getEnv("TOKEN_ISSUER", "landrop_client")

	// 用户配置
	AppConfig.AdminID = int64(getEnvInt("ADMIN_ID", 999))
	AppConfig.AdminPassword = getEnv("ADMIN_PASSWORD", "admin@123")

	// 数据库配置
	AppConfig.DBDriver = strings.ToLower(getEnv("DB_DRIVER", "sqlite"))
	AppConfig.DBConnectionString = getEnv("DB_CONNECTION_STRING", "landrop.db")
	AppConfig.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 10)
	AppConfig.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 100)

	// Redis配置
	AppConfig.RedisEnabled = getEnvBool("REDIS_ENABLED", false)
	AppConfig.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	AppConfig.RedisPassword = getEnv("REDIS_PASSWORD", "")
	AppConfig.RedisDB = getEnvInt("REDIS_DB", 0)
	AppConfig.RedisPoolSize = getEnvInt("REDIS_POOL_SIZE", runtime.NumCPU()*10)
	AppConfig.CacheExpiration = getEnvInt("CACHE_EXPIRATION", 300)
	AppConfig.RateLimitAPI = getEnvInt("RATE_LIMIT_API", 120)
	AppConfig.RateLimitWS = getEnvInt("RATE_LIMIT_WS", 30)

	// Kafka配置
	AppConfig.KafkaEnabled = getEnvBool("KAFKA_ENABLED", false)
	AppConfig.KafkaBootstrapServers = strings.Split(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092"), ",")
	AppConfig.KafkaConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", "landrop-group")
	AppConfig.KafkaTopicPrefix = getEnv("KAFKA_TOPIC_PREFIX", "landrop-")
	AppConfig.KafkaPartitions = getEnvInt("KAFKA_PARTITIONS", 3)
	AppConfig.KafkaReplicationFactor = getEnvInt("KAFKA_REPLICATION_FACTOR", 1)

	// 消息配置
	AppConfig.ChannelBuffSize = getEnvInt("CHANNEL_BUFFER_SIZE", 256)
	AppConfig.ChatHistoryLimit = getEnvInt("CHAT_HISTORY_LIMIT", 0)
	AppConfig.NotifyWorkers = getEnvInt("NOTIFY_WORKERS", 4)
	AppConfig.NotifyQueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", 1024)

	logger.L().Info("配置加载完成", zap.String("port", AppConfig.Port), zap.String("db", AppConfig.DBDriver))
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}
