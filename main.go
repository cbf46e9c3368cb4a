package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"landrop/api"
	"landrop/config"
	"landrop/logger"
	"landrop/middleware"
	"landrop/models"
	"landrop/services"
)

func main() {
	// 设置最大处理器数量
	runtime.GOMAXPROCS(runtime.NumCPU())

	// 加载配置
	config.LoadConfig()
	logger.Init(config.AppConfig.LogLevel, config.AppConfig.Mode)
	defer logger.Sync()
	log := logger.L()

	// 连接数据库
	db, err := openDatabase()
	if err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}

	// 自动迁移数据库表结构
	if err := db.AutoMigrate(&models.User{}, &models.Friendship{}, &models.ChatRecord{}); err != nil {
		log.Fatal("数据库迁移失败", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化Redis客户端（在线状态、缓存、限流），未启用时单节点运行
	var rdb *redis.Client
	var presence services.Presence
	if config.AppConfig.RedisEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.RedisAddr,
			Password: config.AppConfig.RedisPassword,
			DB:       config.AppConfig.RedisDB,
			PoolSize: config.AppConfig.RedisPoolSize,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Fatal("Redis连接失败", zap.Error(err))
		}
		presence = services.NewRedisPresence(rdb)
		log.Info("Redis连接成功")
	}

	// 初始化服务
	userService := services.NewUserService(db, rdb)
	if err := userService.EnsureAdmin(ctx, config.AppConfig.AdminID, config.AppConfig.AdminPassword); err != nil {
		log.Fatal("初始化管理员失败", zap.Error(err))
	}
	tokenService := services.NewTokenService(
		config.AppConfig.JWTSecret,
		config.AppConfig.TokenXORKey,
		config.AppConfig.TokenIssuer,
		time.Duration(config.AppConfig.TokenExpiryHours)*time.Hour,
	)
	friendService := services.NewFriendService(db)
	chatService := services.NewChatService(db, config.AppConfig.ChatHistoryLimit)

	// 初始化WebSocket管理器
	wsManager := services.NewWebSocketManager(config.AppConfig.NodeID, config.AppConfig.MaxConnections, presence)
	go wsManager.Run()

	// 初始化Kafka服务（允许失败）
	var kafkaService *services.KafkaService
	if config.AppConfig.KafkaEnabled {
		kafkaService, err = services.NewKafkaService(wsManager.NodeID())
		if err != nil {
			log.Warn("Kafka服务初始化失败，应用将以单节点模式运行", zap.Error(err))
			kafkaService = nil
		} else if err := kafkaService.StartRelay(wsManager); err != nil {
			log.Warn("订阅投递主题失败", zap.Error(err))
		} else {
			wsManager.SetRelay(kafkaService)
		}
	}

	notifyService := services.NewNotifyService(friendService, wsManager, config.AppConfig.NotifyWorkers, config.AppConfig.NotifyQueueSize)
	go notifyService.Run(ctx)

	deviceMonitor := services.NewDeviceMonitor(wsManager, 3*time.Second)
	go deviceMonitor.Run(ctx)

	router := services.NewRouter(wsManager, friendService, chatService, notifyService)

	// 配置文件热更新：令牌有效期和日志级别
	if path := config.AppConfig.ConfigFile; path != "" {
		err := config.WatchFile(ctx, path, func(f *config.FileConfig) {
			if f.TokenExpiryTime > 0 {
				tokenService.SetExpiry(time.Duration(f.TokenExpiryTime) * time.Hour)
			}
			if f.LogLevel != "" {
				logger.SetLevel(f.LogLevel)
			}
			log.Info("配置文件已重新加载", zap.Int("tokenExpiryTime", f.TokenExpiryTime), zap.String("logLevel", f.LogLevel))
		})
		if err != nil {
			log.Warn("监听配置文件失败", zap.String("path", path), zap.Error(err))
		}
	}

	// 创建Gin实例
	if config.AppConfig.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// 配置CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", middleware.TokenHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// 添加限流中间件
	r.Use(middleware.RateLimiter(rdb, config.AppConfig.RateLimitAPI, config.AppConfig.RateLimitWS))

	// 令牌认证
	r.Use(middleware.TokenAuth(tokenService))

	// 注册路由
	api.RegisterRoutes(r, api.Services{
		Users:      userService,
		Tokens:     tokenService,
		Friends:    friendService,
		Chats:      chatService,
		Notifier:   notifyService,
		Router:     router,
		WSManager:  wsManager,
		Kafka:      kafkaService,
		Device:     deviceMonitor,
		BufferSize: config.AppConfig.ChannelBuffSize,
	})

	srv := services.StartServer(r, config.AppConfig.Port)

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭服务器...")

	cancel()
	wsManager.Stop()
	if kafkaService != nil {
		if err := kafkaService.Close(); err != nil {
			log.Warn("关闭Kafka服务失败", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("服务器强制关闭", zap.Error(err))
	}
	if rdb != nil {
		rdb.Close()
	}

	log.Info("服务器已优雅关闭")
}

// openDatabase 根据配置连接sqlite或mysql
func openDatabase() (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true, // 缓存预编译语句
	}
	if config.AppConfig.Mode == "release" {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	dsn := config.AppConfig.DBConnectionString
	var dialector gorm.Dialector
	switch config.AppConfig.DBDriver {
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	// 配置数据库连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if config.AppConfig.DBDriver == "mysql" {
		sqlDB.SetMaxIdleConns(config.AppConfig.DBMaxIdleConns)
		sqlDB.SetMaxOpenConns(config.AppConfig.DBMaxOpenConns)
	} else {
		// sqlite只允许一个写连接
		sqlDB.SetMaxOpenConns(1)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}
