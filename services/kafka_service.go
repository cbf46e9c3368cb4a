package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"landrop/config"
	"landrop/logger"
)

// KafkaService 基于Kafka的跨节点投递，每个节点使用独立的消费者组，所以都能收到全部投递
type KafkaService struct {
	nodeID        string
	asyncProducer sarama.AsyncProducer
	consumer      sarama.ConsumerGroup
	topics        map[string]bool
	topicsMutex   sync.RWMutex
	handlers      map[string]MessageHandler
	handlerMutex  sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *KafkaMetrics
}

// KafkaMetrics 收集Kafka相关指标
type KafkaMetrics struct {
	messagesSent     int64
	messagesReceived int64
	errors           int64
	mu               sync.RWMutex
}

// MessageHandler 消息处理函数类型
type MessageHandler func(message []byte)

// Delivery 跨节点投递的消息
type Delivery struct {
	Origin  string          `json:"origin"`
	UserID  int64           `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

// NewKafkaService 创建Kafka服务
func NewKafkaService(nodeID string) (*KafkaService, error) {
	// 异步生产者，同一个连接上只允许一个请求在途，保证同一用户的投递有序
	asyncConfig := sarama.NewConfig()
	asyncConfig.Producer.RequiredAcks = sarama.WaitForLocal
	asyncConfig.Producer.Compression = sarama.CompressionSnappy
	asyncConfig.Producer.Flush.Frequency = 20 * time.Millisecond
	asyncConfig.Producer.Flush.MaxMessages = 10
	asyncConfig.Producer.Return.Successes = true
	asyncConfig.Producer.Return.Errors = true
	asyncConfig.Net.MaxOpenRequests = 1
	asyncConfig.Version = sarama.V2_5_0_0

	asyncProducer, err := sarama.NewAsyncProducer(config.AppConfig.KafkaBootstrapServers, asyncConfig)
	if err != nil {
		return nil, errors.Wrap(err, "创建Kafka异步生产者失败")
	}

	// 创建消费者配置
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetNewest // 只投递在线期间的消息
	consumerConfig.Consumer.Offsets.AutoCommit.Enable = true
	consumerConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
	consumerConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(), // 轮询
	}
	consumerConfig.Version = sarama.V2_5_0_0

	group := fmt.Sprintf("%s-%s", config.AppConfig.KafkaConsumerGroup, nodeID)
	consumer, err := sarama.NewConsumerGroup(config.AppConfig.KafkaBootstrapServers, group, consumerConfig)
	if err != nil {
		asyncProducer.Close()
		return nil, errors.Wrap(err, "创建Kafka消费者组失败")
	}

	ctx, cancel := context.WithCancel(context.Background())
	service := &KafkaService{
		nodeID:        nodeID,
		asyncProducer: asyncProducer,
		consumer:      consumer,
		topics:        make(map[string]bool),
		handlers:      make(map[string]MessageHandler),
		ctx:           ctx,
		cancel:        cancel,
		metrics:       &KafkaMetrics{},
	}

	// 处理异步生产者的成功和错误回调
	go service.handleAsyncProducerResponses()

	// 处理消费者错误
	go service.handleConsumerErrors()

	return service, nil
}

// 处理异步生产者的响应
func (s *KafkaService) handleAsyncProducerResponses() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case success := <-s.asyncProducer.Successes():
			if success != nil {
				s.metrics.add(&s.metrics.messagesSent)
			}
		case err := <-s.asyncProducer.Errors():
			if err != nil {
				s.metrics.add(&s.metrics.errors)
				logger.L().Warn("发送Kafka消息失败", zap.String("topic", err.Msg.Topic), zap.Error(err.Err))
			}
		}
	}
}

// 处理消费者错误
func (s *KafkaService) handleConsumerErrors() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case err, ok := <-s.consumer.Errors():
			if !ok {
				return
			}
			s.metrics.add(&s.metrics.errors)
			logger.L().Warn("消费Kafka消息错误", zap.Error(err))
		}
	}
}

func (m *KafkaMetrics) add(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

// Close 关闭Kafka服务
func (s *KafkaService) Close() error {
	s.cancel()

	var errs []error
	if err := s.asyncProducer.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "关闭Kafka异步生产者失败"))
	}
	if err := s.consumer.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "关闭Kafka消费者失败"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭Kafka服务时发生错误: %v", errs)
	}
	return nil
}

// GetMetrics 获取Kafka指标
func (s *KafkaService) GetMetrics() map[string]int64 {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return map[string]int64{
		"messages_sent":     s.metrics.messagesSent,
		"messages_received": s.metrics.messagesReceived,
		"errors":            s.metrics.errors,
	}
}

// EnsureTopicExists 确保主题存在
func (s *KafkaService) EnsureTopicExists(topic string) error {
	s.topicsMutex.RLock()
	exists := s.topics[topic]
	s.topicsMutex.RUnlock()

	if exists {
		return nil
	}

	// 创建管理客户端
	adminConfig := sarama.NewConfig()
	adminConfig.Version = sarama.V2_5_0_0

	admin, err := sarama.NewClusterAdmin(config.AppConfig.KafkaBootstrapServers, adminConfig)
	if err != nil {
		return errors.Wrap(err, "创建Kafka管理客户端失败")
	}
	defer admin.Close()

	// 检查主题是否存在
	topics, err := admin.ListTopics()
	if err != nil {
		return errors.Wrap(err, "获取主题列表失败")
	}

	if _, exists := topics[topic]; !exists {
		topicDetail := &sarama.TopicDetail{
			NumPartitions:     int32(config.AppConfig.KafkaPartitions),
			ReplicationFactor: int16(config.AppConfig.KafkaReplicationFactor),
			ConfigEntries: map[string]*string{
				"retention.ms":   strPtr("3600000"), // 投递只对在线连接有意义，保留1小时
				"cleanup.policy": strPtr("delete"),
			},
		}
		if err := admin.CreateTopic(topic, topicDetail, false); err != nil {
			return errors.Wrap(err, "创建主题失败")
		}
		logger.L().Info("已创建Kafka主题", zap.String("topic", topic))
	}

	s.topicsMutex.Lock()
	s.topics[topic] = true
	s.topicsMutex.Unlock()
	return nil
}

// BuildTopicName 构建主题名称
func (s *KafkaService) BuildTopicName(topicType string, id int) string {
	return fmt.Sprintf("%s%s-%d", config.AppConfig.KafkaTopicPrefix, topicType, id)
}

// PublishDelivery 把发给userID的消息转发给其他节点，按用户ID分区
func (s *KafkaService) PublishDelivery(ctx context.Context, userID int64, payload []byte) error {
	topic := s.BuildTopicName("deliver", 0)
	value, err := json.Marshal(Delivery{Origin: s.nodeID, UserID: userID, Payload: payload})
	if err != nil {
		return errors.Wrap(err, "序列化投递消息失败")
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(strconv.FormatInt(userID, 10)),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	select {
	case s.asyncProducer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("Kafka服务已关闭")
	}
}

// StartRelay 消费投递主题并投递到本节点的连接
func (s *KafkaService) StartRelay(m *WebSocketManager) error {
	topic := s.BuildTopicName("deliver", 0)
	return s.SubscribeTopic(topic, func(message []byte) {
		var d Delivery
		if err := json.Unmarshal(message, &d); err != nil {
			logger.L().Warn("解析投递消息失败", zap.Error(err))
			return
		}
		m.DeliverRemote(d.Origin, d.UserID, d.Payload)
	})
}

// SubscribeTopic 订阅主题
func (s *KafkaService) SubscribeTopic(topic string, handler MessageHandler) error {
	// 确保主题存在
	if err := s.EnsureTopicExists(topic); err != nil {
		return err
	}

	// 注册处理函数
	s.handlerMutex.Lock()
	s.handlers[topic] = handler
	s.handlerMutex.Unlock()

	// 启动消费者
	go func() {
		handler := &kafkaConsumerHandler{
			service: s,
			topic:   topic,
		}

		for {
			if err := s.consumer.Consume(s.ctx, []string{topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.L().Warn("消费主题失败", zap.String("topic", topic), zap.Error(err))
				select {
				case <-s.ctx.Done():
					return
				case <-time.After(5 * time.Second): // 重试前等待
				}
				continue
			}

			// 检查上下文是否已取消
			if s.ctx.Err() != nil {
				return
			}
		}
	}()

	logger.L().Info("已订阅主题", zap.String("topic", topic))
	return nil
}

// kafkaConsumerHandler 实现sarama.ConsumerGroupHandler接口
type kafkaConsumerHandler struct {
	service *KafkaService
	topic   string
}

// Setup 在消费者会话开始时调用
func (h *kafkaConsumerHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 在消费者会话结束时调用
func (h *kafkaConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 按分区顺序处理消息，同一用户的投递不会乱序
func (h *kafkaConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.service.handlerMutex.RLock()
			handler := h.service.handlers[h.topic]
			h.service.handlerMutex.RUnlock()

			if handler != nil {
				h.handle(handler, message)
			}

			// 标记消息为已处理
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *kafkaConsumerHandler) handle(handler MessageHandler, msg *sarama.ConsumerMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("处理消息时发生panic", zap.Any("panic", r))
		}
	}()
	handler(msg.Value)
	h.service.metrics.add(&h.service.metrics.messagesReceived)
}

func strPtr(s string) *string {
	return &s
}
