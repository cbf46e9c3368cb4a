package services

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
)

// NotifyService 计算红点数据并推送给用户的所有连接
type NotifyService struct {
	friends *FriendService
	manager *WebSocketManager

	jobs    chan int64
	workers int

	// 已在队列中的用户，重复的推送请求合并为一次
	mu      sync.Mutex
	pending map[int64]bool
	running bool
}

// NewNotifyService 创建通知服务
func NewNotifyService(friends *FriendService, manager *WebSocketManager, workers, queueSize int) *NotifyService {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &NotifyService{
		friends: friends,
		manager: manager,
		jobs:    make(chan int64, queueSize),
		workers: workers,
		pending: make(map[int64]bool),
	}
}

// RedDot 汇总用户的好友申请和未读消息
func (s *NotifyService) RedDot(ctx context.Context, userID int64) (*models.RedDotData, error) {
	requests, err := s.friends.PendingRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	friends, err := s.friends.ListFriends(ctx, userID)
	if err != nil {
		return nil, err
	}

	data := &models.RedDotData{RedDotList: make([]models.RedDotItem, 0, len(requests)+len(friends))}
	for _, req := range requests {
		data.RedDotList = append(data.RedDotList, models.RedDotItem{
			Type:     models.RedDotFriendRequest,
			ID:       req.FID,
			FromID:   req.FromID,
			FromName: req.FromName,
			Count:    1,
		})
		data.TotalCount++
	}
	for _, f := range friends {
		if f.UnreadCount == 0 {
			continue
		}
		data.RedDotList = append(data.RedDotList, models.RedDotItem{
			Type:     models.RedDotChat,
			ID:       f.FriendID,
			FromID:   f.FriendID,
			FromName: f.FriendName,
			Count:    f.UnreadCount,
		})
		data.TotalCount += f.UnreadCount
	}
	sort.SliceStable(data.RedDotList, func(i, j int) bool {
		a, b := data.RedDotList[i], data.RedDotList[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return data, nil
}

// Push 立即重新计算并推送，用户离线时跳过
func (s *NotifyService) Push(ctx context.Context, userID int64) error {
	if !s.manager.IsOnline(userID) {
		return nil
	}
	data, err := s.RedDot(ctx, userID)
	if err != nil {
		return err
	}
	s.manager.SendTo(userID, models.NewReply("", "replyNotifyRedDotData", models.CodeOK, data))
	return nil
}

// Notify 异步推送红点，Run未启动时同步执行
func (s *NotifyService) Notify(userIDs ...int64) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	for _, id := range userIDs {
		if id <= 0 {
			continue
		}
		if !running {
			if err := s.Push(context.Background(), id); err != nil {
				logger.L().Warn("推送红点失败", zap.Int64("userId", id), zap.Error(err))
			}
			continue
		}

		s.mu.Lock()
		if s.pending[id] {
			s.mu.Unlock()
			continue
		}
		s.pending[id] = true
		s.mu.Unlock()

		select {
		case s.jobs <- id:
		default:
			s.mu.Lock()
			delete(s.pending, id)
			s.mu.Unlock()
			logger.L().Warn("红点推送队列已满，丢弃", zap.Int64("userId", id))
		}
	}
}

// Run 启动推送协程，ctx取消后退出
func (s *NotifyService) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-s.jobs:
					// 先移出合并集合，计算期间的新变更会再次入队
					s.mu.Lock()
					delete(s.pending, id)
					s.mu.Unlock()
					if err := s.Push(ctx, id); err != nil {
						logger.L().Warn("推送红点失败", zap.Int64("userId", id), zap.Error(err))
					}
				}
			}
		}()
	}
	wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
