package services

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const (
	// Redis键名，field为用户ID，value为该用户在所有节点上的连接数
	keyOnlineUsers = "landrop:online"
)

// Presence 跨节点的在线状态
type Presence interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
	OnlineUsers(ctx context.Context) ([]int64, error)
}

// 计数减到0时删除field，保证在线集合里没有残留
var offlineScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return n
`)

// RedisPresence 基于Redis哈希的在线状态
type RedisPresence struct {
	rdb *redis.Client
	key string
}

// NewRedisPresence 创建Redis在线状态
func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb, key: keyOnlineUsers}
}

// Online 连接数加一
func (p *RedisPresence) Online(ctx context.Context, userID int64) error {
	if err := p.rdb.HIncrBy(ctx, p.key, strconv.FormatInt(userID, 10), 1).Err(); err != nil {
		return errors.Wrap(err, "记录在线状态失败")
	}
	return nil
}

// Offline 连接数减一
func (p *RedisPresence) Offline(ctx context.Context, userID int64) error {
	if err := offlineScript.Run(ctx, p.rdb, []string{p.key}, strconv.FormatInt(userID, 10)).Err(); err != nil {
		return errors.Wrap(err, "清除在线状态失败")
	}
	return nil
}

// IsOnline 查询用户是否在任意节点在线
func (p *RedisPresence) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := p.rdb.HGet(ctx, p.key, strconv.FormatInt(userID, 10)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "查询在线状态失败")
	}
	return n > 0, nil
}

// OnlineUsers 所有在线用户ID
func (p *RedisPresence) OnlineUsers(ctx context.Context) ([]int64, error) {
	fields, err := p.rdb.HKeys(ctx, p.key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "获取在线用户失败")
	}
	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
