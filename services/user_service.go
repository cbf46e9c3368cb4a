package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"landrop/config"
	"landrop/logger"
	"landrop/models"
)

// UserService 用户服务，rdb为nil时不使用缓存
type UserService struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB, rdb *redis.Client) *UserService {
	return &UserService{
		db:  db,
		rdb: rdb,
	}
}

// CreateUserInput 创建用户的参数
type CreateUserInput struct {
	Name     string `json:"name"`
	NickName string `json:"nickName"`
	Pwd      string `json:"pwd"`
	Role     string `json:"role"`
	Avatar   string `json:"avatar"`
	IP       string `json:"ip"`
}

// EnsureAdmin 首次启动时创建管理员账号
func (s *UserService) EnsureAdmin(ctx context.Context, adminID int64, password string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", adminID).Count(&count).Error; err != nil {
		return errors.Wrap(err, "查询管理员失败")
	}
	if count > 0 {
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "密码加密失败")
	}
	admin := models.User{
		ID:       adminID,
		Name:     "admin",
		NickName: "管理员",
		Pwd:      string(hashed),
		Role:     models.RoleAdminPlus,
		Active:   true,
	}
	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		return errors.Wrap(err, "创建管理员失败")
	}
	logger.L().Info("已创建管理员账号", zap.Int64("id", adminID))
	return nil
}

// CreateUser 创建用户
func (s *UserService) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.Pwd == "" {
		return nil, ValidationError("用户名和密码不能为空")
	}
	if strings.Contains(in.Name, "#") {
		return nil, ValidationError("用户名不能包含#")
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	if !models.ValidRole(in.Role) {
		return nil, ValidationError("无效的角色")
	}
	if in.NickName == "" {
		in.NickName = in.Name
	}

	// 检查用户名是否已存在
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("name = ?", in.Name).Count(&count).Error; err != nil {
		return nil, errors.Wrap(err, "查询用户失败")
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	// 哈希密码
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Pwd), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "密码加密失败")
	}

	user := models.User{
		Name:     in.Name,
		NickName: in.NickName,
		Avatar:   in.Avatar,
		Pwd:      string(hashed),
		Role:     in.Role,
		IP:       in.IP,
		Active:   true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, errors.Wrap(err, "创建用户失败")
	}
	return &user, nil
}

// Login 用户登录，已解绑的用户不能登录
func (s *UserService) Login(ctx context.Context, name, password string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "查询用户失败")
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}

	// 比较密码
	if err := bcrypt.CompareHashAndPassword([]byte(user.Pwd), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// GetUserByID 根据ID获取用户，先查缓存
func (s *UserService) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	key := userCacheKey(id)

	if s.rdb != nil {
		userJSON, err := s.rdb.Get(ctx, key).Result()
		if err == nil {
			// 缓存命中
			if err := json.Unmarshal([]byte(userJSON), &user); err == nil {
				return &user, nil
			}
		}
	}

	// 从数据库获取
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithMessage(ErrNotFound, "用户不存在")
		}
		return nil, errors.Wrap(err, "查询用户失败")
	}

	// 更新缓存
	if s.rdb != nil {
		userBytes, _ := json.Marshal(user)
		s.rdb.Set(ctx, key, userBytes, time.Duration(config.AppConfig.CacheExpiration)*time.Second)
	}
	return &user, nil
}

// ListUsers 所有用户
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users := make([]models.User, 0)
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "查询用户列表失败")
	}
	return users, nil
}

// UpdateUserInfo 修改昵称和头像，好友列表在读取时关联用户表，无需同步
func (s *UserService) UpdateUserInfo(ctx context.Context, id int64, nickName, avatar string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithMessage(ErrNotFound, "用户不存在")
		}
		return nil, errors.Wrap(err, "查询用户失败")
	}

	if nickName != "" {
		user.NickName = nickName
	}
	if avatar != "" {
		user.Avatar = avatar
	}
	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		return nil, errors.Wrap(err, "更新用户信息失败")
	}

	s.invalidate(ctx, id)
	return &user, nil
}

// UpdateIP 记录用户最近一次连接的IP
func (s *UserService) UpdateIP(ctx context.Context, id int64, ip string) error {
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("ip", ip).Error; err != nil {
		return errors.Wrap(err, "更新用户IP失败")
	}
	s.invalidate(ctx, id)
	return nil
}

// UnbindUser 解绑用户，管理员账号不能解绑
func (s *UserService) UnbindUser(ctx context.Context, id int64) error {
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if user.Role == models.RoleAdminPlus {
		return ValidationError("不能解绑超级管理员")
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("active", false).Error; err != nil {
		return errors.Wrap(err, "解绑用户失败")
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *UserService) invalidate(ctx context.Context, id int64) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, userCacheKey(id)).Err(); err != nil {
		logger.L().Warn("删除用户缓存失败", zap.Int64("userId", id), zap.Error(err))
	}
}

func userCacheKey(id int64) string {
	return fmt.Sprintf("user:%d", id)
}
