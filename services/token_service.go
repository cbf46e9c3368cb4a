package services

import (
	"encoding/base64"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// TokenClaims 令牌声明
type TokenClaims struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Expired 判断令牌在给定时间是否过期
func (c *TokenClaims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}

// TokenService 签发和校验令牌
// 令牌是HS256签名的JWT，再经过XOR混淆和URL安全的Base64编码
type TokenService struct {
	secret []byte
	xorKey []byte
	issuer string
	expiry atomic.Int64 // time.Duration
	now    func() time.Time
}

// NewTokenService 创建令牌服务
func NewTokenService(secret, xorKey, issuer string, expiry time.Duration) *TokenService {
	s := &TokenService{
		secret: []byte(secret),
		xorKey: []byte(xorKey),
		issuer: issuer,
		now:    time.Now,
	}
	s.SetExpiry(expiry)
	return s
}

// SetExpiry 修改新签发令牌的有效期
func (s *TokenService) SetExpiry(expiry time.Duration) {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	s.expiry.Store(int64(expiry))
}

// Expiry 当前的令牌有效期
func (s *TokenService) Expiry() time.Duration {
	return time.Duration(s.expiry.Load())
}

// Generate 生成令牌
func (s *TokenService) Generate(userID int64, userName, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.Expiry())
	claims := TokenClaims{
		UserID:   userID,
		UserName: userName,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "签名令牌失败")
	}
	return s.encrypt(signed), expiresAt, nil
}

// Validate 解析并校验令牌，任何失败都返回 ErrAuthInvalid
func (s *TokenService) Validate(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, errors.WithMessage(ErrAuthInvalid, "未提供令牌")
	}
	raw, err := s.decrypt(tokenString)
	if err != nil {
		return nil, errors.WithMessage(ErrAuthInvalid, "令牌格式错误")
	}

	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	claims := &TokenClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.WithMessage(ErrAuthInvalid, "无效的令牌")
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return nil, errors.WithMessage(ErrAuthInvalid, "令牌签发者不匹配")
	}
	if claims.Expired(s.now()) {
		return nil, ErrAuthInvalid
	}
	return claims, nil
}

func (s *TokenService) encrypt(token string) string {
	return base64.URLEncoding.EncodeToString(s.xor([]byte(token)))
}

func (s *TokenService) decrypt(encoded string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(s.xor(data)), nil
}

func (s *TokenService) xor(data []byte) []byte {
	if len(s.xorKey) == 0 {
		return data
	}
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ s.xorKey[i%len(s.xorKey)]
	}
	return out
}
