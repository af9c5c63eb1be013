package utils

import (
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wfunc/word-duel/internal/errors"
)

// PlayerClaims 玩家身份 Claims，Subject 即玩家ID
type PlayerClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager JWT管理器，只负责签发和校验身份，不关心会话或队伍
type JWTManager struct {
	secretKey []byte
	issuer    string
	expiry    time.Duration
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(secretKey, issuer string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		expiry:    expiry,
	}
}

// GenerateToken 生成身份令牌
func (j *JWTManager) GenerateToken(playerID, name string) (string, error) {
	if playerID == "" {
		return "", errors.New(errors.ErrInvalidParam, "玩家ID不能为空")
	}
	now := time.Now()
	claims := &PlayerClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if j.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(j.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrAuthentication, "签发令牌失败")
	}
	return signed, nil
}

// ValidateToken 验证令牌并返回 Claims
func (j *JWTManager) ValidateToken(tokenString string) (*PlayerClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &PlayerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secretKey, nil
	}, opts...)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Wrap(err, errors.ErrTokenExpired)
		}
		return nil, errors.Wrap(err, errors.ErrTokenInvalid)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New(errors.ErrTokenInvalid, "缺少玩家ID")
	}
	return claims, nil
}
