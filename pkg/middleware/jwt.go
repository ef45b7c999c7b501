package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Role はトークン保持者の種別を表す。
type Role string

const (
	// RoleUser は端末トークンを登録するアプリ利用者を表す。
	RoleUser Role = "user"
	// RoleService はメッセージ書き込みイベントを送る上流サービスを表す。
	RoleService Role = "service"
)

// issuer はこのサービスが発行するトークンのiss。
const issuer = "pushfanout"

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。サービストークンではサービス名。
	UserID string `json:"user_id"`
	// Role はトークン保持者の種別。
	Role Role `json:"role"`
}

// headerKeyUserID は認証済みユーザーIDを返すHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// GenerateJWT はユーザーIDとロールからJWTトークンを生成する。
// ttlが0以下の場合は24時間とする。
func GenerateJWT(secret, userID string, role Role, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UserID: userID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "role" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// RequireRole は指定ロールのトークンのみを通すGinミドルウェアを返す。
// JWTAuthの後に適用する必要がある。
func RequireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) Role {
	role, _ := c.Get("role")
	if r, ok := role.(Role); ok {
		return r
	}
	return ""
}
