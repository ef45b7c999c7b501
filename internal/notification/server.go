package notification

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/pushfanout/internal/config"
	"github.com/nao1215/pushfanout/internal/registry"
	"github.com/nao1215/pushfanout/pkg/event"
	"github.com/nao1215/pushfanout/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はユーザー名簿とエンドポイントレジストリ。
	store *registry.Store
	// trigger はメッセージ書き込みイベントのトリガー。
	trigger *Trigger
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(cfg config.Config, store *registry.Store, trigger *Trigger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:  router,
		port:    cfg.Port,
		store:   store,
		trigger: trigger,
	}
	s.setupRoutes(cfg.JWTSecret)
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(jwtSecret string) {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		tokens := api.Group("/notification-tokens")
		{
			// 自分の端末トークン一覧
			tokens.GET("", s.handleListTokens())
			// 端末トークンの登録
			tokens.POST("", s.handleRegisterToken())
			// 端末トークンの削除
			tokens.DELETE("/:token", s.handleRevokeToken())
		}

		// 内部API（上流のデータストアから呼び出される）
		internal := api.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleService))
		{
			internal.POST("/users", s.handleAddUser())
			internal.POST("/job-messages/:job_id/:message_id", s.handleMessageWritten())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "notification"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// handleListTokens は認証済みユーザーの端末トークン一覧を返すハンドラ。
func (s *Server) handleListTokens() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		tokens, err := s.store.Lookup(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "端末トークンの取得に失敗しました"})
			log.Printf("[Registry] 端末トークン取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "tokens": tokens})
	}
}

// registerTokenRequest は端末トークン登録リクエストのJSON構造。
type registerTokenRequest struct {
	// Token は端末のプッシュ通知トークン。
	Token string `json:"token" binding:"required"`
}

// handleRegisterToken は認証済みユーザーに端末トークンを登録するハンドラ。
func (s *Server) handleRegisterToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		userID := middleware.GetUserID(c)
		if err := s.store.Register(c.Request.Context(), userID, req.Token); err != nil {
			if errors.Is(err, registry.ErrInvalidArgument) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "端末トークンの登録に失敗しました"})
			log.Printf("[Registry] 端末トークン登録エラー: %v", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "端末トークンを登録しました"})
	}
}

// handleRevokeToken は認証済みユーザーの端末トークンを削除するハンドラ。
// 登録されていないトークンを指定しても成功とする。
func (s *Server) handleRevokeToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if err := s.store.Revoke(c.Request.Context(), userID, c.Param("token")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "端末トークンの削除に失敗しました"})
			log.Printf("[Registry] 端末トークン削除エラー: %v", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// addUserRequest はユーザー追加リクエストのJSON構造。
type addUserRequest struct {
	// UserID は名簿に追加するユーザーID。
	UserID string `json:"user_id" binding:"required"`
}

// handleAddUser はユーザーを名簿に追加するハンドラ。
func (s *Server) handleAddUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if err := s.store.AddUser(c.Request.Context(), req.UserID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの追加に失敗しました"})
			log.Printf("[Registry] ユーザー追加エラー: %v", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user_id": req.UserID})
	}
}

// messageWrittenRequest はメッセージ書き込み通知のJSON構造。
type messageWrittenRequest struct {
	// EventType はMessageCreatedまたはMessageUpdated。省略時はMessageCreated。
	EventType event.Type `json:"event_type"`
	// Message は書き込まれたメッセージ。
	Message *event.Message `json:"message" binding:"required"`
}

// handleMessageWritten はメッセージの書き込みを受けて配信サイクルを実行するハンドラ。
// 配信サイクルの完了後にレスポンスを返す。サイクルが失敗した場合は503を返し、上流の再送に任せる。
func (s *Server) handleMessageWritten() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req messageWrittenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.EventType == "" {
			req.EventType = event.TypeMessageCreated
		}
		if !req.EventType.IsMessageWrite() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未対応のイベント種別です: %s", req.EventType)})
			return
		}

		w := event.MessageWrittenData{
			JobID:     c.Param("job_id"),
			MessageID: c.Param("message_id"),
			Message:   *req.Message,
		}
		result, err := s.trigger.HandleWrite(c.Request.Context(), req.EventType, w)
		if err != nil {
			log.Printf("[Trigger] %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "配信サイクルが失敗しました", "report": result.Report})
			return
		}
		if result.Ignored {
			c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "dispatched", "report": result.Report})
	}
}
