package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/pushfanout/pkg/httpclient"
)

// internalErrorMessage はパニック時にクライアントへ返すメッセージ。
const internalErrorMessage = "内部サーバーエラーが発生しました"

// Recovery はパニックからの回復を行うGinミドルウェアを返す。
// スタックトレースを呼び出し元のユーザーIDとリクエストIDと共にログに出力し、500エラーを返す。
// リクエストIDはレスポンスにも含め、上流の再送ログと突き合わせられるようにする。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			requestID := c.GetHeader(httpclient.HeaderRequestID)
			log.Printf("[PANIC] %s %s user=%q request_id=%q: %v\n%s",
				c.Request.Method, c.Request.URL.Path, GetUserID(c), requestID, r, debug.Stack())

			body := gin.H{"error": internalErrorMessage}
			if requestID != "" {
				body["request_id"] = requestID
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()
		c.Next()
	}
}
