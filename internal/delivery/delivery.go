// Package delivery はプッシュ配信ゲートウェイとの境界を定義する。
//
// ゲートウェイはトークンの一覧とペイロードを受け取り、トークンごとの配信結果を返す。
// 結果のエラーコードのうち、登録トークンが恒久的に無効であることを示す
// 2種類だけがレジストリからの削除対象になる。
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/pushfanout/internal/compose"
)

// ErrResultMismatch はゲートウェイの結果件数が送信したトークン数と一致しない場合のエラー。
var ErrResultMismatch = errors.New("配信結果の件数がトークン数と一致しません")

// ErrorCode はゲートウェイが返すトークン単位のエラー分類。
type ErrorCode string

const (
	// CodeInvalidRegistrationToken は登録トークンの形式や内容が無効であることを表す。
	CodeInvalidRegistrationToken ErrorCode = "invalid-registration-token"
	// CodeRegistrationTokenNotRegistered は登録トークンが既に登録解除されていることを表す。
	CodeRegistrationTokenNotRegistered ErrorCode = "registration-token-not-registered"
	// CodeInvalidArgument はリクエストの引数が不正であることを表す。
	CodeInvalidArgument ErrorCode = "invalid-argument"
	// CodeMessageRateExceeded は送信レートの上限を超えたことを表す。
	CodeMessageRateExceeded ErrorCode = "message-rate-exceeded"
	// CodeUnavailable はゲートウェイに到達できない、または一時的に利用できないことを表す。
	CodeUnavailable ErrorCode = "server-unavailable"
	// CodeInternal はゲートウェイ内部のエラーを表す。
	CodeInternal ErrorCode = "internal-error"
)

// codePrefix はFCM形式のエラーコードに付く接頭辞。
const codePrefix = "messaging/"

// ParseErrorCode はゲートウェイが返したエラーコード文字列を正規化する。
// "messaging/registration-token-not-registered" と "registration-token-not-registered" は同じ分類になる。
func ParseErrorCode(s string) ErrorCode {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, codePrefix)
	return ErrorCode(strings.ToLower(s))
}

// Permanent はトークンが恒久的に無効で、レジストリから削除すべきかどうかを返す。
func (c ErrorCode) Permanent() bool {
	return c == CodeInvalidRegistrationToken || c == CodeRegistrationTokenNotRegistered
}

// SendError はトークン単位の配信失敗。
type SendError struct {
	// Code はエラー分類。
	Code ErrorCode `json:"code"`
	// Message はゲートウェイが返した説明。
	Message string `json:"message,omitempty"`
}

// Error はerrorインターフェースを実装する。
func (e *SendError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Outcome はトークン1件分の配信結果。
type Outcome struct {
	// Token は配信先のトークン。
	Token string
	// Err は配信に失敗した場合のエラー。成功時はnil。
	Err *SendError
}

// OK は配信に成功したかどうかを返す。
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Revocable はトークンをレジストリから削除すべきかどうかを返す。
func (o Outcome) Revocable() bool {
	return o.Err != nil && o.Err.Code.Permanent()
}

// Gateway はプッシュ配信ゲートウェイ。
// Sendはtokensと同じ順序・同じ件数のOutcomeを返す。
// 呼び出し全体が失敗した場合はエラーを返し、その場合Outcomeは使わない。
type Gateway interface {
	Send(ctx context.Context, tokens []string, payload compose.Payload) ([]Outcome, error)
}

// failAll は全トークンを同じエラーで失敗とした結果を返す。
func failAll(tokens []string, code ErrorCode, err error) []Outcome {
	out := make([]Outcome, len(tokens))
	for i, token := range tokens {
		out[i] = Outcome{Token: token, Err: &SendError{Code: code, Message: err.Error()}}
	}
	return out
}
