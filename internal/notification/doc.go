// Package notification は通知サービスのHTTPサーバーとイベントトリガーを提供する。
//
// メッセージの書き込みイベントをWebhookまたはEvent Storeのポーリングで受け取り、
// 配信サイクルを同期的に実行する。端末トークンの登録・削除APIも提供する。
package notification
