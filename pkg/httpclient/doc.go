// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// プッシュ配信ゲートウェイへの送信や、Event Storeからのイベント取得など、
// 外部サービスとのJSON通信パターンを統一する。
package httpclient
