// Package registry はユーザー名簿と配信先エンドポイントのレジストリを提供する。
//
// エンドポイントはユーザーごとの不透明なトークン集合として保持する。
// 配信処理は参照（Lookup）と無効トークンの削除（Revoke）のみを行い、
// 登録は端末登録APIから行う。
package registry
