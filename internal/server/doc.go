// Package server は撮影画面をHTTPで操作するためのサーバーを提供します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - 撮影の開始・終了、カメラの切り替え、記録の開始・停止の受け付け
//   - プレビュー映像のMJPEGストリーミング
//   - 操作用のページ（埋め込みHTML）の配信
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - 操作の失敗はエラーとして返さず、操作後の状態を返す
//   - SIGINT/SIGTERMまたはコンテキストのキャンセルで停止する
package server
