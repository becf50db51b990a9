// Package device はカメラ・マイクデバイスの列挙と制御を担う
//
// # 責務
// - キャプチャデバイス（カメラ・マイク）の検出と静的な能力情報の取得
// - デバイスオブジェクト（Handle）の排他ロック付きプロパティ変更
// - 被写体領域の変化検知と通知
// - デバイスの接続・切断の監視と通知
//
// # 仕様
// - LinuxEnumerator: /dev/video* と /proc/asound/pcm からの検出
// - MockEnumerator: テストとシミュレーション用の前面・背面カメラとマイク
// - Handle: LockForConfiguration/UnlockForConfiguration で囲まれた変更のみ受け付ける
// - Monitor: 定期スキャンによる接続・切断の通知
//
// # 前提要件
//   - v4l-utils: カメラ名とフォーマットの取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループ・audioグループへの参加: デバイスアクセス権限
package device
