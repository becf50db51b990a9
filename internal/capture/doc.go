// Package capture はキャプチャセッションと入出力を提供する。
//
// Session はデバイス入力と出力の組を持ち、BeginConfiguration と
// CommitConfiguration で囲んだ変更をまとめて適用する。実行中は入力ごとに
// ポンプがサンプルへ通し番号と PTS を付け、router 経由で各出力へ配信する。
//
// 出力は3種類ある。
//
//   - DataOutput: サンプルごとのコールバックを指定のシリアルキューで呼ぶ
//   - MovieFileOutput: サンプルをファイルに記録する
//   - preview.Layer: 最新の映像フレームを表示用に保持する
//
// 通知ハンドラはポンプのゴルーチンから同期的に呼ばれるため、ハンドラ内で
// セッションの構成を変更してはならない。
package capture
