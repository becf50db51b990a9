// Package source はデバイスからサンプルを取り出す入力源を提供する。
//
// カメラは ffmpeg の v4l2 入力から MJPEG フレームを、マイクは alsa 入力から
// s16le の PCM を読み出す。テストやデバイスのない環境向けに、合成した
// テストパターンとサイン波を出すモック入力源もある。
//
// 入力源はフレームチャンネルが一杯のとき古いフレームを捨て、生成側を止めない。
package source
