package event

// イベントタイプの定数（input-event-codes.hより）
const (
	Syn = 0x00 // 同期イベント
	Key = 0x01 // キーイベント
	Rel = 0x02 // 相対座標イベント
	Abs = 0x03 // 絶対座標イベント

	RelX     = 0x00 // X軸の相対移動
	RelY     = 0x01 // Y軸の相対移動
	RelWheel = 0x08 // ホイールの相対移動

	AbsX        = 0x00 // X軸の絶対座標
	AbsY        = 0x01 // Y軸の絶対座標
	AbsWheel    = 0x08 // エアブラシのホイール
	AbsPressure = 0x18 // ペン圧
	AbsDistance = 0x19 // ホバー距離
	AbsTiltX    = 0x1a // X方向の傾き
	AbsTiltY    = 0x1b // Y方向の傾き

	SynReport  = 0x00 // イベント報告の同期
	SynDropped = 0x03 // バッファあふれ

	MouseBtnLeft  = 0x110 // マウス左ボタン
	MouseBtnRight = 0x111 // マウス右ボタン
	BtnToolPen    = 0x140 // ペン
	BtnToolRubber = 0x141 // 消しゴム
	BtnTouch      = 0x14a // タッチイベント
	BtnStylus     = 0x14b // スタイラスボタン1
)

// Event はデコード済みの入力イベントを表す構造体
type Event struct {
	Sec   int64  // 秒
	Usec  int64  // マイクロ秒
	Type  uint16 // イベントタイプ
	Code  uint16 // イベントコード
	Value int32  // イベント値
}

// Millis はイベント時刻をミリ秒で返す
func (e Event) Millis() int64 {
	return e.Sec*1000 + e.Usec/1000
}
