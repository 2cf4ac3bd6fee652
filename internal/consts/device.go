package consts

// UIInput デバイスの定数（uinput.hから）
const (
	MaxNameSize = 80         // デバイス名の最大サイズ
	DevCreate   = 0x5501     // デバイス作成用のIOCTL
	DevDestroy  = 0x5502     // デバイス破棄用のIOCTL
	SetEvBit    = 0x40045564 // イベントビット設定用のIOCTL
	SetKeyBit   = 0x40045565 // キービット設定用のIOCTL
	SetAbsBit   = 0x40045567 // 絶対座標ビット設定用のIOCTL
	BusUsb      = 0x03       // USBバスタイプ
)

// その他のデバイス制御用定数
const (
	AbsSize       = 64         // 絶対座標の配列サイズ
	EVIOCGRAB     = 0x40044590 // デバイスの排他制御用のIOCTL
	EVIOCGKEY     = 0x80604518 // 押下中キーのビットマップ取得 (KEY_MAX+1 ビット)
	KeyMax        = 0x2ff      // キーコードの最大値
	PropPointer   = 0x00       // ポインターデバイスプロパティ
	PropDirect    = 0x01       // ペンタブレット（画面直結）プロパティ
	SetPropBit    = 0x4004556e // プロパティビット設定用のIOCTL
)
