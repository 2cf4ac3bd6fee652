package features

import (
	"fmt"
	"os"
	"syscall"

	"github.com/char5742/stroke-eval/internal/consts"
	"github.com/char5742/stroke-eval/internal/utils"
)

// キーボードの押下状態を問い合わせるインターフェース
type Keyboard interface {
	IsPressed(code int) bool
	Close() error
}

type evdevKeyboard struct {
	*os.File
	bits []byte
}

// 監視するデバイスのパスを指定してキーボードを作成する
func CreateKeyboard(path string) (Keyboard, error) {
	// デバイスを読み取り、非ブロッキングモードで開く
	f, err := os.OpenFile(path, syscall.O_RDONLY|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("デバイスファイルを開くのに失敗しました: %w", err)
	}
	return &evdevKeyboard{File: f, bits: make([]byte, consts.KeyMax/8+1)}, nil
}

// IsPressed は指定したキーが押されているかを返す。取得に失敗した場合は false
func (k *evdevKeyboard) IsPressed(code int) bool {
	if err := utils.GetKeyBits(k.File, consts.EVIOCGKEY, k.bits); err != nil {
		return false
	}
	return keyBitSet(k.bits, code)
}

// keyBitSet はキーのビットマップで code のビットが立っているかを返す
func keyBitSet(bits []byte, code int) bool {
	if code < 0 || code/8 >= len(bits) {
		return false
	}
	return bits[code/8]&(1<<(code%8)) != 0
}
