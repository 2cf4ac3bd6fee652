package utils

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/char5742/stroke-eval/internal/types"
)

// ioctl のリクエスト番号の組み立て (Linux の _IOC マクロ)
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocRead = 2
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr(dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift)
}

// EvIOCGAbs は EVIOCGABS(code) のリクエスト番号を返す
func EvIOCGAbs(code int) uintptr {
	return ioc(iocRead, 'E', uint32(0x40+code), uint32(unsafe.Sizeof(types.AbsInfo{})))
}

// IOCtl は値を引数に取る ioctl を発行する。
// Fd() を呼ぶとファイルがブロッキングモードに戻るため RawConn 経由で実行する。
func IOCtl(f *os.File, cmd uintptr, arg uintptr) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to get raw conn: %w", err)
	}
	var errno unix.Errno
	if err := rc.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, cmd, arg)
	}); err != nil {
		return err
	}
	if errno != 0 {
		return errno
	}
	return nil
}

// GetAbsInfo は指定した絶対軸の範囲情報を取得する
func GetAbsInfo(f *os.File, code int) (types.AbsInfo, error) {
	var info types.AbsInfo
	rc, err := f.SyscallConn()
	if err != nil {
		return info, fmt.Errorf("failed to get raw conn: %w", err)
	}
	var errno unix.Errno
	if err := rc.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, EvIOCGAbs(code), uintptr(unsafe.Pointer(&info)))
	}); err != nil {
		return info, err
	}
	if errno != 0 {
		return info, errno
	}
	return info, nil
}

// GetKeyBits は押下中キーのビットマップを buf に読み込む
func GetKeyBits(f *os.File, cmd uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	rc, err := f.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to get raw conn: %w", err)
	}
	var errno unix.Errno
	if err := rc.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, cmd, uintptr(unsafe.Pointer(&buf[0])))
	}); err != nil {
		return err
	}
	if errno != 0 {
		return errno
	}
	return nil
}
