//go:build unix

package codegen_test

import (
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

func nativeHost() bool {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		return false
	}
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return false
	}
	return strings.TrimRight(string(u.Machine[:]), "\x00") == "x86_64"
}
