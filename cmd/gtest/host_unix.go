//go:build unix

package main

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// hostCanRun reports whether images for target execute on this machine.
func hostCanRun(target string) (bool, string) {
	if target == "" {
		target = runtime.GOOS
	}
	if target != "linux" || runtime.GOOS != "linux" {
		return false, fmt.Sprintf("'%s' images do not run on %s", target, runtime.GOOS)
	}
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return false, err.Error()
	}
	machine := strings.TrimRight(string(u.Machine[:]), "\x00")
	if machine != "x86_64" {
		return false, fmt.Sprintf("host machine is %s, not x86_64", machine)
	}
	return true, ""
}
