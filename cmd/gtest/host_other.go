//go:build !unix

package main

import (
	"fmt"
	"runtime"
)

func hostCanRun(target string) (bool, string) {
	if target == "" {
		target = runtime.GOOS
	}
	if target != runtime.GOOS || runtime.GOARCH != "amd64" {
		return false, fmt.Sprintf("'%s' images do not run on %s/%s", target, runtime.GOOS, runtime.GOARCH)
	}
	return true, ""
}
