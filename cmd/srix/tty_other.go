//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !windows

package main

func isTerminal(fd uintptr) bool {
	return false
}
