// Package utils contains some common utilities used by all other packages.
package utils

import (
	"io"
	"strings"
)

// ErrInErr is a wrapper func to not nest too deeply in an error being handled
// inside of an already error path. Not catching the error makes linters unhappy,
// but because it's already in an error path, there's not much to do.
func ErrInErr(_ error) {
}

// CloseAndLog closes a resource where the caller has nothing useful to do
// with a close error.
func CloseAndLog(c io.Closer) {
	ErrInErr(c.Close())
}

func StripPort(hostname string) string {
	if strings.Contains(hostname, ":") {
		return strings.Split(hostname, ":")[0]
	}
	return hostname
}
