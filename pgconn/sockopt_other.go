//go:build !linux
// +build !linux

package pgconn

import "syscall"

// tcp_user_timeout and the keepalive probe knobs are Linux socket options. On other platforms they are accepted and
// ignored, matching libpq.
func makeDialControlFunc(config *Config) func(network, address string, c syscall.RawConn) error {
	return nil
}
