package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("invalid argument"), want: false},
		{name: "context canceled", err: fmt.Errorf("eth_getLogs: %w", context.Canceled), want: false},
		{name: "deadline exceeded", err: fmt.Errorf("eth_getLogs: %w", context.DeadlineExceeded), want: true},
		{name: "connection refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, want: true},
		{name: "wrapped reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: true},
		{name: "broken pipe", err: fmt.Errorf("write: %w", syscall.EPIPE), want: true},
		{name: "http 429", err: rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, want: true},
		{name: "http 503", err: rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, want: true},
		{name: "http 400", err: rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"}, want: false},
		{name: "rate limit message", err: errors.New("rate limit reached"), want: true},
		{name: "gateway message", err: errors.New("502 Bad Gateway"), want: true},
		{name: "pool exhausted", err: errors.New("no available connection"), want: true},
		{name: "io timeout", err: errors.New("i/o timeout"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
