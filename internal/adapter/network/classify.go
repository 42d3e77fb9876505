package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"golang.org/x/net/http2"

	"metasearch/internal/domain"
)

// ErrorKind is the transport-level category of a failed round trip.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindCanceled
	KindTimeout
	KindUnsupportedProtocol
	KindProxy
	KindConnect
	KindStaleConnection
	KindProtocol
)

var kindNames = map[ErrorKind]string{
	KindUnknown:             "unknown",
	KindCanceled:            "canceled",
	KindTimeout:             "timeout",
	KindUnsupportedProtocol: "unsupported_protocol",
	KindProxy:               "proxy",
	KindConnect:             "connect",
	KindStaleConnection:     "stale_connection",
	KindProtocol:            "protocol",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

type action int

const (
	actionRaise action = iota
	actionEvictRetry
	actionEvictRaise
)

// policyTable decides what the retrying transport does with each kind.
var policyTable = map[ErrorKind]action{
	KindUnknown:             actionRaise,
	KindCanceled:            actionRaise,
	KindTimeout:             actionRaise,
	KindUnsupportedProtocol: actionRaise,
	KindProxy:               actionRaise,
	KindConnect:             actionRaise,
	KindStaleConnection:     actionEvictRetry,
	KindProtocol:            actionEvictRaise,
}

// kindSentinels is the domain error each kind is reported as. Kinds without
// an entry propagate untouched.
var kindSentinels = map[ErrorKind]error{
	KindTimeout:             domain.ErrTimeout,
	KindProxy:               domain.ErrProxy,
	KindConnect:             domain.ErrConnect,
	KindStaleConnection:     domain.ErrStaleConnection,
	KindProtocol:            domain.ErrProtocol,
	KindUnsupportedProtocol: domain.ErrUnsupportedProtocol,
}

// stalePatterns match failures of a pooled connection the peer already
// dropped. net/http reports several of them only as plain strings.
var stalePatterns = []string{
	"server closed idle connection",
	"http2: client connection lost",
	"http2: client connection force closed",
	"http2: server sent GOAWAY",
	"use of closed network connection",
	"connection reset by peer",
}

var protocolPatterns = []string{
	"malformed HTTP",
	"http2: ",
	"broken pipe",
	"tls: ",
}

// ProxyError reports a failure talking to a proxy.
type ProxyError struct {
	Proxy string
	Err   error
}

func (e *ProxyError) Error() string { return "proxy " + e.Proxy + ": " + e.Err.Error() }

func (e *ProxyError) Unwrap() error { return e.Err }

// Classify maps a round-trip error to its ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	if errors.Is(err, domain.ErrUnsupportedProtocol) {
		return KindUnsupportedProtocol
	}

	var pe *ProxyError
	if errors.As(err, &pe) {
		return KindProxy
	}
	var op *net.OpError
	hasOp := errors.As(err, &op)
	if hasOp && op.Op == "proxyconnect" {
		return KindProxy
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnect
	}
	if hasOp && op.Op == "dial" {
		if op.Timeout() {
			return KindTimeout
		}
		return KindConnect
	}

	if isStale(err) {
		return KindStaleConnection
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if isProtocol(err) || hasOp {
		return KindProtocol
	}
	return KindUnknown
}

func isStale(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var goAway http2.GoAwayError
	if errors.As(err, &goAway) {
		return true
	}
	return containsAny(err.Error(), stalePatterns)
}

func isProtocol(err error) bool {
	if errors.Is(err, syscall.EPIPE) {
		return true
	}
	var se http2.StreamError
	if errors.As(err, &se) {
		return true
	}
	var ce http2.ConnectionError
	if errors.As(err, &ce) {
		return true
	}
	return containsAny(err.Error(), protocolPatterns)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// wrapKind reports err as the domain sentinel of kind, keeping err in the
// chain. Kinds without a sentinel are returned unchanged.
func wrapKind(kind ErrorKind, err error) error {
	sentinel, ok := kindSentinels[kind]
	if !ok || errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
