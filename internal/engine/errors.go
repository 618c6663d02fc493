package engine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Transport codes recorded in HTTPError, loosely mirroring the failure
// classes a transfer can hit before an HTTP status exists.
const (
	TransportNone = iota
	TransportTimeout
	TransportConnect
	TransportDNS
	TransportProxy
	TransportEmptyResponse
	TransportRecv
	TransportSend
	TransportPartial
	TransportTLS
	TransportCancelled
	TransportAborted
)

type HTTPError struct {
	Message       string
	TransportCode int
	HTTPStatus    int
	Retryable     bool
}

func (e *HTTPError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.HTTPStatus)
	}
	return e.Message
}

func newCancelledError() *HTTPError {
	return &HTTPError{Message: "request cancelled", TransportCode: TransportCancelled, Retryable: false}
}

func statusError(status int) *HTTPError {
	return &HTTPError{
		Message:    fmt.Sprintf("HTTP error %d", status),
		HTTPStatus: status,
		Retryable:  status < 400 || status >= 500,
	}
}

func isTLSCertError(err error) bool {
	var certVerify *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	return errors.As(err, &certVerify) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostname) || errors.As(err, &invalid)
}

// classifyTransport maps a transport-level error to (code, retryable).
// Timeouts, connection failures, DNS, resets, and truncated bodies are
// transient; TLS certificate problems and cancellations are not.
func classifyTransport(err error) (int, bool) {
	if errors.Is(err, context.Canceled) {
		return TransportCancelled, false
	}
	if isTLSCertError(err) {
		return TransportTLS, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportTimeout, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return TransportDNS, true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return TransportConnect, true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return TransportRecv, true
	}
	if errors.Is(err, syscall.EPIPE) {
		return TransportSend, true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return TransportPartial, true
	}
	if errors.Is(err, io.EOF) {
		return TransportEmptyResponse, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return TransportConnect, true
	}
	return TransportNone, false
}

func transportError(prefix string, err error) *HTTPError {
	code, retryable := classifyTransport(err)
	if code == TransportCancelled {
		return newCancelledError()
	}
	return &HTTPError{
		Message:       fmt.Sprintf("%s: %v", prefix, err),
		TransportCode: code,
		Retryable:     retryable,
	}
}
