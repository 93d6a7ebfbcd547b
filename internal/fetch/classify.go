package fetch

import (
	"context"
	"errors"
	"net"

	"github.com/adshao/go-binance/v2/common"

	"klinevault/internal/source"
)

type errClass int

const (
	classRetryable errClass = iota
	classNotFound
	classFatal
	classCanceled
)

// classify maps a source error onto the segment state machine. Unknown
// errors default to retryable: the common case for an untyped failure is a
// flaky network, and the retry budget bounds the damage if it is not.
func classify(err error) errClass {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classCanceled
	}
	if errors.Is(err, source.ErrNotFound) {
		return classNotFound
	}
	var integrity *source.IntegrityError
	if errors.As(err, &integrity) {
		return classFatal
	}
	var transient *source.TransientError
	if errors.As(err, &transient) {
		return classRetryable
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // request weight or order rate exceeded
			return classRetryable
		default:
			return classFatal
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return classRetryable
	}
	return classRetryable
}
