package dispatch

import (
	"io"
	"time"
)

// TimeoutHandler is called when a suspended response times out.
type TimeoutHandler func()

// ContainerResponseWriter writes a processed response back to the container
// that received the request. A container supplies one per exchange.
type ContainerResponseWriter interface {
	// WriteResponseStatusAndHeaders writes the status line and headers and
	// returns the stream the entity is written to. contentLength is -1 when
	// the length is unknown.
	WriteResponseStatusAndHeaders(contentLength int64, resp *ContainerResponse) (io.Writer, error)

	// Suspend holds the exchange open until Commit is called or timeout
	// elapses, in which case onTimeout runs. A zero timeout suspends
	// indefinitely. It returns false when the exchange cannot be suspended,
	// and the caller must then complete the response synchronously.
	Suspend(timeout time.Duration, onTimeout TimeoutHandler) bool

	// SetSuspendTimeout replaces the timeout of a suspended exchange.
	SetSuspendTimeout(timeout time.Duration) error

	// Commit completes the response, resuming the exchange if it was
	// suspended.
	Commit()

	// Failure reports an error raised while processing the request. The
	// writer answers 500 when nothing was committed yet and returns the error
	// for the container's own error handling.
	Failure(err error) error

	// EnableResponseBuffering asks the writer to buffer a streamed entity.
	EnableResponseBuffering() bool
}
