package webclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"sync/atomic"

	"github.com/bstoi/apptest/pkg/logging"
)

var log = logging.Named("github.com/bstoi/apptest/pkg/webclient")

// LoggingFilter logs every request and response at info level. Entities are
// included only when dumpEntity is set; they are buffered for that, so the
// filter is meant for tests, not for large transfers.
func LoggingFilter(logger *slog.Logger, dumpEntity bool) Filter {
	if logger == nil {
		logger = log
	}
	var seq atomic.Int64
	return func(next http.RoundTripper) http.RoundTripper {
		return &loggingTransport{next: next, log: logger, dumpEntity: dumpEntity, seq: &seq}
	}
}

type loggingTransport struct {
	next       http.RoundTripper
	log        *slog.Logger
	dumpEntity bool
	seq        *atomic.Int64
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := t.seq.Add(1)
	ctx := req.Context()

	if dump, err := httputil.DumpRequestOut(req, t.dumpEntity); err == nil {
		t.log.InfoContext(ctx, "sending client request", "id", id, "request", string(dump))
	} else {
		t.log.DebugContext(ctx, "could not dump client request", "id", id, "error", err)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.log.InfoContext(ctx, "client request failed", "id", id, "error", err)
		return nil, err
	}

	t.logResponse(ctx, id, resp)
	return resp, nil
}

func (t *loggingTransport) logResponse(ctx context.Context, id int64, resp *http.Response) {
	dump, err := httputil.DumpResponse(resp, t.dumpEntity)
	if err != nil {
		t.log.DebugContext(ctx, "could not dump client response", "id", id, "error", err)
		return
	}
	t.log.InfoContext(ctx, "client response received", "id", id, "status", resp.StatusCode, "response", string(dump))
}
