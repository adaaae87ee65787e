// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
)

// recordedLogs collects log records. It is safe for concurrent use
// because channel tests log from several goroutines.
type recordedLogs struct {
	mu      sync.Mutex
	records []slog.Record
}

// Messages returns the messages of the records logged so far.
func (rl *recordedLogs) Messages() []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var out []string
	for _, record := range rl.records {
		out = append(out, record.Message)
	}
	return out
}

// Find returns the first record with the given message.
func (rl *recordedLogs) Find(message string) (slog.Record, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, record := range rl.records {
		if record.Message == message {
			return record, true
		}
	}
	return slog.Record{}, false
}

// recordAttrs returns the attributes of a record as a map.
func recordAttrs(record slog.Record) map[string]slog.Value {
	out := map[string]slog.Value{}
	record.Attrs(func(attr slog.Attr) bool {
		out[attr.Key] = attr.Value
		return true
	})
	return out
}

// newCapturingLogger returns a logger that captures all log records.
// The caller inspects the returned [*recordedLogs] after exercising
// the code under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *recordedLogs) {
	logs := &recordedLogs{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			logs.mu.Lock()
			logs.records = append(logs.records, record)
			logs.mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), logs
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] whose ClientFunc
// returns conn, NameFunc returns "mock", and ParrotFunc returns "".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set, which is what [safeconn] needs for logging.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}
