package h1

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/panjf2000/gnet/v2"
)

// fakeConn feeds inbound bytes to a Connection and records what it writes.
type fakeConn struct {
	mu       sync.Mutex
	inbound  []byte
	written  bytes.Buffer
	writes   int
	closed   bool
	discards int
	readErr  error
}

func (f *fakeConn) push(b string) {
	f.mu.Lock()
	f.inbound = append(f.inbound, b...)
	f.mu.Unlock()
}

func (f *fakeConn) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(p, f.inbound)
	f.inbound = f.inbound[n:]
	return n, nil
}

func (f *fakeConn) InboundBuffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbound)
}

func (f *fakeConn) Discard(n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.inbound) {
		n = len(f.inbound)
	}
	f.inbound = f.inbound[n:]
	f.discards += n
	return n, nil
}

func (f *fakeConn) AsyncWrite(buf []byte, callback gnet.AsyncCallback) error {
	f.mu.Lock()
	f.written.Write(buf)
	f.writes++
	f.mu.Unlock()
	if callback != nil {
		return callback(nil, nil)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

// inlinePool runs tasks on the calling goroutine.
type inlinePool struct{}

func (inlinePool) Submit(task func()) error {
	task()
	return nil
}

type errPool struct{ err error }

func (p errPool) Submit(func()) error { return p.err }

type recordingObserver struct {
	mu      sync.Mutex
	reasons []string
	grown   []int
	framed  atomic.Int64
	sent    atomic.Int64
}

func (o *recordingObserver) ConnectionOpened() {}
func (o *recordingObserver) ConnectionClosed() {}
func (o *recordingObserver) ConnectionFailed(reason string) {
	o.mu.Lock()
	o.reasons = append(o.reasons, reason)
	o.mu.Unlock()
}
func (o *recordingObserver) BufferGrown(size int) {
	o.mu.Lock()
	o.grown = append(o.grown, size)
	o.mu.Unlock()
}
func (o *recordingObserver) RequestFramed(int) { o.framed.Add(1) }
func (o *recordingObserver) ResponseSent(int) { o.sent.Add(1) }

func (o *recordingObserver) failures() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.reasons...)
}

const okResponse = "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"

type captureDispatcher struct {
	mu   sync.Mutex
	raw  []byte
	out  []byte
	err  error
	hits int
}

func (d *captureDispatcher) Dispatch(_ context.Context, raw []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.raw = append([]byte(nil), raw...)
	d.hits++
	if d.err != nil {
		return nil, d.err
	}
	if d.out != nil {
		return d.out, nil
	}
	return []byte(okResponse), nil
}

func newTestConnection(fc *fakeConn, d Dispatcher, pool scheduler, size, limit int, obs Observer) *Connection {
	return newConnection(context.Background(), fc, d, pool, connOptions{
		bufferSize: size,
		policy:     GrowthPolicy{Limit: limit},
		observer:   obs,
	})
}

func TestConnection_SmallRequest(t *testing.T) {
	fc := &fakeConn{}
	d := &captureDispatcher{}
	obs := &recordingObserver{}
	c := newTestConnection(fc, d, inlinePool{}, 1024, 4096, obs)

	req := "GET /test HTTP/1.1\r\nHost: localhost\r\n\r\n"
	fc.push(req)
	c.OnTraffic()

	if string(d.raw) != req {
		t.Errorf("Expected dispatcher to receive %q, got %q", req, d.raw)
	}
	if fc.output() != okResponse {
		t.Errorf("Expected response %q, got %q", okResponse, fc.output())
	}
	if !fc.isClosed() {
		t.Error("Expected connection to be closed after send")
	}
	if c.State() != StateClosed {
		t.Errorf("Expected state CLOSED, got %s", c.State())
	}
	if c.Grows() != 0 {
		t.Errorf("Expected no growth, got %d", c.Grows())
	}
	if obs.sent.Load() != 1 {
		t.Errorf("Expected one response sent, got %d", obs.sent.Load())
	}
}

func TestConnection_PartialReadsAccumulate(t *testing.T) {
	fc := &fakeConn{}
	d := &captureDispatcher{}
	c := newTestConnection(fc, d, inlinePool{}, 1024, 4096, nil)

	fc.push("GET /test HT")
	c.OnTraffic()
	if c.State() != StateRead {
		t.Fatalf("Expected state READ after partial read, got %s", c.State())
	}
	if d.hits != 0 {
		t.Fatal("Expected no dispatch before the message is framed")
	}

	fc.push("TP/1.1\r\n\r\n")
	c.OnTraffic()
	if string(d.raw) != "GET /test HTTP/1.1\r\n\r\n" {
		t.Errorf("Expected accumulated request, got %q", d.raw)
	}
}

func TestConnection_GrowsOncePreservingBytes(t *testing.T) {
	fc := &fakeConn{}
	d := &captureDispatcher{}
	obs := &recordingObserver{}
	c := newTestConnection(fc, d, inlinePool{}, 64, 4096, obs)

	body := strings.Repeat("b", 300)
	req := "POST /upload HTTP/1.1\r\nContent-Length: 300\r\n\r\n" + body
	fc.push(req)
	c.OnTraffic()

	if c.Grows() != 1 {
		t.Fatalf("Expected exactly one growth, got %d", c.Grows())
	}
	if len(c.grown) != 364 {
		t.Errorf("Expected grown capacity 364, got %d", len(c.grown))
	}
	if string(d.raw) != req {
		t.Errorf("Expected full request to reach dispatcher, got %d bytes", len(d.raw))
	}
	if !bytes.HasPrefix(c.grown, []byte(req[:64])) {
		t.Error("Expected initial bytes at the start of the grown buffer")
	}
	if len(obs.grown) != 1 || obs.grown[0] != 364 {
		t.Errorf("Expected observer to see growth to 364, got %v", obs.grown)
	}
}

func TestConnection_GrowthAcrossTrafficEvents(t *testing.T) {
	fc := &fakeConn{}
	d := &captureDispatcher{}
	c := newTestConnection(fc, d, inlinePool{}, 64, 4096, nil)

	head := "POST /upload HTTP/1.1\r\nContent-Length: 100\r\n\r\n"
	body := strings.Repeat("q", 100)
	fc.push(head + body[:40])
	c.OnTraffic()
	if c.State() != StateRead {
		t.Fatalf("Expected state READ, got %s", c.State())
	}

	fc.push(body[40:])
	c.OnTraffic()
	if string(d.raw) != head+body {
		t.Errorf("Expected reassembled request, got %q", d.raw)
	}
	if c.Grows() != 1 {
		t.Errorf("Expected one growth, got %d", c.Grows())
	}
}

func TestConnection_LimitExceededSendsNothing(t *testing.T) {
	fc := &fakeConn{}
	d := &captureDispatcher{}
	obs := &recordingObserver{}
	c := newTestConnection(fc, d, inlinePool{}, 64, 1000, obs)

	fc.push("POST /upload HTTP/1.1\r\nContent-Length: 5000\r\n\r\n" + strings.Repeat("x", 100))
	c.OnTraffic()

	if fc.output() != "" {
		t.Errorf("Expected no response bytes, got %q", fc.output())
	}
	if !fc.isClosed() {
		t.Error("Expected connection to be closed")
	}
	if d.hits != 0 {
		t.Error("Expected dispatcher not to run")
	}
	if got := obs.failures(); len(got) != 1 || got[0] != "buffer_limit" {
		t.Errorf("Expected buffer_limit failure, got %v", got)
	}
}

func TestConnection_MissingLengthFails(t *testing.T) {
	fc := &fakeConn{}
	obs := &recordingObserver{}
	c := newTestConnection(fc, &captureDispatcher{}, inlinePool{}, 32, 1000, obs)

	fc.push("GET /" + strings.Repeat("a", 40) + " HTTP/1.1\r\n\r\n")
	c.OnTraffic()

	if c.State() != StateClosed || !fc.isClosed() {
		t.Error("Expected connection to be closed")
	}
	if fc.output() != "" {
		t.Errorf("Expected no response bytes, got %q", fc.output())
	}
	if got := obs.failures(); len(got) != 1 || got[0] != "framing" {
		t.Errorf("Expected framing failure, got %v", got)
	}
}

func TestConnection_MultipartTerminator(t *testing.T) {
	fc := &fakeConn{}
	d := &captureDispatcher{}
	c := newTestConnection(fc, d, inlinePool{}, 1024, 4096, nil)

	head := "POST /form HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=abc\r\n\r\n"
	fc.push(head + "--abc\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\n1\r\n--abc-")
	c.OnTraffic()
	if c.State() != StateRead {
		t.Fatalf("Expected partial terminator to keep reading, got %s", c.State())
	}

	fc.push("-\r\n")
	c.OnTraffic()
	if d.hits != 1 {
		t.Errorf("Expected one dispatch, got %d", d.hits)
	}
	if !strings.HasSuffix(string(d.raw), "--abc--\r\n") {
		t.Errorf("Expected message to end with terminator, got %q", d.raw)
	}
}

func TestConnection_DiscardsTrailingBytes(t *testing.T) {
	fc := &fakeConn{}
	d := &captureDispatcher{}
	var queued func()
	pool := poolFunc(func(task func()) error {
		queued = task
		return nil
	})
	c := newTestConnection(fc, d, pool, 1024, 4096, nil)

	fc.push("GET / HTTP/1.1\r\n\r\n")
	c.OnTraffic()
	if c.State() != StateWrite {
		t.Fatalf("Expected state WRITE while dispatch is queued, got %s", c.State())
	}

	second := "GET /again HTTP/1.1\r\n\r\n"
	fc.push(second)
	c.OnTraffic()

	fc.mu.Lock()
	discarded := fc.discards
	fc.mu.Unlock()
	if discarded != len(second) {
		t.Errorf("Expected %d trailing bytes discarded, got %d", len(second), discarded)
	}

	queued()
	if string(d.raw) != "GET / HTTP/1.1\r\n\r\n" {
		t.Errorf("Expected only the first request to be dispatched, got %q", d.raw)
	}
	if c.State() != StateClosed {
		t.Errorf("Expected state CLOSED, got %s", c.State())
	}
}

type poolFunc func(task func()) error

func (f poolFunc) Submit(task func()) error { return f(task) }

func TestConnection_OverloadedPoolSends503(t *testing.T) {
	fc := &fakeConn{}
	obs := &recordingObserver{}
	c := newTestConnection(fc, &captureDispatcher{}, errPool{err: ants.ErrPoolOverload}, 1024, 4096, obs)

	fc.push("GET / HTTP/1.1\r\n\r\n")
	c.OnTraffic()

	if !strings.HasPrefix(fc.output(), "HTTP/1.1 503 Service Unavailable\r\n") {
		t.Errorf("Expected 503 response, got %q", fc.output())
	}
	if !fc.isClosed() {
		t.Error("Expected connection to be closed")
	}
	if got := obs.failures(); len(got) != 1 || got[0] != "overloaded" {
		t.Errorf("Expected overloaded failure, got %v", got)
	}
}

func TestConnection_ClosedPoolFails(t *testing.T) {
	fc := &fakeConn{}
	c := newTestConnection(fc, &captureDispatcher{}, errPool{err: ants.ErrPoolClosed}, 1024, 4096, nil)

	fc.push("GET / HTTP/1.1\r\n\r\n")
	c.OnTraffic()

	if fc.output() != "" {
		t.Errorf("Expected no response bytes, got %q", fc.output())
	}
	if !fc.isClosed() {
		t.Error("Expected connection to be closed")
	}
}

func TestConnection_DispatchErrorClosesWithoutResponse(t *testing.T) {
	fc := &fakeConn{}
	d := &captureDispatcher{err: errors.New("boom")}
	c := newTestConnection(fc, d, inlinePool{}, 1024, 4096, nil)

	fc.push("GET / HTTP/1.1\r\n\r\n")
	c.OnTraffic()

	if fc.output() != "" {
		t.Errorf("Expected no response bytes, got %q", fc.output())
	}
	if c.State() != StateClosed || !fc.isClosed() {
		t.Error("Expected connection to be closed")
	}
}

func TestConnection_DispatchPanicClosesConnection(t *testing.T) {
	fc := &fakeConn{}
	d := DispatcherFunc(func(context.Context, []byte) ([]byte, error) {
		panic("handler exploded")
	})
	c := newTestConnection(fc, d, inlinePool{}, 1024, 4096, nil)

	fc.push("GET / HTTP/1.1\r\n\r\n")
	c.OnTraffic()

	if !fc.isClosed() {
		t.Error("Expected connection to be closed after panic")
	}
}

func TestConnection_ReadErrorFails(t *testing.T) {
	fc := &fakeConn{readErr: errors.New("reset by peer")}
	obs := &recordingObserver{}
	c := newTestConnection(fc, &captureDispatcher{}, inlinePool{}, 1024, 4096, obs)

	fc.push("GET")
	c.OnTraffic()

	if !fc.isClosed() {
		t.Error("Expected connection to be closed")
	}
	if got := obs.failures(); len(got) != 1 || got[0] != "io" {
		t.Errorf("Expected io failure, got %v", got)
	}
}

func TestConnection_ReadTimeout(t *testing.T) {
	fc := &fakeConn{}
	obs := &recordingObserver{}
	c := newConnection(context.Background(), fc, &captureDispatcher{}, inlinePool{}, connOptions{
		bufferSize:  1024,
		policy:      GrowthPolicy{Limit: 4096},
		readTimeout: 20 * time.Millisecond,
		observer:    obs,
	})

	fc.push("GET / HT")
	c.OnTraffic()

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != StateClosed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.State() != StateClosed || !fc.isClosed() {
		t.Fatal("Expected idle connection to be closed by the read timeout")
	}
	if got := obs.failures(); len(got) != 1 || got[0] != "read_timeout" {
		t.Errorf("Expected read_timeout failure, got %v", got)
	}
}

func TestConnection_OnCloseDropsLateResponse(t *testing.T) {
	fc := &fakeConn{}
	var queued func()
	pool := poolFunc(func(task func()) error {
		queued = task
		return nil
	})
	c := newTestConnection(fc, &captureDispatcher{}, pool, 1024, 4096, nil)

	fc.push("GET / HTTP/1.1\r\n\r\n")
	c.OnTraffic()
	c.OnClose(errors.New("peer gone"))
	queued()

	if fc.output() != "" {
		t.Errorf("Expected no write after peer closed, got %q", fc.output())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateRead:   "READ",
		StateWrite:  "WRITE",
		StateSend:   "SEND",
		StateClosed: "CLOSED",
		State(42):   "UNKNOWN",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("Expected %s, got %s", want, s.String())
		}
	}
}
