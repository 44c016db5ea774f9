package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/namuol/magic-eye-mirror/pipeline"
	"github.com/namuol/magic-eye-mirror/stereogram"
)

func receive[T any](t *testing.T, c *Client[T]) T {
	t.Helper()
	select {
	case v := <-c.C:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
	var zero T
	return zero
}

func TestAddRemoveClient(t *testing.T) {
	cm := NewConnectionManager[Message]("test", 4)
	defer cm.Shutdown()

	c, ok := cm.AddClient("127.0.0.1:12345", "TestAgent/1.0")
	if !ok {
		t.Fatal("AddClient() should succeed")
	}
	if cm.Active() != 1 {
		t.Errorf("Active() = %d; want 1", cm.Active())
	}
	cm.RemoveClient(c)
	cm.RemoveClient(c)
	if cm.Active() != 0 {
		t.Errorf("Active() after remove = %d; want 0", cm.Active())
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done() not closed after RemoveClient")
	}
}

func TestBroadcastDelivers(t *testing.T) {
	cm := NewConnectionManager[Message]("test", 4)
	defer cm.Shutdown()
	a, _ := cm.AddClient("a", "")
	b, _ := cm.AddClient("b", "")

	want := Message{Type: "stats", Msg: "{}"}
	cm.Broadcast(want)
	if got := receive(t, a); got != want {
		t.Errorf("client a got %+v; want %+v", got, want)
	}
	if got := receive(t, b); got != want {
		t.Errorf("client b got %+v; want %+v", got, want)
	}
	if last, ok := cm.Last(); !ok || last != want {
		t.Errorf("Last() = %+v, %v; want %+v", last, ok, want)
	}
	if a.MessagesSent() != 1 {
		t.Errorf("MessagesSent() = %d; want 1", a.MessagesSent())
	}
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	cm := NewConnectionManager[int]("test", 1)
	defer cm.Shutdown()
	c, _ := cm.AddClient("slow", "")

	cm.Broadcast(1)
	deadline := time.Now().Add(2 * time.Second)
	for cm.Stats().TotalMessages < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cm.Broadcast(2)
	for cm.Stats().DroppedClientMsgs < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := cm.Stats().DroppedClientMsgs; got != 1 {
		t.Errorf("DroppedClientMsgs = %d; want 1", got)
	}
	if v := receive(t, c); v != 1 {
		t.Errorf("slow client got %d; want the first value", v)
	}
	if v, _ := cm.Last(); v != 2 {
		t.Errorf("Last() = %d; want 2", v)
	}
}

func TestLastEmpty(t *testing.T) {
	cm := NewConnectionManager[[]byte]("test", 1)
	defer cm.Shutdown()
	if _, ok := cm.Last(); ok {
		t.Error("Last() ok before any broadcast")
	}
}

func TestCleanupStaleConnections(t *testing.T) {
	cm := NewConnectionManager[int]("test", 1)
	defer cm.Shutdown()
	cm.StaleAfter = time.Minute
	c, _ := cm.AddClient("idle", "")

	if n := cm.cleanupStaleConnections(time.Now()); n != 0 {
		t.Errorf("fresh client swept: %d", n)
	}
	if n := cm.cleanupStaleConnections(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("cleanupStaleConnections() = %d; want 1", n)
	}
	select {
	case <-c.Done():
	default:
		t.Error("stale client not disconnected")
	}
}

func TestShutdown(t *testing.T) {
	cm := NewConnectionManager[int]("test", 1)
	c, _ := cm.AddClient("x", "")
	cm.Shutdown()
	cm.Shutdown()
	select {
	case <-c.Done():
	default:
		t.Error("client not disconnected by Shutdown")
	}
	if _, ok := cm.AddClient("y", ""); ok {
		t.Error("AddClient() after Shutdown succeeded")
	}
}

func TestFormatSSEResponse(t *testing.T) {
	got := formatSSEResponse(Message{Type: "stats", Msg: `{"seq":1}`})
	want := "event: stats\ndata: {\"seq\":1}\n\n"
	if got != want {
		t.Errorf("formatSSEResponse() = %q; want %q", got, want)
	}
}

func TestEventsHandler(t *testing.T) {
	cm := NewConnectionManager[Message]("events", 8)
	defer cm.Shutdown()
	srv := httptest.NewServer(EventsHandler(cm))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, _ := r.ReadString('\n')
	if !strings.Contains(line, "connected") {
		t.Fatalf("first line = %q; want connection event", line)
	}
	r.ReadString('\n')

	cm.Broadcast(Message{Type: "stats", Msg: `{"seq":9}`})
	event, _ := r.ReadString('\n')
	data, _ := r.ReadString('\n')
	if event != "event: stats\n" || data != "data: {\"seq\":9}\n" {
		t.Errorf("event = %q %q", event, data)
	}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMJPEGHandlerStartsWithLastFrame(t *testing.T) {
	cm := NewConnectionManager[[]byte]("frames", 2)
	defer cm.Shutdown()
	frame := testJPEG(t)
	cm.Broadcast(frame)

	srv := httptest.NewServer(MJPEGHandler(cm))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)
	boundary, _ := r.ReadString('\n')
	if boundary != "--"+mjpegBoundary+"\r\n" {
		t.Errorf("boundary line = %q", boundary)
	}
	for {
		l, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading part headers: %v", err)
		}
		if l == "\r\n" {
			break
		}
	}
	body := make([]byte, len(frame))
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("reading part body: %v", err)
	}
	if !bytes.Equal(body, frame) {
		t.Error("first part is not the last broadcast frame")
	}
}

func TestFramePresenter(t *testing.T) {
	frames := NewConnectionManager[[]byte]("frames", 4)
	events := NewConnectionManager[Message]("events", 4)
	defer frames.Shutdown()
	defer events.Shutdown()
	viewer, _ := frames.AddClient("v", "")
	listener, _ := events.AddClient("l", "")

	p := &FramePresenter{Frames: frames, Events: events, Quality: 80, StatsEvery: 2}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	params := stereogram.Params{MinPx: 2, MaxPx: 3}

	p.Present(pipeline.Frame{Seq: 1, Image: img, Params: params, DepthGeneration: 1})
	first := receive(t, viewer)
	if _, err := jpeg.Decode(bytes.NewReader(first)); err != nil {
		t.Fatalf("broadcast frame is not a JPEG: %v", err)
	}

	p.Present(pipeline.Frame{Seq: 2, Image: img, Params: params, DepthGeneration: 1, Frozen: true})
	second := receive(t, viewer)
	if &second[0] != &first[0] {
		t.Error("re-presented frame was encoded again")
	}

	msg := receive(t, listener)
	if msg.Type != "stats" {
		t.Fatalf("event type = %q; want stats", msg.Type)
	}
	var st FrameStats
	if err := json.Unmarshal([]byte(msg.Msg), &st); err != nil {
		t.Fatalf("stats payload: %v", err)
	}
	if st.Seq != 2 || !st.Frozen || st.MinPx != 2 || st.Viewers != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFramePresenterForgetsStaleFrameWithoutViewers(t *testing.T) {
	frames := NewConnectionManager[[]byte]("frames", 4)
	defer frames.Shutdown()
	p := &FramePresenter{Frames: frames, Quality: 80}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	first := stereogram.Params{MinPx: 2, MaxPx: 3, Seed: stereogram.Seed{0.1}}
	second := stereogram.Params{MinPx: 2, MaxPx: 3, Seed: stereogram.Seed{0.2}}

	viewer, _ := frames.AddClient("v", "")
	p.Present(pipeline.Frame{Seq: 1, Image: img, Params: first, DepthGeneration: 1})
	receive(t, viewer)
	frames.RemoveClient(viewer)

	// Re-presenting the same image keeps it valid.
	p.Present(pipeline.Frame{Seq: 2, Image: img, Params: first, DepthGeneration: 1, Frozen: true})
	if _, ok := frames.Last(); !ok {
		t.Fatal("Last() empty after re-presenting the encoded image")
	}

	p.Present(pipeline.Frame{Seq: 3, Image: img, Params: second, DepthGeneration: 1})
	if _, ok := frames.Last(); ok {
		t.Error("Last() still holds a frame older than the latest one")
	}

	late, _ := frames.AddClient("late", "")
	p.Present(pipeline.Frame{Seq: 4, Image: img, Params: second, DepthGeneration: 1})
	got := receive(t, late)
	if last, ok := frames.Last(); !ok || !bytes.Equal(last, got) {
		t.Error("Last() does not match the frame sent to the new viewer")
	}
}
