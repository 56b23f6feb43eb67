package uplink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/envnode/pipeline"
)

var readingTime = time.Date(2025, 11, 20, 12, 30, 0, 0, time.UTC)

func fullReading() pipeline.Reading {
	temp := float32(25.0)
	co2 := uint16(640)
	return pipeline.Reading{Node: "kitchen", Temperature: &temp, CO2: &co2, Time: readingTime}
}

func TestPayload_JSON(t *testing.T) {
	body, err := json.Marshal(NewPayload(fullReading()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"node":"kitchen","temp":25,"co2":640,"time":"2025-11-20T12:30:00Z"}`, string(body))

	temp := float32(-12.5)
	body, err = json.Marshal(NewPayload(pipeline.Reading{Temperature: &temp, Time: readingTime}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"temp":-12.5,"co2":null,"time":"2025-11-20T12:30:00Z"}`, string(body))
}

func TestHTTP_Publish(t *testing.T) {
	var got Payload
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload", r.URL.Path)
		header = r.Header
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTP(srv.URL+"/upload", WithHeader("Authorization", "Bearer secret"))
	require.NoError(t, sink.Publish(context.Background(), fullReading()))
	assert.Equal(t, NewPayload(fullReading()), got)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "Bearer secret", header.Get("Authorization"))
}

func TestHTTP_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewHTTP(srv.URL).Publish(context.Background(), fullReading())
	assert.ErrorContains(t, err, "400")
	assert.ErrorContains(t, err, "bad payload")
}

func TestHTTP_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	err := NewHTTP(srv.URL, WithTimeout(10*time.Millisecond)).Publish(context.Background(), fullReading())
	assert.ErrorContains(t, err, "upload failed")
}

func TestInflux_Publish(t *testing.T) {
	var mu sync.Mutex
	var body string
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(b)
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewInflux(srv.URL, "token", "home", "sensors")
	defer sink.Close()
	require.NoError(t, sink.Publish(context.Background(), fullReading()))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(body, "environment,node=kitchen "), body)
	assert.Contains(t, body, "temperature=25")
	assert.Contains(t, body, "co2=640i")
	assert.Contains(t, body, "1763641800000000000")
	assert.Contains(t, query, "org=home")
	assert.Contains(t, query, "bucket=sensors")
}

func TestInflux_PartialReading(t *testing.T) {
	bodies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	co2 := uint16(1200)
	sink := NewInflux(srv.URL, "token", "home", "sensors")
	defer sink.Close()
	require.NoError(t, sink.Publish(context.Background(), pipeline.Reading{CO2: &co2, Time: readingTime}))
	body := <-bodies
	assert.Contains(t, body, "co2=1200i")
	assert.NotContains(t, body, "temperature")
	assert.NotContains(t, body, "node=")
}

func TestLive_LatestAndWebSocket(t *testing.T) {
	live := NewLive()
	srv := httptest.NewServer(live.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readings/latest")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return live.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, live.Publish(context.Background(), fullReading()))

	var pushed Payload
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, NewPayload(fullReading()), pushed)

	resp, err = http.Get(srv.URL + "/readings/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var latest Payload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&latest))
	assert.Equal(t, NewPayload(fullReading()), latest)
}

func TestLive_ClientDisconnect(t *testing.T) {
	live := NewLive()
	srv := httptest.NewServer(live.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return live.Clients() == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.Close()
	require.Eventually(t, func() bool { return live.Clients() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, live.Publish(context.Background(), fullReading()))
}

// hijackRecorder hands a net.Pipe end to the websocket upgrader. A pipe has no
// buffering, so a peer that stops reading stalls every write.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn)), nil
}

func TestLive_StalledClientIsDropped(t *testing.T) {
	live := NewLive(WithWriteTimeout(20 * time.Millisecond))
	server, client := net.Pipe()
	defer client.Close()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	go live.Handler().ServeHTTP(&hijackRecorder{ResponseRecorder: httptest.NewRecorder(), conn: server}, req)

	// read the handshake, then never read again
	resp, err := http.ReadResponse(bufio.NewReader(client), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.Eventually(t, func() bool { return live.Clients() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- live.Publish(context.Background(), fullReading())
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled client")
	}
	assert.Equal(t, 0, live.Clients())
}

func TestLive_Serve(t *testing.T) {
	live := NewLive()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- live.Serve(ctx, "127.0.0.1:0")
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

// MockSink is a mock implementation of pipeline.Sink using testify/mock
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Publish(ctx context.Context, r pipeline.Reading) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func TestMulti_Publish(t *testing.T) {
	first := new(MockSink)
	second := new(MockSink)
	third := new(MockSink)
	errFirst := errors.New("first down")
	errThird := errors.New("third down")
	first.On("Publish", mock.Anything, fullReading()).Return(errFirst).Once()
	second.On("Publish", mock.Anything, fullReading()).Return(nil).Once()
	third.On("Publish", mock.Anything, fullReading()).Return(errThird).Once()

	err := Multi{first, second, Log{}, third}.Publish(context.Background(), fullReading())
	assert.ErrorIs(t, err, errFirst)
	assert.ErrorIs(t, err, errThird)
	first.AssertExpectations(t)
	second.AssertExpectations(t)
	third.AssertExpectations(t)

	assert.NoError(t, Multi{Log{}}.Publish(context.Background(), pipeline.Reading{}))
}
