package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/callrelay/internal/agent"
	"github.com/ent0n29/callrelay/internal/bookings"
	"github.com/ent0n29/callrelay/internal/config"
	"github.com/ent0n29/callrelay/internal/observability"
	"github.com/ent0n29/callrelay/internal/realtime"
	"github.com/ent0n29/callrelay/internal/relay"
	"github.com/ent0n29/callrelay/internal/session"
	"github.com/ent0n29/callrelay/internal/telephony"
	"github.com/ent0n29/callrelay/internal/tools"
)

var metricsSeq atomic.Int64

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
}

func newTestServer(t *testing.T, cfg config.Config, runner CallRunner, opts ...Option) (*httptest.Server, *session.Manager) {
	t.Helper()
	sessions := session.NewManager(time.Minute)
	srv := New(cfg, agent.Default(), sessions, runner, newTestMetrics(), opts...)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res.StatusCode, body
}

func TestRootReportsRunning(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil)
	status, body := getJSON(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Twilio Media Stream Server is running!", body["message"])
}

func TestReadyRequiresOpenAIKey(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil)
	status, body := getJSON(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not_ready", body["status"])

	ready, _ := newTestServer(t, config.Config{OpenAIAPIKey: "sk-test"}, nil, WithBookings(bookings.NewInMemoryStore()))
	status, body = getJSON(t, ready.URL+"/readyz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "in-memory", body["booking_store"])
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil)
	status, body := getJSON(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disabled", body["booking_store"])
	assert.Equal(t, false, body["outbound_enabled"])
}

func TestVoiceReturnsStreamTwiML(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/voice", nil)
	require.NoError(t, err)
	req.Host = "relay.example.test"
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/xml", res.Header.Get("Content-Type"))
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	assert.Contains(t, buf.String(), "<Say>Connecting you to the AI sales agent.</Say>")
	assert.Contains(t, buf.String(), `url="wss://relay.example.test/media-stream"`)
}

func TestVoicePrefersConfiguredPublicHost(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{PublicHost: "abc.ngrok.io"}, nil)
	res, err := http.Get(ts.URL + "/voice")
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	assert.Contains(t, buf.String(), `url="wss://abc.ngrok.io/media-stream"`)
}

func TestVoiceRejectsUnsignedWebhook(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{PublicHost: "relay.example.test"}, nil,
		WithSignatureValidator(telephony.NewSignatureValidator("token")))
	res, err := http.Post(ts.URL+"/voice", "application/x-www-form-urlencoded", strings.NewReader("CallSid=CA1"))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestMediaStreamRequiresOpenAIKey(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, relay.NewBridge(nil, relay.Options{}, nil, newTestMetrics(), nil))
	res, err := http.Get(ts.URL + "/media-stream")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestGetUnknownCall(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil)
	status, body := getJSON(t, ts.URL+"/v1/calls/nope")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "call_not_found", body["code"])
}

func TestGetCallWithoutToolCallsServesEmptyList(t *testing.T) {
	ts, sessions := newTestServer(t, config.Config{}, nil)
	c := sessions.Create()

	status, body := getJSON(t, ts.URL+"/v1/calls/"+c.ID)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, body["tool_calls"])
}

type limitRecordingStore struct {
	*bookings.InMemoryStore
	limits []int
}

func (s *limitRecordingStore) List(ctx context.Context, limit int) ([]bookings.Booking, error) {
	s.limits = append(s.limits, limit)
	return s.InMemoryStore.List(ctx, limit)
}

func TestListBookingsLimit(t *testing.T) {
	store := &limitRecordingStore{InMemoryStore: bookings.NewInMemoryStore()}
	ts, _ := newTestServer(t, config.Config{}, nil, WithBookings(store))

	for _, q := range []string{"", "?limit=7", "?limit=2000000000"} {
		status, _ := getJSON(t, ts.URL+"/v1/bookings"+q)
		assert.Equal(t, http.StatusOK, status, q)
	}
	assert.Equal(t, []int{defaultBookingLimit, 7, maxBookingLimit}, store.limits)

	status, body := getJSON(t, ts.URL+"/v1/bookings?limit=-1")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_limit", body["code"])
}

type fakeDialer struct {
	calls []string
	err   error
}

func (f *fakeDialer) Call(_ context.Context, to string) (telephony.CallResult, error) {
	f.calls = append(f.calls, to)
	if f.err != nil {
		return telephony.CallResult{}, f.err
	}
	return telephony.CallResult{SID: "CA9", Status: "queued", To: to}, nil
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestOutboundCall(t *testing.T) {
	dialer := &fakeDialer{}
	ts, _ := newTestServer(t, config.Config{DialRatePerMinute: 1}, nil, WithDialer(dialer))

	status, body := postJSON(t, ts.URL+"/v1/calls/outbound", `{"to":"+15551234567"}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "CA9", body["call_sid"])

	status, body = postJSON(t, ts.URL+"/v1/calls/outbound", `{"to":"+15551234567"}`)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", body["code"])
	assert.Len(t, dialer.calls, 1)
}

func TestOutboundCallErrors(t *testing.T) {
	dialer := &fakeDialer{err: fmt.Errorf("%q: %w", "123", telephony.ErrInvalidNumber)}
	ts, _ := newTestServer(t, config.Config{}, nil, WithDialer(dialer))

	status, body := postJSON(t, ts.URL+"/v1/calls/outbound", `{"to":"123"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_number", body["code"])

	dialer.err = errors.New("upstream down")
	status, _ = postJSON(t, ts.URL+"/v1/calls/outbound", `{"to":"+15551234567"}`)
	assert.Equal(t, http.StatusBadGateway, status)

	status, _ = postJSON(t, ts.URL+"/v1/calls/outbound", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOutboundCallNotConfigured(t *testing.T) {
	ts, _ := newTestServer(t, config.Config{}, nil)
	status, _ := postJSON(t, ts.URL+"/v1/calls/outbound", `{"to":"+15551234567"}`)
	assert.Equal(t, http.StatusNotImplemented, status)
}

// fakeRealtime is a realtime backend that records client messages and
// plays scripted server events.
type fakeRealtime struct {
	srv      *httptest.Server
	received chan map[string]any
	send     chan string
	authz    atomic.Value
}

func newFakeRealtime(t *testing.T) *fakeRealtime {
	t.Helper()
	f := &fakeRealtime{
		received: make(chan map[string]any, 64),
		send:     make(chan string, 64),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.authz.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		done := make(chan struct{})
		go func() {
			for {
				select {
				case raw := <-f.send:
					if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()
		defer close(done)
		defer close(f.received)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				f.received <- msg
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtime) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRealtime) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg, ok := <-f.received:
		require.True(t, ok, "realtime connection closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("no message reached the realtime backend")
		return nil
	}
}

func readTelephony(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestMediaStreamEndToEnd(t *testing.T) {
	backend := newFakeRealtime(t)
	metrics := newTestMetrics()
	store := bookings.NewInMemoryStore()
	sessions := session.NewManager(time.Minute)

	dialer := realtime.NewDialer(realtime.DialerConfig{URL: backend.url(), Model: "gpt-4o-realtime-preview", APIKey: "sk-test"}, nil)
	bridge := relay.NewBridge(relay.RealtimeDialer(dialer), relay.Options{
		Profile:      agent.Default(),
		Registry:     tools.NewDefaultRegistry(store),
		ReadyTimeout: 5 * time.Second,
	}, sessions, metrics, nil)

	srv := New(config.Config{OpenAIAPIKey: "sk-test"}, agent.Default(), sessions, bridge, metrics, WithBookings(store))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	phone, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/media-stream", nil)
	require.NoError(t, err)
	defer phone.Close()

	require.NoError(t, phone.WriteMessage(websocket.TextMessage, []byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)))
	require.NoError(t, phone.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"start","streamSid":"MZ123","start":{"streamSid":"MZ123","callSid":"CA1","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`)))

	update := backend.next(t)
	assert.Equal(t, "session.update", update["type"])
	assert.Equal(t, "Bearer sk-test", backend.authz.Load())
	greeting := backend.next(t)
	assert.Equal(t, "response.create", greeting["type"])
	assert.NotNil(t, greeting["response"])

	require.NoError(t, phone.WriteMessage(websocket.TextMessage, []byte(`{"event":"media","streamSid":"MZ123","media":{"payload":"/3+A"}}`)))
	appendMsg := backend.next(t)
	assert.Equal(t, "input_audio_buffer.append", appendMsg["type"])
	assert.Equal(t, "/3+A", appendMsg["audio"])

	backend.send <- `{"type":"response.created","response":{"id":"resp_1"}}`
	backend.send <- `{"type":"response.audio.delta","response_id":"resp_1","item_id":"item_1","delta":"AAA="}`
	media := readTelephony(t, phone)
	assert.Equal(t, "media", media["event"])
	assert.Equal(t, "MZ123", media["streamSid"])
	assert.Equal(t, map[string]any{"payload": "AAA="}, media["media"])

	backend.send <- `{"type":"input_audio_buffer.speech_started","audio_start_ms":100,"item_id":"item_2"}`
	clear := readTelephony(t, phone)
	assert.Equal(t, map[string]any{"event": "clear", "streamSid": "MZ123"}, clear)

	backend.send <- `{"type":"response.function_call_arguments.done","response_id":"resp_2","item_id":"item_3","call_id":"call_1","name":"book_appointment","arguments":"{\"prospect_name\":\"Dana\",\"date\":\"2025-03-04\",\"time\":\"2:00 PM\"}"}`
	output := backend.next(t)
	assert.Equal(t, "conversation.item.create", output["type"])
	item := output["item"].(map[string]any)
	assert.Equal(t, "call_1", item["call_id"])
	assert.Contains(t, item["output"], `"success":true`)
	cont := backend.next(t)
	assert.Equal(t, "response.create", cont["type"])
	assert.Nil(t, cont["response"])

	require.NoError(t, phone.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	_ = phone.Close()

	// Telephony closing tears down the AI leg.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-backend.received:
			return !ok
		default:
			return false
		}
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		calls := sessions.List()
		return len(calls) == 1 && calls[0].Status == session.StatusEnded
	}, 3*time.Second, 5*time.Millisecond)
	call := sessions.List()[0]
	assert.Equal(t, "MZ123", call.StreamSID)
	assert.Equal(t, "telephony_closed", call.EndReason)
	assert.Equal(t, 1, call.BargeIns)
	require.Len(t, call.ToolCalls, 1)
	assert.True(t, call.ToolCalls[0].Success)

	status, body := getJSON(t, ts.URL+"/v1/bookings")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["bookings"], 1)
}

func TestMediaStreamClosesTelephonyWhenAIFails(t *testing.T) {
	metrics := newTestMetrics()
	sessions := session.NewManager(time.Minute)
	failing := func(context.Context) (relay.AIConn, error) { return nil, errors.New("401 unauthorized") }
	bridge := relay.NewBridge(failing, relay.Options{Profile: agent.Default()}, sessions, metrics, nil)

	srv := New(config.Config{OpenAIAPIKey: "sk-test"}, agent.Default(), sessions, bridge, metrics)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	phone, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/media-stream", nil)
	require.NoError(t, err)
	defer phone.Close()

	require.NoError(t, phone.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = phone.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)

	require.Eventually(t, func() bool {
		calls := sessions.List()
		return len(calls) == 1 && calls[0].EndReason == "ai_dial_failed"
	}, 3*time.Second, 5*time.Millisecond)
}
