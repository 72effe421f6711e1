package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/eld"
	"eldhos/internal/model"
)

func TestDriverStreamWebsocket(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDriver(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/drivers/" + d.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snap struct {
		Type string `json:"type"`
		Data struct {
			Driver model.Driver `json:"driver"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, d.ID, snap.Data.Driver.ID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong streamMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Type)

	body, _ := json.Marshal(map[string]any{"status": model.OnDutyNotDriving, "location": map[string]any{"lat": 41.88, "lon": -87.63}})
	resp, err := http.Post(ts.URL+"/v1/drivers/"+d.ID+"/status", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, eld.EventDutyStatusChanged, msg.Event.Type)
	assert.Equal(t, d.ID, msg.Event.DriverID)
}

func TestDriverStreamUnknownDriver(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/drivers/ghost/stream", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEventStreamSSE(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDriver(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/drivers/" + d.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: heartbeat", lines.Text())

	env.srv.broker.Publish(d.ID, SSEEvent{Type: eld.EventLogCertified, DriverID: d.ID})
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "event: ") && lines.Text() != "event: heartbeat" {
			break
		}
	}
	assert.Equal(t, "event: "+eld.EventLogCertified, lines.Text())
}
