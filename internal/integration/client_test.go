package integration

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"roomrelay/pkg/types"
)

const receiveTimeout = 5 * time.Second

// testClient is a websocket peer that records every inbound envelope.
type testClient struct {
	t    *testing.T
	conn *websocket.Conn

	writeMu sync.Mutex
	frames  chan types.Envelope
	done    chan struct{}
}

func dial(t *testing.T, serverAddr string) *testClient {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/ws"}
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	require.NoError(t, err)

	c := &testClient{
		t:      t,
		conn:   conn,
		frames: make(chan types.Envelope, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() { c.close() })
	return c
}

func (c *testClient) readLoop() {
	defer close(c.done)
	for {
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.frames <- env
	}
}

func (c *testClient) close() {
	_ = c.conn.Close()
	<-c.done
}

func (c *testClient) emit(event string, data interface{}) {
	c.t.Helper()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	require.NoError(c.t, c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

func (c *testClient) emitRaw(text string) {
	c.t.Helper()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

func (c *testClient) join(username, room string, section types.Section, city string) {
	c.emit(types.EventJoin, types.JoinPayload{Username: username, Room: room, Section: section, City: city})
}

func (c *testClient) say(username, room string, section types.Section, text string) {
	c.emit(types.EventMessage, types.MessagePayload{Username: username, Room: room, Section: section, Message: text})
}

// next returns the next frame or fails the test.
func (c *testClient) next() types.Envelope {
	c.t.Helper()
	select {
	case env := <-c.frames:
		return env
	case <-time.After(receiveTimeout):
		c.t.Fatal("timed out waiting for a frame")
		return types.Envelope{}
	}
}

// expect reads the next frame, checks its event and decodes its data into out.
func (c *testClient) expect(event string, out interface{}) {
	c.t.Helper()
	env := c.next()
	require.Equal(c.t, event, env.Event, "payload: %s", string(env.Data))
	if out != nil {
		require.NoError(c.t, json.Unmarshal(env.Data, out))
	}
}

// expectSilence fails if any frame arrives within d.
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	select {
	case env := <-c.frames:
		c.t.Fatalf("unexpected %s frame: %s", env.Event, string(env.Data))
	case <-time.After(d):
	}
}
