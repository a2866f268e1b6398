package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"roomrelay/internal/config"
	"roomrelay/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Relay.Rooms = []string{"Ankara", "Bursa"}
	cfg.Database.Path = filepath.Join(t.TempDir(), "relay.db")
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	application, err := NewApplication(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = application.Stop(stopCtx)
	})
	return application
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = -1

	application, err := NewApplication(context.Background(), cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	require.Nil(t, application)
}

func TestNewApplication_SQLiteBackendFailsOnBadPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Backend = config.BackendSQLite
	cfg.Database.Path = filepath.Join("/dev/null", "nested", "relay.db")

	_, err := NewApplication(context.Background(), cfg)
	require.Error(t, err)
}

func TestApplication_ServesAndStops(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.History.Backend = backend
			application := startApp(t, cfg)

			addr := application.GetAddr()
			require.NotEqual(t, "127.0.0.1:0", addr)

			resp, err := http.Get("http://" + addr + "/health")
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			_ = resp.Body.Close()

			ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
			require.NoError(t, err)
			defer ws.Close()

			require.NoError(t, ws.WriteJSON(map[string]interface{}{
				"event": types.EventJoin,
				"data":  types.JoinPayload{Username: "ayse", Room: "Ankara", Section: types.SectionChat, City: "Ankara"},
			}))
			require.NoError(t, ws.WriteJSON(map[string]interface{}{
				"event": types.EventMessage,
				"data":  types.MessagePayload{Username: "ayse", Room: "Ankara", Section: types.SectionChat, Message: "merhaba"},
			}))

			require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
			var seen []string
			for len(seen) < 3 {
				var env types.Envelope
				require.NoError(t, ws.ReadJSON(&env))
				seen = append(seen, env.Event)
			}
			require.Equal(t, []string{types.EventMessageHistory, types.EventRoomUpdate, types.EventMessage}, seen)

			resp, err = http.Get("http://" + addr + "/api/rooms/Ankara/history")
			require.NoError(t, err)
			var history []types.Message
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
			_ = resp.Body.Close()
			require.Len(t, history, 1)
			require.Equal(t, "merhaba", history[0].Body)

			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, application.Stop(stopCtx))

			_, err = http.Get("http://" + addr + "/health")
			require.Error(t, err)
		})
	}
}

func TestApplication_StartFailsWhenPortTaken(t *testing.T) {
	first := startApp(t, testConfig(t))

	cfg := testConfig(t)
	host, port := splitAddr(t, first.GetAddr())
	cfg.HTTP.Host = host
	cfg.HTTP.Port = port

	second, err := NewApplication(context.Background(), cfg)
	require.NoError(t, err)
	require.Error(t, second.Start(context.Background()))
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portText, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	return host, port
}
