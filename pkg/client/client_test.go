package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devgrid/portal/pkg/protocol"
)

func TestBuildURL(t *testing.T) {
	user := Identity{UserID: "AAAA-BBBB-CCCC-DDDD"}

	tests := []struct {
		name     string
		addr     string
		identity Identity
		want     string
		wantErr  bool
	}{
		{
			name:     "bare host gets ws scheme and path",
			addr:     "example.com:8090",
			identity: user,
			want:     "ws://example.com:8090/ws?UserID=AAAA-BBBB-CCCC-DDDD",
		},
		{
			name:     "https becomes wss",
			addr:     "https://example.com",
			identity: user,
			want:     "wss://example.com/ws?UserID=AAAA-BBBB-CCCC-DDDD",
		},
		{
			name:     "device params included",
			addr:     "ws://example.com/ws",
			identity: Identity{DevSN: "AAAA-000000000000000000000000|5E", DevName: "thermo", DevFW: "1.0"},
			want:     "ws://example.com/ws?DevFW=1.0&DevName=thermo&DevSN=AAAA-000000000000000000000000%7C5E",
		},
		{
			name:    "missing identity",
			addr:    "example.com:8090",
			wantErr: true,
		},
		{
			name:     "both identities",
			addr:     "example.com:8090",
			identity: Identity{UserID: "AAAA-BBBB-CCCC-DDDD", DevSN: "X"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildURL(tt.addr, tt.identity)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := (&Options{}).withDefaults()
	assert.Equal(t, 1*time.Second, opts.ReconnectDelay)
	assert.Equal(t, 30*time.Second, opts.MaxReconnectDelay)
	assert.Equal(t, 10, opts.MaxReconnectAttempts)

	// A negative budget disables reconnection but is preserved.
	opts = (&Options{MaxReconnectAttempts: -1}).withDefaults()
	assert.Equal(t, -1, opts.MaxReconnectAttempts)
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer upgrades and echoes every binary frame back.
func echoServer(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestSendReceiveRoundTrip(t *testing.T) {
	addr := echoServer(t)

	conn, err := NewConnection(addr, Identity{UserID: "AAAA-BBBB-CCCC-DDDD"}, Options{MaxReconnectAttempts: -1})
	require.NoError(t, err)
	require.NoError(t, conn.Connect())
	defer conn.Close()

	require.NoError(t, conn.JoinGroup("CHAT-ROOM-0001"))

	select {
	case pkt := <-conn.Incoming():
		assert.Equal(t, protocol.HeaderSys, pkt.Header)
		assert.Equal(t, protocol.ArgJoinGroup, pkt.Argument)
		var jv protocol.JoinGroupValue
		require.NoError(t, pkt.DecodeValue(&jv))
		assert.Equal(t, "CHAT-ROOM-0001", jv.GroupID)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	conn, err := NewConnection("example.invalid:1", Identity{UserID: "AAAA-BBBB-CCCC-DDDD"}, Options{})
	require.NoError(t, err)

	err = conn.JoinGroup("CHAT-ROOM-0001")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectGivesUpAfterBudget(t *testing.T) {
	// Serve one upgrade and drop it from the server side, then refuse
	// every redial so the backoff loop runs out its budget. Closing the
	// httptest server is not enough: it forgets hijacked connections.
	var served atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Swap(true) {
			http.Error(w, "gone", http.StatusServiceUnavailable)
			return
		}
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	t.Cleanup(ts.Close)
	addr := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, err := NewConnection(addr, Identity{UserID: "AAAA-BBBB-CCCC-DDDD"}, Options{
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectDelay:    10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Connect())
	defer conn.Close()

	deadline := time.After(5 * time.Second)
	attempts := 0
	for {
		select {
		case update := <-conn.StateChanges():
			switch update.State {
			case StateTypeReconnecting:
				attempts = update.Attempt
			case StateTypeGivenUp:
				assert.LessOrEqual(t, attempts, 2)
				return
			}
		case <-deadline:
			t.Fatal("reconnect loop never gave up")
		}
	}
}
