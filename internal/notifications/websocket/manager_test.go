package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/internal/notifications"
)

func newServer(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	manager := NewManager(zap.NewNop())
	r := gin.New()
	NewHandler(manager, zap.NewNop()).RegisterRoutes(r.Group("/api/v1"))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		manager.Close()
	})
	return manager, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws" + query
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello notifications.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, notifications.MessageTypeStatus, hello.Type)
	return conn
}

func read(t *testing.T, conn *gorilla.Conn) notifications.Message {
	t.Helper()
	var msg notifications.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForConnections(t *testing.T, m *Manager, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.GetConnectionCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestCommittedTransactionsReachSubscribers(t *testing.T) {
	manager, srv := newServer(t)
	alice := chain.AddressFromSeed("alice")
	bob := chain.AddressFromSeed("bob")

	all := dial(t, srv, "")
	onlyBob := dial(t, srv, "?account="+bob.String())
	waitForConnections(t, manager, 2)

	exec := chain.NewExecutor(chain.NewMemoryStore(), nil)
	detach := notifications.NewService(manager, nil).Attach(exec)
	defer detach()

	_, err := exec.Submit(context.Background(), alice, "alice.only", func(tx *chain.Tx) error {
		return tx.PutState("k/1", []byte("v"))
	})
	require.NoError(t, err)
	_, err = exec.Submit(context.Background(), alice, "pay.bob", func(tx *chain.Tx) error {
		return tx.Emit(alice, "Transfer", map[string]string{"to": bob.String()}, bob)
	})
	require.NoError(t, err)

	first := read(t, all)
	assert.Equal(t, notifications.MessageTypeTransaction, first.Type)
	assert.Equal(t, "alice.only", first.Data["method"])
	assert.Equal(t, "pay.bob", read(t, all).Data["method"])

	// the follower of bob never sees alice's private transaction
	msg := read(t, onlyBob)
	assert.Equal(t, "pay.bob", msg.Data["method"])
}

func TestSubscribeChangesFilter(t *testing.T) {
	manager, srv := newServer(t)
	carol := chain.AddressFromSeed("carol")

	conn := dial(t, srv, "")
	waitForConnections(t, manager, 1)

	require.NoError(t, conn.WriteJSON(notifications.Message{
		Type: notifications.MessageTypeSubscribe,
		Data: map[string]interface{}{"account": carol.String()},
	}))
	ack := read(t, conn)
	assert.Equal(t, "subscribed", ack.Data["status"])

	require.NoError(t, manager.Broadcast(notifications.Message{
		Type:     notifications.MessageTypeTransaction,
		Data:     map[string]interface{}{"method": "other"},
		Accounts: []chain.Address{chain.AddressFromSeed("dave")},
	}))
	require.NoError(t, manager.Broadcast(notifications.Message{
		Type:     notifications.MessageTypeTransaction,
		Data:     map[string]interface{}{"method": "mine"},
		Accounts: []chain.Address{carol},
	}))
	assert.Equal(t, "mine", read(t, conn).Data["method"])

	require.NoError(t, conn.WriteJSON(notifications.Message{Type: "bogus"}))
	assert.Equal(t, notifications.MessageTypeError, read(t, conn).Type)
}

func TestServeWSRejectsBadAccount(t *testing.T) {
	_, srv := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws?account=nope"
	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
