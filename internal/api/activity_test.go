package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"grabbit/internal/event"
	"grabbit/internal/http/websocket"
	"grabbit/internal/job"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJobService struct{}

func (stubJobService) AllJobs() []*job.Job                   { return nil }
func (stubJobService) Job(uuid.UUID) *job.Job                { return nil }
func (stubJobService) History(uint64) ([]*job.Record, error) { return nil, nil }
func (stubJobService) ReleaseJob(uuid.UUID) error            { return nil }

// newSocketConn spins up a hub with the broadcaster bound to it, exposes
// it over a test HTTP server and returns a connected websocket client.
func newSocketConn(t *testing.T) *gorilla.Conn {
	hub := websocket.NewHub()
	newBroadcaster(hub, stubJobService{}, event.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.UpgradeToSocket(w, r)
	}))
	t.Cleanup(srv.Close)

	// The hub's event loop may not have started by the time we dial
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	var conn *gorilla.Conn
	require.Eventually(t, func() bool {
		dialled, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return false
		}

		conn = dialled
		return true
	}, time.Second*2, time.Millisecond*10)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) *websocket.SocketMessage {
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(time.Second*5)))

	var message websocket.SocketMessage
	require.Nil(t, conn.ReadJSON(&message))
	return &message
}

func Test_ActivitySocket_WelcomeCarriesJobList(t *testing.T) {
	conn := newSocketConn(t)

	welcome := readMessage(t, conn)
	assert.Equal(t, "CONNECTION_ESTABLISHED", welcome.Title)
	assert.Equal(t, websocket.Welcome, welcome.Type)
	assert.Contains(t, welcome.Body, "jobs")
	assert.Contains(t, welcome.Body, "client")
}

func Test_ActivitySocket_JobListCommandReplies(t *testing.T) {
	conn := newSocketConn(t)
	readMessage(t, conn)

	require.Nil(t, conn.WriteJSON(websocket.SocketMessage{
		Title: CommandJobList,
		ID:    7,
		Type:  websocket.Command,
	}))

	reply := readMessage(t, conn)
	assert.Equal(t, "COMMAND_SUCCESS", reply.Title)
	assert.Equal(t, websocket.Response, reply.Type)
	assert.Equal(t, 7, reply.ID)
	assert.Contains(t, reply.Body, "jobs")
}

func Test_ActivitySocket_JobDetailsRejectsBadID(t *testing.T) {
	conn := newSocketConn(t)
	readMessage(t, conn)

	require.Nil(t, conn.WriteJSON(websocket.SocketMessage{
		Title: CommandJobDetails,
		Body:  map[string]interface{}{"id": "not-a-uuid"},
		ID:    3,
		Type:  websocket.Command,
	}))

	reply := readMessage(t, conn)
	assert.Equal(t, "COMMAND_FAILURE", reply.Title)
	assert.Equal(t, websocket.ErrorResponse, reply.Type)
	assert.Equal(t, 3, reply.ID)
}

func Test_ActivitySocket_UnknownCommandFails(t *testing.T) {
	conn := newSocketConn(t)
	readMessage(t, conn)

	require.Nil(t, conn.WriteJSON(websocket.SocketMessage{
		Title: "SELF_DESTRUCT",
		ID:    9,
		Type:  websocket.Command,
	}))

	reply := readMessage(t, conn)
	assert.Equal(t, "COMMAND_FAILURE", reply.Title)
	assert.Equal(t, websocket.ErrorResponse, reply.Type)
	assert.Equal(t, "Unknown command", reply.Body["error"])
}
