package websocket

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type socketClient struct {
	id     *uuid.UUID
	socket *websocket.Conn
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	return client.socket.WriteJSON(message)
}

// Read loops on the client connection, stamping each inbound message with
// this client's UUID before emitting it on the provided channel. The loop
// (and therefore this method) only returns once the connection errors or
// closes; deregistering the client afterwards is the caller's job.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		var received SocketMessage
		if err := client.socket.ReadJSON(&received); err != nil {
			return err
		}

		received.Origin = client.id
		receiveCh <- &received
	}
}

func (client *socketClient) Close() {
	client.socket.Close()
}
