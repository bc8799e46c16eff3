package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socketClient wraps one upgraded connection. Writes are serialized with
// a mutex because gorilla connections permit only one concurrent writer.
type socketClient struct {
	id     *uuid.UUID
	socket *websocket.Conn

	writeMutex sync.Mutex
	closed     bool
}

// SendMessage marshals the message to JSON and writes it to the socket.
func (client *socketClient) SendMessage(message *SocketMessage) error {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()

	if client.closed {
		return websocket.ErrCloseSent
	}

	return client.socket.WriteJSON(message)
}

// Read runs the clients read loop, tagging each inbound message with this
// clients id before forwarding it. Returns when the connection drops.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		var message SocketMessage
		if err := client.socket.ReadJSON(&message); err != nil {
			return err
		}

		message.Origin = client.id
		receiveCh <- &message
	}
}

// Close shuts the underlying socket. Safe to call more than once.
func (client *socketClient) Close() {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()

	if client.closed {
		return
	}

	client.closed = true
	client.socket.Close()
}
