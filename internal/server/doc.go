// Package server is the live side of the chat service.
//
// The Hub keeps the connection registry (one WebSocket per user), the room
// membership index (which users joined which chat rooms for live delivery)
// and the fan-out broadcaster that queues events on each recipient's
// connection. Client runs the read and write pumps of one connection, and
// Protocol turns inbound join_chat and message frames into hub joins and
// chat.Service calls. Server exposes the WebSocket handshake and the REST
// API through gin.
//
// Each connection has a bounded FIFO outbound queue. Enqueueing never
// blocks; a connection whose queue is full is disconnected, which leaves
// other recipients unaffected. Events queued by one goroutine reach every
// recipient in the order they were queued.
package server
