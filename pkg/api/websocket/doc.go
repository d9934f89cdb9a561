// Package websocket provides real-time story updates via WebSocket.
//
// Clients can connect to /api/v1/stories/:id/ws to receive the story's
// current state followed by every change until it stops.
package websocket
