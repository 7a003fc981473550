// Package wsserver delivers workspace change events to connected clients over
// WebSocket.
//
// # Frame protocol
//
// All frames are JSON text messages carrying a "type" field.
//
// Server to client:
//
//   - {"type":"hello","clientId":"<uuid>"} once, right after the upgrade.
//   - {"type":"fs:tree"} when the shape of the workspace tree changed.
//   - {"type":"fs:change","path":"/a.txt"} when a file's content changed.
//   - {"type":"git"} when repository state changed.
//   - {"type":"pong"} in answer to a client ping.
//   - {"type":"error","message":"..."} for malformed client frames.
//
// Client to server:
//
//   - {"type":"ping"} application-level keepalive.
//
// A client whose event buffer overflowed receives "fs:tree" and "git" before
// its next event so it can refetch everything it shows.
package wsserver

import (
	"encoding/json"
	"fmt"

	"devsync/internal/changebus"
)

// Frame types beyond the change events of package changebus.
const (
	TypeHello = "hello"
	TypeError = "error"
	TypePing  = "ping"
	TypePong  = "pong"
)

// helloMsg is sent once per connection.
type helloMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// errorMsg is the JSON payload for server error notifications sent to the client.
type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// clientMsg is a frame received from the client.
type clientMsg struct {
	Type string `json:"type"`
}

// EncodeHello returns the hello frame for clientID.
func EncodeHello(clientID string) ([]byte, error) {
	if clientID == "" {
		return nil, fmt.Errorf("wsserver: encode hello: clientID must not be empty")
	}
	return json.Marshal(helloMsg{Type: TypeHello, ClientID: clientID})
}

// EncodeEvent returns the frame for a change event.
func EncodeEvent(event changebus.Event) ([]byte, error) {
	switch event.Type {
	case changebus.TypeTreeInvalidated, changebus.TypeRepoInvalidated:
		event.Path = ""
	case changebus.TypeFileChanged:
		if event.Path == "" {
			return nil, fmt.Errorf("wsserver: encode event: %s without path", event.Type)
		}
	default:
		return nil, fmt.Errorf("wsserver: encode event: unknown type %q", event.Type)
	}
	return changebus.MarshalEvent(event)
}

// encodeError returns an error frame.
func encodeError(message string) ([]byte, error) {
	return json.Marshal(errorMsg{Type: TypeError, Message: message})
}

func encodePong() []byte {
	return []byte(`{"type":"` + TypePong + `"}`)
}

// resyncFrames are sent ahead of the next event after a subscriber lagged.
func resyncFrames() [][]byte {
	tree, _ := EncodeEvent(changebus.TreeInvalidated())
	repo, _ := EncodeEvent(changebus.RepoInvalidated())
	return [][]byte{tree, repo}
}

// DecodeClientMessage parses a frame received from a client.
func DecodeClientMessage(frame []byte) (string, error) {
	var msg clientMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return "", fmt.Errorf("wsserver: decode client message: %w", err)
	}
	if msg.Type == "" {
		return "", fmt.Errorf("wsserver: decode client message: missing type")
	}
	return msg.Type, nil
}
