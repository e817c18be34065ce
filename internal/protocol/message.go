// Package protocol defines the OBS websocket v5 message types used by the switcher.
// See https://github.com/obsproject/obs-websocket/blob/master/docs/generated/protocol.md
package protocol

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// RPCVersion is the obs-websocket RPC version this client speaks
const RPCVersion = 1

// OpCode identifies the type of websocket message
type OpCode int

const (
	// Server -> Client
	OpHello      OpCode = 0
	OpIdentified OpCode = 2
	OpEvent      OpCode = 5

	// Client -> Server
	OpIdentify   OpCode = 1
	OpReidentify OpCode = 3
	OpRequest    OpCode = 6

	// Server -> Client
	OpRequestResponse OpCode = 7
)

func (o OpCode) String() string {
	switch o {
	case OpHello:
		return "Hello"
	case OpIdentify:
		return "Identify"
	case OpIdentified:
		return "Identified"
	case OpReidentify:
		return "Reidentify"
	case OpEvent:
		return "Event"
	case OpRequest:
		return "Request"
	case OpRequestResponse:
		return "RequestResponse"
	default:
		return fmt.Sprintf("OpCode(%d)", int(o))
	}
}

// Event subscription bits for Identify
const (
	EventSubNone   = 0
	EventSubScenes = 1 << 2
)

// Request status codes
const (
	StatusSuccess          = 100
	StatusResourceNotFound = 600
)

// Websocket close codes sent by OBS
const (
	CloseAuthenticationFailed = 4009
	CloseUnsupportedRPC       = 4010
)

// Request types
const (
	RequestGetCurrentProgramScene = "GetCurrentProgramScene"
	RequestGetSceneItemList       = "GetSceneItemList"
	RequestSetSceneItemEnabled    = "SetSceneItemEnabled"
)

// Event types
const (
	EventCurrentProgramSceneChanged = "CurrentProgramSceneChanged"
)

// Message is the base wrapper for all websocket messages
type Message struct {
	Op   OpCode          `json:"op"`
	Data json.RawMessage `json:"d"`
}

// NewMessage creates a message with data encoded as JSON
func NewMessage(op OpCode, data interface{}) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", op, err)
	}
	return &Message{Op: op, Data: raw}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// Hello is the first message sent by the server
type Hello struct {
	ObsWebSocketVersion string          `json:"obsWebSocketVersion"`
	RPCVersion          int             `json:"rpcVersion"`
	Authentication      *Authentication `json:"authentication,omitempty"`
}

// Authentication carries the challenge when a password is set
type Authentication struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

// Identify answers Hello
type Identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

// Identified confirms the session
type Identified struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

// Request invokes a remote operation
type Request struct {
	RequestType string      `json:"requestType"`
	RequestID   string      `json:"requestId"`
	RequestData interface{} `json:"requestData,omitempty"`
}

// RequestResponse answers a Request with the same RequestID
type RequestResponse struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus RequestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

// RequestStatus reports the outcome of a Request
type RequestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// Event is an unsolicited server notification
type Event struct {
	EventType   string          `json:"eventType"`
	EventIntent int             `json:"eventIntent"`
	EventData   json.RawMessage `json:"eventData,omitempty"`
}

// AuthString computes the Identify authentication string:
// base64(sha256(base64(sha256(password + salt)) + challenge))
func AuthString(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])

	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

// GetCurrentProgramSceneResponse is the response data of GetCurrentProgramScene
type GetCurrentProgramSceneResponse struct {
	CurrentProgramSceneName string `json:"currentProgramSceneName"`
	SceneName               string `json:"sceneName,omitempty"`
	SceneUUID               string `json:"sceneUuid,omitempty"`
}

// Name returns the scene name, preferring the newer field
func (r GetCurrentProgramSceneResponse) Name() string {
	if r.SceneName != "" {
		return r.SceneName
	}
	return r.CurrentProgramSceneName
}

// GetSceneItemListRequest is the request data of GetSceneItemList
type GetSceneItemListRequest struct {
	SceneName string `json:"sceneName"`
}

// GetSceneItemListResponse is the response data of GetSceneItemList
type GetSceneItemListResponse struct {
	SceneItems []SceneItem `json:"sceneItems"`
}

// SceneItem is one entry of a scene's item list
type SceneItem struct {
	SceneItemID      int    `json:"sceneItemId"`
	SourceName       string `json:"sourceName"`
	SceneItemEnabled bool   `json:"sceneItemEnabled"`
	SceneItemIndex   int    `json:"sceneItemIndex"`
}

// SetSceneItemEnabledRequest is the request data of SetSceneItemEnabled
type SetSceneItemEnabledRequest struct {
	SceneName        string `json:"sceneName"`
	SceneItemID      int    `json:"sceneItemId"`
	SceneItemEnabled bool   `json:"sceneItemEnabled"`
}

// CurrentProgramSceneChangedEvent is the event data of CurrentProgramSceneChanged
type CurrentProgramSceneChangedEvent struct {
	SceneName string `json:"sceneName"`
	SceneUUID string `json:"sceneUuid,omitempty"`
}
