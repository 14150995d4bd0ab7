package obs

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// obs-websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const (
	rpcVersion = 1

	subscribeScenes  = 1 << 2
	subscribeOutputs = 1 << 6

	outputStarted = "OBS_WEBSOCKET_OUTPUT_STARTED"
)

// Subprotocol is the websocket subprotocol negotiated with OBS.
const Subprotocol = "obswebsocket.json"

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type requestData struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type responseData struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

type eventData struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

type sceneChanged struct {
	SceneName string `json:"sceneName"`
}

type streamStateChanged struct {
	OutputActive bool   `json:"outputActive"`
	OutputState  string `json:"outputState"`
}

type currentScene struct {
	CurrentProgramSceneName string `json:"currentProgramSceneName"`
	SceneName               string `json:"sceneName"`
}

type streamStatus struct {
	OutputActive bool  `json:"outputActive"`
	OutputBytes  int64 `json:"outputBytes"`
}

func newEnvelope(op int, d any) (envelope, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return envelope{}, fmt.Errorf("encode op %d: %w", op, err)
	}
	return envelope{Op: op, D: raw}, nil
}

// AuthResponse computes the Identify authentication string for a password-protected server.
func AuthResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	auth := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(secret[:]) + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

// RequestError is returned when OBS answers a request with a failed status.
type RequestError struct {
	Request string
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("%s failed (code %d)", e.Request, e.Code)
	}
	return fmt.Sprintf("%s failed (code %d): %s", e.Request, e.Code, e.Comment)
}
