package bridge

import "encoding/json"

// Frame types sent by the host.
const (
	frameHello            = "hello"
	frameMessage          = "message"
	frameControllerChange = "controllerchange"
	frameReply            = "reply"
	frameStable           = "stable"
)

// Frame types sent by the client.
const (
	frameAuth    = "auth"
	framePost    = "post"
	frameRequest = "request"
)

// Request methods understood by the host.
const (
	MethodGetRegistration = "getRegistration"
	MethodRegister        = "register"
	MethodGetSubscription = "push.getSubscription"
	MethodSubscribe       = "push.subscribe"
	MethodUnsubscribe     = "push.unsubscribe"
)

// WorkerInfo describes the controlling worker on the wire.
type WorkerInfo struct {
	ID        string `json:"id"`
	ScriptURL string `json:"scriptURL"`
}

// Frame is the envelope of every message exchanged with the host. Only the
// fields relevant to Type are set.
type Frame struct {
	Type string `json:"type"`

	// hello
	Supported bool `json:"supported,omitempty"`
	Browser   bool `json:"browser,omitempty"`

	// hello, controllerchange
	Controller *WorkerInfo `json:"controller,omitempty"`

	// hello, stable. Absent in hello means the application is already stable.
	Stable *bool `json:"stable,omitempty"`

	// message, post
	Data json.RawMessage `json:"data,omitempty"`

	// post
	Worker string `json:"worker,omitempty"`

	// auth
	Token string `json:"token,omitempty"`

	// request, reply
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type registerParams struct {
	ScriptURL string `json:"scriptURL"`
	Scope     string `json:"scope,omitempty"`
}

type registrationResult struct {
	Scope string `json:"scope"`
}

type scopeParams struct {
	Scope string `json:"scope"`
}

type subscribeParams struct {
	Scope                string `json:"scope"`
	UserVisibleOnly      bool   `json:"userVisibleOnly"`
	ApplicationServerKey string `json:"applicationServerKey,omitempty"`
}

type unsubscribeParams struct {
	Scope    string `json:"scope"`
	Endpoint string `json:"endpoint"`
}
