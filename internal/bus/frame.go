package bus

// Operations carried by a request frame.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// Reply codes.
const (
	CodeOK     = "ok"
	CodeNoData = "no_data"
	CodeError  = "error"
)

// Request is one client-to-server frame on the websocket link.
type Request struct {
	ID      uint64 `json:"id"`
	Op      string `json:"op"`
	Entity  string `json:"entity"`
	Channel string `json:"channel"`
	Data    []byte `json:"data,omitempty"`
}

// Reply answers the request with the same ID.
type Reply struct {
	ID    uint64 `json:"id"`
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
	Data  []byte `json:"data,omitempty"`
}
