package model

// Endpoint is an addressable tally server.
type Endpoint struct {
	ID      string
	Address string
}

// Header is a common structure for both requests and responses.
type Header struct {
	// Caller is the authenticated identity issuing the request
	Caller string `json:"caller"`
}

// Request represents a structure for the requests.
type Request struct {
	Header
	// CommandCode is the command code.
	CommandCode CommandCode `json:"command_code"`
	// Command is the actual request payload.
	Command any `json:"command"`
}

// Response defines a structure for responses.
type Response struct {
	Header
	// CommandResponse holds the actual response data.
	CommandResponse any `json:"command_response"`
	// Error is the error text; empty if the command was successful.
	Error string `json:"error,omitempty"`
	// ErrorCode is the code of a classified error, see ErrorFromCode.
	ErrorCode string `json:"error_code,omitempty"`
}

// Err returns the error carried by the response, or nil.
func (r *Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return ErrorFromCode(r.ErrorCode, r.Error)
}

// SetErr records err on the response.
func (r *Response) SetErr(err error) {
	if err == nil {
		return
	}
	r.Error = err.Error()
	r.ErrorCode = CodeOf(err)
}

// CommandHandler represents a function that handles command requests and returns responses.
type CommandHandler func(request *Request, response *Response) error

// Transport interface definition that a provider needs to implement.
type Transport interface {
	Server
	Client

	// Decode decodes the raw data into the target object
	// Both the request and response both contain fields of the any type, we need to decode it
	Decode(raw any, target any) error
}

// TransportConfig is an interface representing the contract for a configuration object
// that can be validated.
type TransportConfig interface {
	Validate() error
}

// Server interface defines the fundamental behaviors of a server.
type Server interface {
	// Start initiates the server to begin listening on the specified address.
	Start(listenAddress string, handler CommandHandler, config TransportConfig) error
	// Stop closes the listener.
	Stop() error
}

// Client interface defines the fundamental behaviors of a client.
type Client interface {
	// InitConnections initializes a set of connections to the given endpoints.
	// It returns an error if any connection fails.
	InitConnections(endpoints []*Endpoint, config TransportConfig) error

	// SendRequest sends the command request
	SendRequest(endpointID string, request *Request, response *Response) error
}
