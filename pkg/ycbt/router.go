// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ycbt

// Status is the code a request callback receives. Zero is success,
// device-reported codes pass through unchanged and negative values are
// produced locally.
type Status int

// Callback status codes
const (
	StatusOK          Status = 0
	StatusFailed      Status = 1
	StatusCancelled   Status = -1
	StatusWriteFailed Status = -2
)

// Response is the decoded result delivered to a request callback
type Response struct {
	Data        []byte
	CommandType CommandType
	Progress    float64
}

// Callback receives the outcome of a request. result is nil for error
// frames, failures and status-only responses.
type Callback func(status Status, result *Response)

// Outcome is the router's classification of one frame
type Outcome struct {
	Status      Status
	Result      *Response
	CommandType CommandType

	// Error is set when the frame was a device error frame
	Error *ProtocolError
}

// HandlerFunc extracts status and data for one command family
type HandlerFunc func(f *Frame) Outcome

// Router dispatches decoded frames to per-family handlers keyed by
// command id. Families without a handler use the generic handler.
type Router struct {
	handlers map[byte]HandlerFunc
	fallback HandlerFunc
}

// NewRouter creates a router with the default family handlers: settings,
// get and app control frames lead with a status byte.
func NewRouter() *Router {
	r := &Router{
		handlers: make(map[byte]HandlerFunc),
		fallback: GenericHandler,
	}
	r.Register(CmdSetting, StatusByteHandler)
	r.Register(CmdGet, StatusByteHandler)
	r.Register(CmdAppControl, StatusByteHandler)
	return r
}

// Register installs h for frames with the given command id, replacing any
// existing handler
func (r *Router) Register(commandID byte, h HandlerFunc) {
	r.handlers[commandID] = h
}

// Route classifies a frame. Error frames are detected before family
// dispatch.
func (r *Router) Route(f *Frame) Outcome {
	if f.IsErrorFrame() {
		code := f.payload[0]
		return Outcome{
			Status:      Status(code),
			CommandType: f.CommandType(),
			Error: &ProtocolError{
				Code:        code,
				Kind:        ClassifyErrorCode(code),
				CommandType: f.CommandType(),
			},
		}
	}

	h, ok := r.handlers[f.commandID]
	if !ok {
		h = r.fallback
	}
	return h(f)
}

// StatusByteHandler treats payload[0] as the status code and the rest as
// data. A single-byte payload yields no result.
func StatusByteHandler(f *Frame) Outcome {
	out := Outcome{CommandType: f.CommandType()}
	if len(f.payload) == 0 {
		return out
	}

	out.Status = Status(f.payload[0])
	if len(f.payload) > 1 {
		data := make([]byte, len(f.payload)-1)
		copy(data, f.payload[1:])
		out.Result = &Response{Data: data, CommandType: out.CommandType}
	}
	return out
}

// GenericHandler delivers the whole payload with status zero. History and
// real-time families carry no status byte.
func GenericHandler(f *Frame) Outcome {
	return Outcome{
		Status:      StatusOK,
		CommandType: f.CommandType(),
		Result: &Response{
			Data:        f.Payload(),
			CommandType: f.CommandType(),
		},
	}
}
