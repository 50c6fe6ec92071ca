package dispatch

import (
	"net/http"
)

// Response is what a resource answers with.
//
// Entity may be nil, a []byte, a string, an io.Reader (streamed with unknown
// length and closed afterwards when it is an io.Closer) or any other value,
// which is encoded as JSON.
type Response struct {
	Status int
	Reason string
	Header http.Header
	Entity any
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// OK creates a 200 response carrying entity.
func OK(entity any) *Response {
	return NewResponse(http.StatusOK).WithEntity(entity)
}

// NoContent creates a 204 response.
func NoContent() *Response {
	return NewResponse(http.StatusNoContent)
}

// WithEntity sets the entity.
func (r *Response) WithEntity(entity any) *Response {
	r.Entity = entity
	return r
}

// WithReason sets a custom reason phrase.
func (r *Response) WithReason(reason string) *Response {
	r.Reason = reason
	return r
}

// WithHeader appends a header value.
func (r *Response) WithHeader(name, value string) *Response {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Add(name, value)
	return r
}

// WithType sets the Content-Type header.
func (r *Response) WithType(contentType string) *Response {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set("Content-Type", contentType)
	return r
}

// ContainerResponse is the status line and headers handed to a
// ContainerResponseWriter.
type ContainerResponse struct {
	Request *ContainerRequest
	Status  int
	Reason  string
	Header  http.Header
}
