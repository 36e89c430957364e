package pool

import (
	"time"
)

// Names under which RegisterProtocolObjects registers its pools.
const (
	RequestPoolName  = "request"
	ResponsePoolName = "response"
	StreamPoolName   = "stream"
	URIPoolName      = "uri"
)

// URI is a parsed request target.
type URI struct {
	Scheme   string              `json:"scheme,omitempty"`
	Host     string              `json:"host,omitempty"`
	Path     string              `json:"path"`
	RawQuery string              `json:"raw_query,omitempty"`
	Query    map[string][]string `json:"query,omitempty"`
}

// Request is a short-lived inbound request. Obtain it from a pool and
// release it when the handler returns.
type Request struct {
	ID       string            `json:"id"`
	Method   string            `json:"method"`
	URI      URI               `json:"uri"`
	Headers  map[string]string `json:"headers"`
	Params   map[string]string `json:"params,omitempty"`
	Body     []byte            `json:"-"`
	Received time.Time         `json:"received"`
}

// Response is a short-lived outbound response.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"-"`
}

// Stream carries the state of a chunked transfer.
type Stream struct {
	ID     string   `json:"id"`
	Offset int64    `json:"offset"`
	Chunks [][]byte `json:"-"`
	Closed bool     `json:"closed"`
}

// NewURI allocates a URI with a pre-sized query map.
func NewURI() *URI {
	return &URI{Query: make(map[string][]string, 4)}
}

// Reset clears the URI, keeping map capacity.
func (u *URI) Reset() {
	u.Scheme = ""
	u.Host = ""
	u.Path = ""
	u.RawQuery = ""
	for k := range u.Query {
		delete(u.Query, k)
	}
}

// NewRequest allocates a Request with pre-sized maps.
func NewRequest() *Request {
	return &Request{
		URI:     URI{Query: make(map[string][]string, 4)},
		Headers: make(map[string]string, 16),
		Params:  make(map[string]string, 4),
	}
}

// Reset clears the request, keeping map and body capacity.
func (r *Request) Reset() {
	r.ID = ""
	r.Method = ""
	r.URI.Reset()
	for k := range r.Headers {
		delete(r.Headers, k)
	}
	for k := range r.Params {
		delete(r.Params, k)
	}
	r.Body = r.Body[:0]
	r.Received = time.Time{}
}

// SetHeader sets a header, allocating the map if needed.
func (r *Request) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
}

// Header returns a header value.
func (r *Request) Header(key string) (string, bool) {
	v, ok := r.Headers[key]
	return v, ok
}

// SetParam sets a route parameter.
func (r *Request) SetParam(key, value string) {
	if r.Params == nil {
		r.Params = make(map[string]string)
	}
	r.Params[key] = value
}

// NewResponse allocates a Response with a pre-sized header map.
func NewResponse() *Response {
	return &Response{Headers: make(map[string]string, 8)}
}

// Reset clears the response, keeping map and body capacity.
func (r *Response) Reset() {
	r.Status = 0
	for k := range r.Headers {
		delete(r.Headers, k)
	}
	r.Body = r.Body[:0]
}

// SetHeader sets a header, allocating the map if needed.
func (r *Response) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
}

// NewStream allocates a Stream.
func NewStream() *Stream {
	return &Stream{Chunks: make([][]byte, 0, 8)}
}

// Reset clears the stream, dropping chunk references.
func (s *Stream) Reset() {
	s.ID = ""
	s.Offset = 0
	for i := range s.Chunks {
		s.Chunks[i] = nil
	}
	s.Chunks = s.Chunks[:0]
	s.Closed = false
}

// Append adds a chunk and advances the offset.
func (s *Stream) Append(chunk []byte) {
	s.Chunks = append(s.Chunks, chunk)
	s.Offset += int64(len(chunk))
}

// ProtocolPools bundles the typed pools for protocol objects.
type ProtocolPools struct {
	Requests  *TypedPool[*Request]
	Responses *TypedPool[*Response]
	Streams   *TypedPool[*Stream]
	URIs      *TypedPool[*URI]
}

// RegisterProtocolObjects registers request, response, stream and URI pools.
func RegisterProtocolObjects(op *ObjectPool) (*ProtocolPools, error) {
	requests, err := Register(op, RequestPoolName, NewRequest, (*Request).Reset)
	if err != nil {
		return nil, err
	}
	responses, err := Register(op, ResponsePoolName, NewResponse, (*Response).Reset)
	if err != nil {
		return nil, err
	}
	streams, err := Register(op, StreamPoolName, NewStream, (*Stream).Reset)
	if err != nil {
		return nil, err
	}
	uris, err := Register(op, URIPoolName, NewURI, (*URI).Reset)
	if err != nil {
		return nil, err
	}
	return &ProtocolPools{
		Requests:  requests,
		Responses: responses,
		Streams:   streams,
		URIs:      uris,
	}, nil
}
