package server

// HeaderEntry is one header line. Field keeps the case it arrived with.
type HeaderEntry struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// RequestFrame is a parsed request. Method and Resource are always set
// once ParseRequest succeeds; Protocol may be empty.
type RequestFrame struct {
	Method   string        `json:"method"`
	Resource string        `json:"resource"`
	Protocol string        `json:"protocol"`
	Headers  []HeaderEntry `json:"headers"`
	Body     string        `json:"body"`
}

// Header returns the value of the first header whose field matches name
// exactly.
func (r *RequestFrame) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if h.Field == name {
			return h.Value, true
		}
	}
	return "", false
}

// ResponseFrame is the status line and headers of a response. The body is
// produced at write time from the Resolution.
type ResponseFrame struct {
	Protocol      string        `json:"protocol"`
	StatusCode    int           `json:"status"`
	StatusMessage string        `json:"message"`
	Headers       []HeaderEntry `json:"headers"`
}

func (r *ResponseFrame) AddHeader(field, value string) {
	r.Headers = append(r.Headers, HeaderEntry{Field: field, Value: value})
}
