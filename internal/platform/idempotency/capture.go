package idempotency

import (
	"bytes"
	"net/http"
)

// capturedResponse holds the handler's output in memory until the middleware decides whether to
// store it, then Commit copies it to the real writer.
type capturedResponse struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func capture(parent http.ResponseWriter) *capturedResponse {
	return &capturedResponse{parent: parent, header: make(http.Header)}
}

func (c *capturedResponse) Header() http.Header { return c.header }

func (c *capturedResponse) WriteHeader(status int) {
	if c.status != 0 {
		return
	}
	if status <= 0 {
		status = http.StatusOK
	}
	c.status = status
}

func (c *capturedResponse) Write(data []byte) (int, error) {
	c.WriteHeader(http.StatusOK)
	return c.body.Write(data)
}

func (c *capturedResponse) Status() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capturedResponse) Body() []byte {
	if c.body.Len() == 0 {
		return nil
	}
	return bytes.Clone(c.body.Bytes())
}

// HeaderSnapshot returns the headers worth persisting for replay.
func (c *capturedResponse) HeaderSnapshot() http.Header {
	return headersFromRecord(c.header)
}

func (c *capturedResponse) Commit() error {
	dst := c.parent.Header()
	for key, values := range c.header {
		dst[key] = append([]string(nil), values...)
	}
	c.parent.WriteHeader(c.Status())
	if c.body.Len() == 0 {
		return nil
	}
	_, err := c.parent.Write(c.body.Bytes())
	return err
}
