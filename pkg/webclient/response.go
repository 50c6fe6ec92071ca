package webclient

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Response is a received response. Its entity is read once and kept.
type Response struct {
	*http.Response

	once   sync.Once
	entity []byte
	err    error
}

// ReadEntity reads and closes the body. Later calls return the same bytes.
func (r *Response) ReadEntity() ([]byte, error) {
	r.once.Do(func() {
		defer r.Body.Close()
		r.entity, r.err = io.ReadAll(r.Body)
		if r.err != nil {
			r.err = errors.Wrap(r.err, "reading response entity")
		}
	})
	return r.entity, r.err
}

// Text returns the entity as text.
func (r *Response) Text() (string, error) {
	b, err := r.ReadEntity()
	return string(b), err
}

// JSON decodes the entity into v.
func (r *Response) JSON(v any) error {
	b, err := r.ReadEntity()
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(b, v), "decoding JSON entity")
}

// JSONPath evaluates a JSONPath expression against the entity and returns
// every match.
func (r *Response) JSONPath(expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing JSONPath %q", expr)
	}
	b, err := r.ReadEntity()
	if err != nil {
		return nil, err
	}
	data, err := oj.Parse(b)
	if err != nil {
		return nil, errors.Wrap(err, "parsing JSON entity")
	}
	return x.Get(data), nil
}

// Close discards whatever is left of the body.
func (r *Response) Close() error {
	_, err := r.ReadEntity()
	return err
}
