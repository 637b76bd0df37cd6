package completion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/tidwall/gjson"
)

// jsonDetector scans accumulated output for a syntactically valid JSON
// object whose signal key holds an accepted string. Partial fragments stay
// buffered and are re-scanned on the next chunk; malformed candidates and
// objects carrying undeclared signals are skipped without error.
type jsonDetector struct {
	key    string
	accept func(string) bool
	buf    []byte
	pos    int // first byte not yet conclusively scanned
	done   bool
}

func (d *jsonDetector) Feed(chunk string) (*Signal, bool) {
	if d.done {
		return nil, false
	}
	d.buf = append(d.buf, chunk...)

	for d.pos < len(d.buf) {
		if d.buf[d.pos] != '{' {
			d.pos++
			continue
		}
		raw, err := decodeOneValue(d.buf[d.pos:])
		if err != nil {
			if isPartial(err) {
				// Could still become a valid object once more output
				// arrives; hold position and wait for the next chunk.
				return nil, false
			}
			d.pos++
			continue
		}

		sig := gjson.GetBytes(raw, d.key)
		if sig.Type == gjson.String && d.accept(sig.Str) {
			d.done = true
			d.buf = nil
			return &Signal{Name: sig.Str, Payload: d.payload(raw)}, true
		}
		// A complete object without an accepted signal. Step inside it
		// rather than past it: a matching object may be nested.
		d.pos++
	}
	return nil, false
}

// payload flattens the remaining fields of the matched object.
func (d *jsonDetector) payload(raw []byte) map[string]string {
	payload := make(map[string]string)
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		if key.Str != d.key {
			payload[key.Str] = value.String()
		}
		return true
	})
	if len(payload) == 0 {
		return nil
	}
	return payload
}

// decodeOneValue decodes a single JSON value from the front of b, returning
// the raw bytes of that value. json.Decoder reports where the value ends,
// which gjson does not.
func decodeOneValue(b []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// isPartial reports whether a decode error means the buffer ended inside a
// value, as opposed to the candidate being malformed outright.
func isPartial(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
