package format

import (
	"bytes"
	"encoding/json"
	"io"
)

// JSON renders rows as an array of objects, keys in column order.
//
//plug:socket Formatter
type JSON struct {
	Indent string
}

func (JSON) Name() string        { return "json" }
func (JSON) Description() string { return "array of JSON objects, one per row" }

func (j JSON) Render(w io.Writer, t Table) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range records(t) {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for k, kv := range rec {
			if k > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(kv[0])
			val, _ := json.Marshal(kv[1])
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", j.Indent); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}
