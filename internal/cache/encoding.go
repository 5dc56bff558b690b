package cache

import (
	"bytes"
	"encoding/gob"
	"time"
)

func unixNano(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
