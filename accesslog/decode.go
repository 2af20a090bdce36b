package accesslog

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"
)

// DecodeString is Decode for literal log text.
func DecodeString(text string) ([]Record, error) {
	return Decode([]byte(text))
}

// Decode parses a JSON array of access log objects. It stops at the first
// invalid record and returns a *DecodeError naming it.
func Decode(data []byte) ([]Record, error) {
	var p fastjson.Parser

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, &DecodeError{Index: -1, Err: err}
	}

	items, err := v.Array()
	if err != nil {
		return nil, &DecodeError{Index: -1, Err: errors.New("expected a JSON array of records")}
	}

	records := make([]Record, 0, len(items))

	for i, item := range items {
		raw, err := rawFromValue(item)
		if err == nil {
			var rec Record
			if rec, err = NewRecord(raw); err == nil {
				records = append(records, rec)
				continue
			}
		}

		if de, ok := err.(*DecodeError); ok {
			de.Index = i
		}
		return nil, err
	}

	return records, nil
}

func rawFromValue(v *fastjson.Value) (raw RawRecord, err error) {
	if v.Type() != fastjson.TypeObject {
		return raw, &DecodeError{Index: -1, Err: errors.New("record must be a JSON object")}
	}

	if raw.AccessedAt, err = stringField(v, "accessed_at", true); err != nil {
		return
	}
	if raw.URL, err = stringField(v, "url", true); err != nil {
		return
	}
	if raw.Method, err = stringField(v, "http_method", true); err != nil {
		return
	}
	if raw.Body, err = stringField(v, "http_body", false); err != nil {
		return
	}

	raw.Header, err = headerField(v)

	return
}

func stringField(v *fastjson.Value, name string, required bool) (string, error) {
	f := v.Get(name)

	if f == nil || f.Type() == fastjson.TypeNull {
		if required {
			return "", &DecodeError{Index: -1, Field: name, Err: errors.New("missing field")}
		}
		return "", nil
	}

	b, err := f.StringBytes()
	if err != nil {
		return "", &DecodeError{Index: -1, Field: name, Err: fmt.Errorf("expected string, got %s", f.Type())}
	}

	return string(b), nil
}

func headerField(v *fastjson.Value) (map[string]string, error) {
	f := v.Get("http_header")
	if f == nil || f.Type() == fastjson.TypeNull {
		return map[string]string{}, nil
	}

	obj, err := f.Object()
	if err != nil {
		return nil, &DecodeError{Index: -1, Field: "http_header", Err: fmt.Errorf("expected object, got %s", f.Type())}
	}

	header := make(map[string]string, obj.Len())

	var visitErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if visitErr != nil {
			return
		}

		b, err := val.StringBytes()
		if err != nil {
			visitErr = &DecodeError{Index: -1, Field: "http_header." + string(key), Err: fmt.Errorf("expected string, got %s", val.Type())}
			return
		}

		header[string(key)] = string(b)
	})

	return header, visitErr
}

// DecodeFile reads the whole file and decodes it exactly like Decode.
// Files ending in .gz or .zst are decompressed first.
func DecodeFile(path string) ([]Record, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read access log: %w", err)
	}

	if data, err = decompress(path, data); err != nil {
		return nil, fmt.Errorf("decompress access log %s: %w", path, err)
	}

	return Decode(data)
}

func decompress(path string, data []byte) ([]byte, error) {
	switch filepath.Ext(path) {
	case ".gz":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return ioutil.ReadAll(r)
	case ".zst":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()

		return dec.DecodeAll(data, nil)
	}

	return data, nil
}
