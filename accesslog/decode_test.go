package accesslog

import (
	"bytes"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const singleRecord = `[{"accessed_at":"2024-01-01 00:00:00.000 UTC","url":"https://x.test/a","http_method":"GET","http_header":{},"http_body":""}]`

func TestDecodeSample(t *testing.T) {
	records, err := DecodeFile("testdata/sample.json")
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 3 {
		t.Fatal("Expected 3 records, got", len(records))
	}

	if records[0].URL.String() != "https://example.com/path" || records[0].Header["User-Agent"] != "x" {
		t.Error("Wrong first record", records[0])
	}

	if records[1].Method != "POST" || records[1].Body != "user=a&pass=b" || records[1].URL.Query().Get("next") != "/home" {
		t.Error("Wrong second record", records[1])
	}

	if !records[1].AccessedAt.Equal(time.Date(2024, 1, 1, 0, 0, 1, 250000000, time.UTC)) {
		t.Error("Wrong timestamp", records[1].AccessedAt)
	}

	if records[2].Method != "HEAD" || len(records[2].Header) != 0 {
		t.Error("Wrong third record", records[2])
	}
}

func TestDecodeIdempotent(t *testing.T) {
	data, err := ioutil.ReadFile("testdata/sample.json")
	if err != nil {
		t.Fatal(err)
	}

	first, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	second, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatal("Length differs")
	}

	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Errorf("Record %d differs: %+v != %+v", i, first[i], second[i])
		}
	}
}

func TestDecodeString(t *testing.T) {
	records, err := DecodeString(singleRecord)
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 1 || records[0].URL.Host != "x.test" {
		t.Error("Wrong records", records)
	}

	records, err = DecodeString("[]")
	if err != nil || len(records) != 0 {
		t.Error("Empty array should decode to no records", records, err)
	}
}

func TestDecodeOptionalFields(t *testing.T) {
	records, err := DecodeString(`[{"accessed_at":"2024-01-01 00:00:00 UTC","url":"https://x.test/","http_method":"DELETE"},
		{"accessed_at":"2024-01-01 00:00:00 UTC","url":"https://x.test/","http_method":"GET","http_header":null,"http_body":null}]`)
	if err != nil {
		t.Fatal(err)
	}

	for _, r := range records {
		if r.Header == nil || len(r.Header) != 0 || r.Body != "" {
			t.Error("Missing header and body should default to empty", r)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		text  string
		index int
		field string
	}{
		{`not json`, -1, ""},
		{`{"accessed_at":"2024-01-01 00:00:00 UTC"}`, -1, ""},
		{`[1]`, 0, ""},
		{`[{"accessed_at":"not-a-date","url":"https://x.test/a","http_method":"GET","http_header":{},"http_body":""}]`, 0, "accessed_at"},
		{`[{"url":"https://x.test/a","http_method":"GET"}]`, 0, "accessed_at"},
		{`[{"accessed_at":5,"url":"https://x.test/a","http_method":"GET"}]`, 0, "accessed_at"},
		{`[` + singleRecord[1:len(singleRecord)-1] + `,{"accessed_at":"2024-01-01 00:00:00 UTC","url":"x.test/a","http_method":"GET"}]`, 1, "url"},
		{`[{"accessed_at":"2024-01-01 00:00:00 UTC","url":"https://x.test/a","http_method":"BREW"}]`, 0, "http_method"},
		{`[{"accessed_at":"2024-01-01 00:00:00 UTC","url":"https://x.test/a","http_method":"GET","http_header":[]}]`, 0, "http_header"},
		{`[{"accessed_at":"2024-01-01 00:00:00 UTC","url":"https://x.test/a","http_method":"GET","http_header":{"X":1}}]`, 0, "http_header.X"},
		{`[{"accessed_at":"2024-01-01 00:00:00 UTC","url":"https://x.test/a","http_method":"GET","http_body":{}}]`, 0, "http_body"},
	}

	for _, c := range cases {
		records, err := DecodeString(c.text)
		if err == nil {
			t.Errorf("%s: expected error", c.text)
			continue
		}

		if records != nil {
			t.Errorf("%s: no records should be returned on error", c.text)
		}

		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("%s: expected DecodeError, got %T %v", c.text, err, err)
			continue
		}

		if de.Index != c.index || de.Field != c.field {
			t.Errorf("%s: expected record %d field %q, got %d %q (%v)", c.text, c.index, c.field, de.Index, de.Field, err)
		}
	}
}

func TestDecodeFileCompressed(t *testing.T) {
	dir, err := ioutil.TempDir("", "accesslog")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	w.Write([]byte(singleRecord))
	w.Close()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zst := enc.EncodeAll([]byte(singleRecord), nil)
	enc.Close()

	files := map[string][]byte{
		"log.json":     []byte(singleRecord),
		"log.json.gz":  gz.Bytes(),
		"log.json.zst": zst,
	}

	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := ioutil.WriteFile(path, data, 0600); err != nil {
			t.Fatal(err)
		}

		records, err := DecodeFile(path)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}

		if len(records) != 1 || records[0].URL.String() != "https://x.test/a" {
			t.Errorf("%s: wrong records %v", name, records)
		}
	}

	if _, err := DecodeFile(filepath.Join(dir, "missing.json")); err == nil || errors.Is(err, ErrDecode) {
		t.Error("Missing file should fail with a read error, got", err)
	}

	broken := filepath.Join(dir, "broken.gz")
	ioutil.WriteFile(broken, []byte(singleRecord), 0600)
	if _, err := DecodeFile(broken); err == nil {
		t.Error("Should fail on invalid gzip data")
	}
}
