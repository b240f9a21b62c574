package site

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// storedSite is the persisted form of a Table.
type storedSite struct {
	SiteID   string
	StoredAt int64 // unix nanoseconds
	Files    []Resource
}

func (s storedSite) table() *Table {
	t := NewTable()
	for _, r := range s.Files {
		t.Put(r)
	}
	return t
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// encodeSite gob-encodes s and compresses the result.
func encodeSite(s storedSite) ([]byte, error) {
	raw, err := encodeGob(s)
	if err != nil {
		return nil, err
	}
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func decodeSite(b []byte) (storedSite, error) {
	_, dec, err := codecs()
	if err != nil {
		return storedSite{}, err
	}
	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		return storedSite{}, err
	}
	var s storedSite
	if err := decodeGob(raw, &s); err != nil {
		return storedSite{}, err
	}
	return s, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
