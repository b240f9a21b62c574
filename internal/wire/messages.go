package wire

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Message kinds as they appear in the envelope "type" field.
const (
	TypeResourceRequest    = "RESOURCE_REQUEST"
	TypeResourceResponse   = "RESOURCE_RESPONSE"
	TypeMediaChunkResponse = "MEDIA_CHUNK_RESPONSE"
	TypeSiteLoading        = "SITE_LOADING"
	TypeSiteReady          = "SITE_READY"
	TypeSiteUnloaded       = "SITE_UNLOADED"
)

// Message is the closed set of values crossing a Port. Only types of this
// package implement it.
type Message interface {
	Type() string
	message()
}

// RangeSpec is the byte range a router forwards with a request. Nil bounds
// were absent from the Range header.
type RangeSpec struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

type ResourceRequest struct {
	URL       string     `json:"url"`
	FilePath  string     `json:"filePath"`
	RequestID string     `json:"requestId"`
	Range     *RangeSpec `json:"range,omitempty"`
}

// ResourceResponse answers a ResourceRequest. Nil Data means not found.
type ResourceResponse struct {
	RequestID   string `json:"requestId"`
	URL         string `json:"url"`
	Data        Bytes  `json:"data"`
	ContentType string `json:"contentType,omitempty"`
}

type MediaChunkResponse struct {
	RequestID string `json:"requestId"`
	URL       string `json:"url"`
	Chunk     Bytes  `json:"chunk"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Total     int64  `json:"total"`
}

type SiteLoading struct {
	Hash string `json:"hash"`
}

type SiteReady struct {
	Hash      string   `json:"hash"`
	FileCount int      `json:"fileCount"`
	FileList  []string `json:"fileList"`
}

type SiteUnloaded struct{}

func (ResourceRequest) Type() string    { return TypeResourceRequest }
func (ResourceResponse) Type() string   { return TypeResourceResponse }
func (MediaChunkResponse) Type() string { return TypeMediaChunkResponse }
func (SiteLoading) Type() string        { return TypeSiteLoading }
func (SiteReady) Type() string          { return TypeSiteReady }
func (SiteUnloaded) Type() string       { return TypeSiteUnloaded }

func (ResourceRequest) message()    {}
func (ResourceResponse) message()   {}
func (MediaChunkResponse) message() {}
func (SiteLoading) message()        {}
func (SiteReady) message()          {}
func (SiteUnloaded) message()       {}

var ErrUnknownType = errors.New("unknown message type")

// Encode writes m as a flat JSON object with its kind under "type".
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	head := `{"type":"` + m.Type() + `"`
	if len(body) <= 2 {
		return []byte(head + "}"), nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, ',')
	return append(out, body[1:]...), nil
}

// Decode parses an envelope produced by Encode.
func Decode(b []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, err
	}
	var m Message
	switch head.Type {
	case TypeResourceRequest:
		var v ResourceRequest
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		m = v
	case TypeResourceResponse:
		var v ResourceResponse
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		m = v
	case TypeMediaChunkResponse:
		var v MediaChunkResponse
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		m = v
	case TypeSiteLoading:
		var v SiteLoading
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		m = v
	case TypeSiteReady:
		var v SiteReady
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, err
		}
		m = v
	case TypeSiteUnloaded:
		m = SiteUnloaded{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	return m, nil
}
