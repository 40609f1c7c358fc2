package syncrun

import (
	"crypto/md5"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/karlseguin/typed"
)

// Metadata is an opaque connector-defined blob: pagination cursors on
// streams, record payloads in operations.
type Metadata struct {
	typed.Typed
}

func NewMetadata() Metadata {
	return Metadata{typed.Typed{}}
}

func (m *Metadata) Set(k string, v any) *Metadata {
	if m.Typed == nil {
		m.Typed = typed.Typed{}
	}
	m.Typed[k] = v
	return m
}

func (m Metadata) ToString() string {
	bs, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(bs)
}

func (m *Metadata) FromString(str string) error {
	return json.Unmarshal([]byte(str), m)
}

func (m *Metadata) UnmarshalJSON(bytes []byte) error {
	return json.Unmarshal(bytes, &m.Typed)
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Typed)
}

func (m Metadata) Footprint() string {
	bytes, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	b := md5.Sum(bytes)
	return fmt.Sprintf("%x", b)
}
