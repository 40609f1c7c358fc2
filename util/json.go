package util

import (
	"github.com/goccy/go-json"
)

// JsonString marshals v into a JSON string
func JsonString(v interface{}) (string, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

// ParseJson unmarshals a JSON string into v
func ParseJson(str string, v interface{}) error {
	return json.Unmarshal([]byte(str), v)
}
