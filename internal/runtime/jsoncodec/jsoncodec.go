package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// documentConfig keeps numeric literals as json.Number so values coming out of
// protojson are re-encoded byte for byte.
var documentConfig = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalDocument decodes a JSON object into a generic map, preserving
// number literals.
func UnmarshalDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := documentConfig.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Valid reports whether data is a well-formed JSON value.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}
