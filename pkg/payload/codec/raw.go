package codec

import "fmt"

type rawCodec struct{}

// Raw passes bytes and strings through unchanged.
func Raw() Codec { return rawCodec{} }

func (rawCodec) Format() Format      { return FormatRaw }
func (rawCodec) ContentType() string { return ContentRaw }

func (rawCodec) Marshal(v any) ([]byte, error) {
    switch b := v.(type) {
    case []byte:
        return append([]byte(nil), b...), nil
    case string:
        return []byte(b), nil
    case nil:
        return nil, nil
    default:
        return nil, fmt.Errorf("raw: cannot marshal %T", v)
    }
}

func (rawCodec) Unmarshal(data []byte, v any) error {
    switch p := v.(type) {
    case *[]byte:
        *p = append((*p)[:0], data...)
    case *string:
        *p = string(data)
    default:
        return fmt.Errorf("raw: cannot unmarshal into %T", v)
    }
    return nil
}
