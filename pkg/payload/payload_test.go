package payload

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "google.golang.org/protobuf/types/known/structpb"

    "intentlog/pkg/payload/codec"
)

func TestEncodeDecodeJSON(t *testing.T) {
    b, err := Encode(codec.FormatJSON, map[string]any{"x": 1, "y": "z"})
    require.NoError(t, err)
    assert.Equal(t, byte(codec.FormatJSON), b[0])

    var out map[string]any
    f, err := Decode(b, &out)
    require.NoError(t, err)
    assert.Equal(t, codec.FormatJSON, f)
    assert.Equal(t, "z", out["y"])
}

func TestEncodeDecodeCBOR(t *testing.T) {
    type step struct {
        Kind string `cbor:"kind"`
        Seq  uint64 `cbor:"seq"`
    }
    b, err := Encode(codec.FormatCBOR, step{Kind: "amend", Seq: 3})
    require.NoError(t, err)

    var out step
    f, err := Decode(b, &out)
    require.NoError(t, err)
    assert.Equal(t, codec.FormatCBOR, f)
    assert.Equal(t, step{Kind: "amend", Seq: 3}, out)
}

func TestEncodeDecodeProto(t *testing.T) {
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    require.NoError(t, err)
    b, err := Encode(codec.FormatProto, s)
    require.NoError(t, err)

    var out structpb.Struct
    _, err = Decode(b, &out)
    require.NoError(t, err)
    assert.Equal(t, "v", out.Fields["k"].GetStringValue())
}

func TestDecodeErrors(t *testing.T) {
    var v []byte
    _, err := Decode(nil, &v)
    assert.ErrorIs(t, err, ErrEmpty)

    _, err = Decode([]byte{0xEE, 0x01}, &v)
    assert.Error(t, err)

    f, ok := FormatOf([]byte{byte(codec.FormatCBOR)})
    assert.True(t, ok)
    assert.Equal(t, codec.FormatCBOR, f)
    _, ok = FormatOf(nil)
    assert.False(t, ok)
}
