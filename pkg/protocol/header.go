package protocol

import (
    "encoding/binary"
    "errors"
)

// Fixed frame header (24 bytes), shared by requests and responses.
// All integer fields are little-endian.
//
//  0  ..15  IntentID [16]byte
//  16 ..19  Type     u32
//  20 ..23  Length   u32 (payload bytes that follow)
const HeaderSize = 24

// header is the decoded form of the fixed frame prefix.
type header struct {
    ID     IntentID
    Type   uint32
    Length uint32
}

func (h *header) put(buf []byte) {
    copy(buf[0:16], h.ID[:])
    binary.LittleEndian.PutUint32(buf[16:20], h.Type)
    binary.LittleEndian.PutUint32(buf[20:24], h.Length)
}

func (h *header) parse(buf []byte) error {
    if len(buf) < HeaderSize {
        return errors.New("protocol: short header")
    }
    copy(h.ID[:], buf[0:16])
    h.Type = binary.LittleEndian.Uint32(buf[16:20])
    h.Length = binary.LittleEndian.Uint32(buf[20:24])
    return nil
}
