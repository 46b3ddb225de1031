// Package protocol implements the intent log wire format: fixed 24-byte
// header followed by an opaque payload, for requests (toward the handler)
// and responses (toward the client).
package protocol

import (
    "errors"
    "fmt"
    "io"
    "net"
)

var (
    // ErrEndOfStream is returned when the stream ends before a whole frame
    // could be read or written. The transport error is wrapped alongside.
    ErrEndOfStream = errors.New("protocol: end of stream")
    // ErrPayloadTooLarge is returned by a Decoder whose MaxPayload is exceeded.
    ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

// Request is a message sent toward the handler side.
type Request struct {
    ID      IntentID
    Type    RequestType
    Payload []byte
}

// Response is a message sent toward the client side.
type Response struct {
    ID      IntentID
    Type    ResponseType
    Payload []byte
}

// EndOfStream maps transport failures that mean the stream is gone onto
// ErrEndOfStream. Other errors are returned unchanged.
func EndOfStream(err error) error {
    if err == nil || errors.Is(err, ErrEndOfStream) { return err }
    if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
        errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
        return fmt.Errorf("%w: %w", ErrEndOfStream, err)
    }
    return err
}

// FrameSize returns the encoded size of a frame carrying n payload bytes.
func FrameSize(n int) int { return HeaderSize + n }

// WriteTo writes header + payload to w.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
    return writeFrame(w, r.ID, uint32(r.Type), r.Payload)
}

// ReadFrom reads exactly one request from rd, without a payload cap.
func (r *Request) ReadFrom(rd io.Reader) (int64, error) {
    h, p, err := readFrame(rd, 0)
    if err != nil { return 0, err }
    r.ID, r.Type, r.Payload = h.ID, RequestType(h.Type), p
    return int64(FrameSize(len(p))), nil
}

// MarshalBinary returns header+payload as a single byte slice.
func (r *Request) MarshalBinary() ([]byte, error) {
    return encodeFrame(r.ID, uint32(r.Type), r.Payload), nil
}

// UnmarshalBinary parses a single frame from buf. Trailing bytes are an error.
func (r *Request) UnmarshalBinary(buf []byte) error {
    h, p, err := decodeFrame(buf)
    if err != nil { return err }
    r.ID, r.Type, r.Payload = h.ID, RequestType(h.Type), p
    return nil
}

// WriteTo writes header + payload to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
    return writeFrame(w, r.ID, uint32(r.Type), r.Payload)
}

// ReadFrom reads exactly one response from rd, without a payload cap.
func (r *Response) ReadFrom(rd io.Reader) (int64, error) {
    h, p, err := readFrame(rd, 0)
    if err != nil { return 0, err }
    r.ID, r.Type, r.Payload = h.ID, ResponseType(h.Type), p
    return int64(FrameSize(len(p))), nil
}

// MarshalBinary returns header+payload as a single byte slice.
func (r *Response) MarshalBinary() ([]byte, error) {
    return encodeFrame(r.ID, uint32(r.Type), r.Payload), nil
}

// UnmarshalBinary parses a single frame from buf. Trailing bytes are an error.
func (r *Response) UnmarshalBinary(buf []byte) error {
    h, p, err := decodeFrame(buf)
    if err != nil { return err }
    r.ID, r.Type, r.Payload = h.ID, ResponseType(h.Type), p
    return nil
}

// Decoder reads consecutive frames from a stream. It is not safe for
// concurrent use; one read loop owns it.
type Decoder struct {
    r io.Reader
    // MaxPayload caps the accepted payload length. Zero means unbounded.
    MaxPayload uint32
}

func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

// ReadRequest reads the next request frame.
func (d *Decoder) ReadRequest() (Request, error) {
    h, p, err := readFrame(d.r, d.MaxPayload)
    if err != nil { return Request{}, err }
    return Request{ID: h.ID, Type: RequestType(h.Type), Payload: p}, nil
}

// ReadResponse reads the next response frame.
func (d *Decoder) ReadResponse() (Response, error) {
    h, p, err := readFrame(d.r, d.MaxPayload)
    if err != nil { return Response{}, err }
    return Response{ID: h.ID, Type: ResponseType(h.Type), Payload: p}, nil
}

func writeFrame(w io.Writer, id IntentID, typ uint32, payload []byte) (int64, error) {
    var hb [HeaderSize]byte
    h := header{ID: id, Type: typ, Length: uint32(len(payload))}
    h.put(hb[:])
    n1, err := w.Write(hb[:])
    if err != nil { return int64(n1), EndOfStream(err) }
    if len(payload) == 0 { return int64(n1), nil }
    n2, err := w.Write(payload)
    return int64(n1 + n2), EndOfStream(err)
}

// readFrame reads the fixed header and then exactly Length payload bytes.
// A stream that ends anywhere inside the frame yields ErrEndOfStream.
func readFrame(r io.Reader, max uint32) (header, []byte, error) {
    var hb [HeaderSize]byte
    var h header
    if _, err := io.ReadFull(r, hb[:]); err != nil {
        return h, nil, EndOfStream(err)
    }
    _ = h.parse(hb[:])
    if max > 0 && h.Length > max {
        return h, nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Length, max)
    }
    if h.Length == 0 { return h, nil, nil }
    p := make([]byte, int(h.Length))
    if _, err := io.ReadFull(r, p); err != nil {
        // a header without its payload is still a truncated frame
        if errors.Is(err, io.EOF) { err = io.ErrUnexpectedEOF }
        return h, nil, EndOfStream(err)
    }
    return h, p, nil
}

func encodeFrame(id IntentID, typ uint32, payload []byte) []byte {
    out := make([]byte, FrameSize(len(payload)))
    h := header{ID: id, Type: typ, Length: uint32(len(payload))}
    h.put(out)
    copy(out[HeaderSize:], payload)
    return out
}

func decodeFrame(buf []byte) (header, []byte, error) {
    var h header
    if len(buf) < HeaderSize {
        return h, nil, fmt.Errorf("%w: %w", ErrEndOfStream, io.ErrUnexpectedEOF)
    }
    _ = h.parse(buf[:HeaderSize])
    need := HeaderSize + int(h.Length)
    if need > len(buf) {
        return h, nil, fmt.Errorf("%w: %w", ErrEndOfStream, io.ErrUnexpectedEOF)
    }
    if need < len(buf) {
        return h, nil, fmt.Errorf("protocol: %d trailing bytes after frame", len(buf)-need)
    }
    if h.Length == 0 { return h, nil, nil }
    return h, append([]byte(nil), buf[HeaderSize:need]...), nil
}
