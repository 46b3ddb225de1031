package main

import (
    "encoding"
    "encoding/hex"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/cobra"

    "intentlog/pkg/journal"
    "intentlog/pkg/payload"
    "intentlog/pkg/payload/codec"
    "intentlog/pkg/protocol"
)

// fixed id so the frames are byte-stable across runs
var goldenID = protocol.IntentID{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}

type golden struct {
    name  string
    frame encoding.BinaryMarshaler
}

func main() {
    var outDir string
    cmd := &cobra.Command{
        Use:   "intentlog-genframe",
        Short: "Write golden wire frames for interop tests",
        Args:  cobra.NoArgs,
        RunE:  func(*cobra.Command, []string) error { return generate(outDir) },
    }
    cmd.Flags().StringVar(&outDir, "out", "testdata/frame", "output directory for binary frames")
    if err := cmd.Execute(); err != nil { os.Exit(1) }
}

func generate(outDir string) error {
    if err := os.MkdirAll(outDir, 0o755); err != nil { return err }

    amend, err := payload.Encode(codec.FormatJSON, map[string]any{"step": 1, "ok": true})
    if err != nil { return err }
    diag, err := payload.Encode(codec.FormatCBOR, journal.Diagnostic{Code: journal.CodeNotFound, Message: "no open intent"})
    if err != nil { return err }

    frames := []golden{
        {"request_open.bin", &protocol.Request{ID: goldenID, Type: protocol.RequestOpen, Payload: []byte{0x01}}},
        {"request_amend_json.bin", &protocol.Request{ID: goldenID, Type: protocol.RequestAmend, Payload: amend}},
        {"request_close_empty.bin", &protocol.Request{ID: goldenID, Type: protocol.RequestClose}},
        {"request_reset_empty.bin", &protocol.Request{ID: goldenID, Type: protocol.RequestReset}},
        {"request_pong.bin", &protocol.Request{ID: goldenID, Type: protocol.RequestPong, Payload: []byte("hb")}},
        {"response_success.bin", &protocol.Response{ID: goldenID, Type: protocol.ResponseSuccess}},
        {"response_error_cbor.bin", &protocol.Response{ID: goldenID, Type: protocol.ResponseError, Payload: diag}},
        {"response_ping.bin", &protocol.Response{ID: goldenID, Type: protocol.ResponsePing, Payload: []byte("hb")}},
    }

    var listing strings.Builder
    for _, g := range frames {
        b, err := g.frame.MarshalBinary()
        if err != nil { return fmt.Errorf("%s: %w", g.name, err) }
        if err := os.WriteFile(filepath.Join(outDir, g.name), b, 0o644); err != nil { return err }
        fmt.Printf("%-26s %5d bytes  head: %s\n", g.name, len(b), shortHex(b, 32))
        fmt.Fprintf(&listing, "%s %s\n", g.name, hex.EncodeToString(b))
    }
    if err := os.WriteFile(filepath.Join(outDir, "frames.hex"), []byte(listing.String()), 0o644); err != nil { return err }
    fmt.Println("Generated frames in", outDir)
    return nil
}

func shortHex(b []byte, n int) string {
    if len(b) == 0 { return "" }
    if n > len(b) { n = len(b) }
    enc := hex.EncodeToString(b[:n])
    if len(b) > n { enc += "..." }
    var out []string
    for i := 0; i < len(enc); i += 8 {
        j := i + 8
        if j > len(enc) { j = len(enc) }
        out = append(out, enc[i:j])
    }
    return strings.Join(out, " ")
}
