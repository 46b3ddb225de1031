package main

import (
    "context"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/spf13/cobra"
    "go.uber.org/zap"
    "google.golang.org/protobuf/types/known/structpb"

    "intentlog/pkg/client"
    "intentlog/pkg/journal"
    "intentlog/pkg/payload"
    "intentlog/pkg/payload/codec"
    "intentlog/pkg/protocol"
    "intentlog/pkg/transport/transports"
)

type globalFlags struct {
    kind    string
    addr    string
    timeout time.Duration
    verbose bool
}

var flags globalFlags

func main() {
    root := &cobra.Command{
        Use:           "intentlog-ctl",
        Short:         "Drive intents against an intentlog server",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    root.PersistentFlags().StringVar(&flags.kind, "kind", "tcp", "transport kind: tcp|quic|winpipe")
    root.PersistentFlags().StringVar(&flags.addr, "addr", "127.0.0.1:7420", "server address to connect to")
    root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 5*time.Second, "dial and per-request timeout")
    root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log protocol traffic to stderr")
    root.AddCommand(newOpenCmd(), newPingCmd())

    if err := root.Execute(); err != nil {
        fmt.Fprintln(os.Stderr, "intentlog-ctl:", describe(err))
        os.Exit(1)
    }
}

func newOpenCmd() *cobra.Command {
    var (
        format string
        amends []string
        finish string
    )
    cmd := &cobra.Command{
        Use:   "open [payload]",
        Short: "Open an intent, apply amendments, then finish it",
        Long: `Open an intent with an optional payload. With --format raw the text is sent
as is; json, cbor and proto read the text as a JSON value and send it in that
encoding. Without --finish the intent is released with the default terminal
request when the command exits.`,
        Args: cobra.MaximumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            f, err := codec.ParseFormat(format)
            if err != nil { return err }
            var text string
            if len(args) == 1 { text = args[0] }
            open, err := encode(f, text)
            if err != nil { return err }
            steps := make([][]byte, 0, len(amends))
            for _, a := range amends {
                b, err := encode(f, a)
                if err != nil { return err }
                steps = append(steps, b)
            }
            terminal, err := finisher(finish)
            if err != nil { return err }

            c, err := dial(cmd.Context(), nil)
            if err != nil { return err }
            defer c.Close()

            in, err := within(cmd.Context(), func(ctx context.Context) (*client.Intent, error) { return c.Open(ctx, open) })
            if err != nil { return fmt.Errorf("open: %w", err) }
            fmt.Println("opened", in.ID())
            for i, p := range steps {
                if _, err := within(cmd.Context(), func(ctx context.Context) (struct{}, error) { return struct{}{}, in.Amend(ctx, p) }); err != nil {
                    return fmt.Errorf("amend %d: %w", i+1, err)
                }
                fmt.Println("amended", in.ID(), i+1)
            }
            if terminal == nil {
                ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
                defer cancel()
                in.Release(ctx)
                fmt.Println("released", in.ID())
                return nil
            }
            if _, err := within(cmd.Context(), func(ctx context.Context) (struct{}, error) { return struct{}{}, terminal(ctx, in) }); err != nil {
                return fmt.Errorf("%s: %w", finish, err)
            }
            fmt.Println(finish, in.ID())
            return nil
        },
    }
    cmd.Flags().StringVar(&format, "format", "raw", "payload encoding: raw|json|cbor|proto")
    cmd.Flags().StringArrayVar(&amends, "amend", nil, "amend payload (repeatable)")
    cmd.Flags().StringVar(&finish, "finish", "", "terminal request: close|abort|timeout|reset (default: release)")
    return cmd
}

func newPingCmd() *cobra.Command {
    var count int
    cmd := &cobra.Command{
        Use:   "ping",
        Short: "Measure the heartbeat round trip",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            pongs := make(chan []byte, 1)
            c, err := dial(cmd.Context(), func(_ protocol.IntentID, p []byte) {
                select {
                case pongs <- p:
                default:
                }
            })
            if err != nil { return err }
            defer c.Close()

            for i := 0; i < count; i++ {
                start := time.Now()
                stamp := make([]byte, 8)
                binary.LittleEndian.PutUint64(stamp, uint64(start.UnixNano()))
                if err := c.Ping(stamp); err != nil { return fmt.Errorf("ping: %w", err) }
                select {
                case <-pongs:
                    fmt.Printf("pong from %s: time=%s\n", flags.addr, time.Since(start).Round(time.Microsecond))
                case <-c.Done():
                    return fmt.Errorf("ping: %w", c.Err())
                case <-time.After(flags.timeout):
                    return fmt.Errorf("ping: no pong within %s", flags.timeout)
                }
            }
            return nil
        },
    }
    cmd.Flags().IntVarP(&count, "count", "c", 1, "number of pings")
    return cmd
}

func dial(ctx context.Context, onPong func(protocol.IntentID, []byte)) (*client.Client, error) {
    tr, err := transports.NewByName(flags.kind)
    if err != nil { return nil, err }
    dctx, cancel := context.WithTimeout(ctx, flags.timeout)
    defer cancel()
    st, err := tr.Dial(dctx, flags.addr)
    if err != nil { return nil, fmt.Errorf("dial %s %s: %w", flags.kind, flags.addr, err) }
    logger := zap.NewNop()
    if flags.verbose {
        if logger, err = zap.NewDevelopment(); err != nil { return nil, err }
    }
    return client.New(st, client.Options{Logger: logger, OnPong: onPong}), nil
}

func within[T any](parent context.Context, f func(context.Context) (T, error)) (T, error) {
    ctx, cancel := context.WithTimeout(parent, flags.timeout)
    defer cancel()
    return f(ctx)
}

func finisher(name string) (func(context.Context, *client.Intent) error, error) {
    switch strings.ToLower(name) {
    case "":
        return nil, nil
    case "close":
        return func(ctx context.Context, in *client.Intent) error { return in.Close(ctx, nil) }, nil
    case "abort":
        return func(ctx context.Context, in *client.Intent) error { return in.Abort(ctx, nil) }, nil
    case "timeout":
        return func(ctx context.Context, in *client.Intent) error { return in.Timeout(ctx, nil) }, nil
    case "reset":
        return func(ctx context.Context, in *client.Intent) error { return in.Reset(ctx, nil) }, nil
    }
    return nil, fmt.Errorf("unknown --finish %q", name)
}

// encode turns command-line text into a payload body.
func encode(f codec.Format, text string) ([]byte, error) {
    if f == codec.FormatRaw { return []byte(text), nil }
    if text == "" { return nil, nil }
    var v any
    if err := json.Unmarshal([]byte(text), &v); err != nil {
        return nil, fmt.Errorf("payload %q is not JSON: %w", text, err)
    }
    if f == codec.FormatProto {
        pv, err := structpb.NewValue(v)
        if err != nil { return nil, fmt.Errorf("payload to protobuf: %w", err) }
        return payload.Encode(f, pv)
    }
    return payload.Encode(f, v)
}

// describe prints journal diagnostics carried by remote rejections.
func describe(err error) string {
    var re *client.RemoteError
    if !errors.As(err, &re) { return err.Error() }
    if d, derr := journal.DecodeDiagnostic(re.Payload); derr == nil {
        return fmt.Sprintf("%s rejected by server: %s (%s)", re.Request, d.Message, d.Code)
    }
    return err.Error()
}
