// Package quic carries one intent protocol stream per QUIC connection, on the
// first bidirectional stream the dialer opens.
package quic

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/tls"
    "crypto/x509"
    "math/big"
    "net"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "intentlog/pkg/transport"
)

const alpn = "intentlog"

// Transport serves with an ephemeral self-signed certificate and dials
// without verifying it; QUIC is used for its transport properties only.
type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
}

func New() (*Transport, error) {
    cert, err := selfSignedCert()
    if err != nil { return nil, err }
    return &Transport{
        tlsConf: &tls.Config{
            Certificates: []tls.Certificate{cert},
            NextProtos:   []string{alpn},
            MinVersion:   tls.VersionTLS13,
        },
        quicConf: &quicgo.Config{KeepAlivePeriod: 15 * time.Second},
    }, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil { return nil, err }
    acceptCtx, cancel := context.WithCancel(context.Background())
    ql := &listener{l: l, q: transport.NewQueue(8), cancel: cancel}
    go ql.acceptLoop(acceptCtx)
    context.AfterFunc(ctx, func() { _ = ql.Close() })
    return ql, nil
}

// Dial connects and opens the stream. The listener only sees the stream
// once the first frame has been written on it.
func (t *Transport) Dial(ctx context.Context, address string) (transport.Stream, error) {
    tlsClient := &tls.Config{
        InsecureSkipVerify: true,
        NextProtos:         []string{alpn},
        MinVersion:         tls.VersionTLS13,
    }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil { return nil, err }
    st, err := c.OpenStreamSync(ctx)
    if err != nil {
        _ = c.CloseWithError(0, "")
        return nil, err
    }
    return &stream{Stream: st, conn: c}, nil
}

type listener struct {
    l      *quicgo.Listener
    q      *transport.Queue
    cancel context.CancelFunc
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) { return l.q.Pop(ctx) }

func (l *listener) Close() error {
    l.cancel()
    l.q.Close()
    return l.l.Close()
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        c, err := l.l.Accept(ctx)
        if err != nil {
            l.q.Close()
            return
        }
        // one slow dialer must not hold back the others
        go func() {
            st, err := c.AcceptStream(ctx)
            if err != nil {
                _ = c.CloseWithError(0, "")
                return
            }
            l.q.Push(&stream{Stream: st, conn: c})
        }()
    }
}

// stream owns its connection: closing the stream closes the connection.
type stream struct {
    quicgo.Stream
    conn      quicgo.Connection
    closeOnce sync.Once
    closeErr  error
}

func (s *stream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *stream) Close() error {
    s.closeOnce.Do(func() {
        s.Stream.CancelRead(0)
        s.closeErr = s.Stream.Close()
        _ = s.conn.CloseWithError(0, "")
    })
    return s.closeErr
}

// selfSignedCert generates a short-lived self-signed TLS certificate.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := rsa.GenerateKey(rand.Reader, 2048)
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        NotBefore:             time.Now().Add(-time.Minute),
        NotAfter:              time.Now().Add(24 * time.Hour),
        KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
