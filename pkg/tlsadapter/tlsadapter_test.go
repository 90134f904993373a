package tlsadapter

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/tidely/webbench/pkg/dialer"
	"github.com/tidely/webbench/pkg/errors"
)

func selfSignedListener(t *testing.T) net.Listener {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}

	ln, err := tls.Listen("tcp4", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("tls.Listen: %v", err)
	}
	return ln
}

func TestHandshakeAndRoundTrip(t *testing.T) {
	ln := selfSignedListener(t)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			serverDone <- err
			return
		}
		_, err = conn.Write(buf[:n])
		serverDone <- err
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fd, err := dialer.Open(ctx, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("dialer.Open: %v", err)
	}
	defer dialer.Close(fd)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cerr := dialer.ConnectResult(fd); cerr == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	session := NewSession(fd, "127.0.0.1")

	deadline = time.Now().Add(3 * time.Second)
	var handshakeErr error
	for time.Now().Before(deadline) {
		handshakeErr = session.Handshake()
		if handshakeErr == nil {
			break
		}
		if errors.IsWouldBlock(handshakeErr) {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		t.Fatalf("Handshake: unexpected error: %v", handshakeErr)
	}
	if handshakeErr != nil {
		t.Fatalf("handshake did not complete: %v", handshakeErr)
	}

	payload := []byte("ping")
	written := 0
	deadline = time.Now().Add(2 * time.Second)
	for written < len(payload) && time.Now().Before(deadline) {
		n, werr := session.Write(payload[written:])
		if werr != nil && !errors.IsWouldBlock(werr) {
			t.Fatalf("Write: unexpected error: %v", werr)
		}
		written += n
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	buf := make([]byte, 64)
	var n int
	deadline = time.Now().Add(2 * time.Second)
	for n == 0 && time.Now().Before(deadline) {
		got, rerr := session.Read(buf)
		if rerr != nil && !errors.IsWouldBlock(rerr) {
			t.Fatalf("Read: unexpected error: %v", rerr)
		}
		n = got
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	if string(buf[:n]) != "ping" {
		t.Errorf("got %q, want %q", buf[:n], "ping")
	}

	if err := <-serverDone; err != nil {
		t.Errorf("server goroutine error: %v", err)
	}
}
