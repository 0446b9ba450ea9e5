// Package sshtest runs in-process SSH servers and TCP echo targets for
// tests that exercise real sessions and forwards.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	gssh "github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// Options selects which credentials the server accepts.  With neither
// Password nor AuthorizedKey set the server accepts any client.
type Options struct {
	User          string
	Password      string
	AuthorizedKey gossh.PublicKey
}

// Server is a running SSH server that allows direct-tcpip forwarding.
type Server struct {
	Addr string
	Host string
	Port int

	srv      *gssh.Server
	forwards atomic.Int64
}

// Start launches a server on 127.0.0.1 and stops it when the test ends.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostKey, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	s := &Server{}
	s.srv = &gssh.Server{
		Handler: func(sess gssh.Session) {
			io.WriteString(sess, "local forwarding only\n") //nolint:errcheck
		},
		LocalPortForwardingCallback: func(_ gssh.Context, _ string, _ uint32) bool {
			s.forwards.Add(1)
			return true
		},
		ChannelHandlers: map[string]gssh.ChannelHandler{
			"session":      gssh.DefaultSessionHandler,
			"direct-tcpip": gssh.DirectTCPIPHandler,
		},
	}
	s.srv.AddHostKey(hostKey)

	if opts.Password != "" {
		s.srv.PasswordHandler = func(ctx gssh.Context, pw string) bool {
			return ctx.User() == opts.User && pw == opts.Password
		}
	}
	if opts.AuthorizedKey != nil {
		s.srv.PublicKeyHandler = func(ctx gssh.Context, key gssh.PublicKey) bool {
			return ctx.User() == opts.User && gssh.KeysEqual(key, opts.AuthorizedKey)
		}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	tcp := ln.Addr().(*net.TCPAddr)
	s.Addr, s.Host, s.Port = ln.Addr().String(), tcp.IP.String(), tcp.Port

	go s.srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { s.srv.Close() })
	return s
}

// Forwards returns how many direct-tcpip channels the server allowed.
func (s *Server) Forwards() int64 { return s.forwards.Load() }

// Close stops the server and drops every client connection.
func (s *Server) Close() error { return s.srv.Close() }

// EchoServer listens on 127.0.0.1 and echoes every connection back.
func EchoServer(t testing.TB) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c) //nolint:errcheck
			}()
		}
	}()
	tcp := ln.Addr().(*net.TCPAddr)
	return tcp.IP.String(), tcp.Port
}

// WriteKey writes a fresh ed25519 private key in OpenSSH format to
// dir, encrypted when passphrase is non-empty.  It returns the path and
// the matching public key.
func WriteKey(t testing.TB, dir, passphrase string) (string, gossh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = gossh.MarshalPrivateKey(priv, "test@localforward")
	} else {
		block, err = gossh.MarshalPrivateKeyWithPassphrase(priv, "test@localforward", []byte(passphrase))
	}
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	sshPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return path, sshPub
}
