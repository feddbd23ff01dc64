package supervisor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/ascension-relay/innkeeper/internal/config"
	"github.com/ascension-relay/innkeeper/internal/game"
	"github.com/ascension-relay/innkeeper/internal/realm"
)

const (
	testCmdLogonChallenge = 0x00
	testCmdLogonProof     = 0x01
	testCmdRealmList      = 0x10
	testStatusSuccess     = 0x00
	testPasswordXORMask   = 0xED
	testContextLabel      = "innkeeper-ascension-realm-auth-v1"
	testTrailingZeroWidth = 32 + 20 + 20
)

// fakeRealmListener accepts exactly one connection and plays the server side
// of the realm handshake, handing back a single realm entry that
// points at gameAddr.
func fakeRealmListener(t *testing.T, gameAddr string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		header := make([]byte, 1)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		io.ReadFull(conn, make([]byte, 2)) // build
		readCStringTest(conn)              // OS tag
		readCStringTest(conn)              // locale
		clientPub := make([]byte, 32)
		io.ReadFull(conn, clientPub)
		accLen := make([]byte, 1)
		io.ReadFull(conn, accLen)
		io.ReadFull(conn, make([]byte, int(accLen[0])))

		serverPriv := make([]byte, curve25519.ScalarSize)
		rand.Read(serverPriv)
		serverPub, _ := curve25519.X25519(serverPriv, curve25519.Basepoint)
		nonce := make([]byte, 12)
		rand.Read(nonce)

		reply := append([]byte{testCmdLogonChallenge, testStatusSuccess}, serverPub...)
		reply = append(reply, nonce...)
		reply = append(reply, 0)
		conn.Write(reply)

		proofHeader := make([]byte, 1+4+32+2)
		if _, err := io.ReadFull(conn, proofHeader); err != nil {
			return
		}
		clientPubFromProof := proofHeader[5:37]
		ctLen := binary.LittleEndian.Uint16(proofHeader[37:39])
		ciphertext := make([]byte, ctLen)
		io.ReadFull(conn, ciphertext)
		tag := make([]byte, 16)
		io.ReadFull(conn, tag)
		io.ReadFull(conn, make([]byte, testTrailingZeroWidth))

		sharedSecret, _ := curve25519.X25519(serverPriv, clientPubFromProof)
		mac := hmac.New(sha256.New, sharedSecret)
		mac.Write(nonce)
		mac.Write([]byte(testContextLabel))
		derivedKey := mac.Sum(nil)

		aead, _ := chacha20poly1305.New(derivedKey)
		sealed := append(append([]byte{}, ciphertext...), tag...)
		aead.Open(nil, nonce, sealed, nil) // password not checked by this fake

		transcript := append(append(append([]byte{}, clientPubFromProof...), ciphertext...), tag...)
		proofMac := hmac.New(sha256.New, derivedKey)
		proofMac.Write(transcript)
		proof2 := proofMac.Sum(nil)
		conn.Write(append([]byte{testCmdLogonProof, testStatusSuccess}, proof2...))

		reqHeader := make([]byte, 1)
		if _, err := io.ReadFull(conn, reqHeader); err != nil {
			return
		}

		host, portStr, _ := net.SplitHostPort(gameAddr)
		port, _ := strconv.Atoi(portStr)

		var buf bytes.Buffer
		buf.WriteByte(testCmdRealmList)
		var count [2]byte
		binary.LittleEndian.PutUint16(count[:], 1)
		buf.Write(count[:])
		buf.WriteString("TestRealm")
		buf.WriteByte(0)
		buf.WriteString(host)
		buf.WriteByte(0)
		var portBuf [2]byte
		binary.LittleEndian.PutUint16(portBuf[:], uint16(port))
		buf.Write(portBuf[:])
		buf.WriteByte(0) // flags
		var popBuf [4]byte
		binary.LittleEndian.PutUint32(popBuf[:], 0)
		buf.Write(popBuf[:])
		conn.Write(buf.Bytes())
	}()

	return ln
}

func readCStringTest(r io.Reader) string {
	var buf bytes.Buffer
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return buf.String()
		}
		if one[0] == 0 {
			return buf.String()
		}
		buf.WriteByte(one[0])
	}
}

func TestSupervisorConnectAuthenticatesAndSelectsRealm(t *testing.T) {
	gameLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen game: %v", err)
	}
	defer gameLn.Close()
	go func() {
		conn, err := gameLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(100 * time.Millisecond)
	}()

	realmLn := fakeRealmListener(t, gameLn.Addr().String())
	defer realmLn.Close()

	cfg := &config.Config{}
	cfg.Wow.Platform = "Win"
	cfg.Wow.RealmBuild = 12340
	cfg.Wow.Account = "tester"
	cfg.Wow.Password = "hunter2"
	cfg.Wow.Realm = "TestRealm"
	cfg.Wow.GameBuild = 12340
	cfg.Wow.Character = "Arthas"
	cfg.Wow.RealmList = realmLn.Addr().String()

	sup := NewSupervisor(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := sup.connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if client == nil {
		t.Fatal("connect returned nil client")
	}
}

func TestSupervisorConnectFailsOnUnreachableRealmList(t *testing.T) {
	cfg := &config.Config{}
	cfg.Wow.RealmList = "127.0.0.1:1" // reserved, nothing listens here
	sup := NewSupervisor(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := sup.connect(ctx); err == nil {
		t.Fatal("expected dial error, got nil")
	}
}

func TestIsFatalAuthErrClassifiesRealmAuthCodes(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"banned", &realm.AuthError{Code: realm.AuthBanned}, true},
		{"incorrect password", &realm.AuthError{Code: realm.AuthIncorrectPassword}, true},
		{"account unknown", &realm.AuthError{Code: realm.AuthAccountUnknown}, true},
		{"suspended", &realm.AuthError{Code: realm.AuthSuspended}, true},
		{"version mismatch", &realm.AuthError{Code: realm.AuthVersionMismatch}, true},
		{"server full is retryable", &realm.AuthError{Code: realm.AuthServerFull}, false},
		{"queued is retryable", &realm.AuthError{Code: realm.AuthServerQueued}, false},
		{"wrapped fatal code", fmt.Errorf("realm authenticate: %w", &realm.AuthError{Code: realm.AuthBanned}), true},
		{"auth session rejected", &game.AuthSessionError{Code: game.AuthResultBanned}, true},
		{"character not found", game.ErrCharacterNotFound, true},
		{"wrapped character not found", fmt.Errorf("run: %w", game.ErrCharacterNotFound), true},
		{"plain io error is retryable", fmt.Errorf("connection reset"), false},
		{"nil is never fatal", nil, false},
	}

	for _, tc := range cases {
		if got := isFatalAuthErr(tc.err); got != tc.fatal {
			t.Errorf("%s: isFatalAuthErr() = %v, want %v", tc.name, got, tc.fatal)
		}
	}
}

func TestBackoffWaitReturnsFalseOnCancelledContext(t *testing.T) {
	sup := NewSupervisor(&config.Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if sup.backoffWait(ctx, 0) {
		t.Fatal("expected backoffWait to return false on a cancelled context")
	}
}
