// Package realm implements the Ascension realm-authentication handshake:
// an X25519 key agreement, a ChaCha20-Poly1305 encrypted password proof,
// and an HMAC-SHA256 server-proof check, replacing the standard SRP-6
// exchange. One realm.Client drives exactly one TCP session,
// strictly serially, client-side.
package realm

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	cmdLogonChallenge = 0x00
	cmdLogonProof     = 0x01
	cmdRealmList      = 0x10

	logonProofMagic = 0xE6F4F4FC

	statusSuccess = 0x00

	passwordXORMask = 0xED

	contextLabel = "innkeeper-ascension-realm-auth-v1"

	// trailingZeroWidth matches the byte width of the SRP proof + M1 + CRC
	// fields the Ascension wire format still reserves,
	// even though this scheme never populates them.
	trailingZeroWidth = 32 + 20 + 20

	authStepTimeout = 10 * time.Second
)

// Config carries the identity fields needed to perform the handshake.
type Config struct {
	Platform string // "Mac" or "Win" — mapped to the wire OS tag.
	Build    uint16
	Account  string
	Password string
	Realm    string // realm name to select from the realm list, case-insensitive
}

// Client drives one realm-authentication session over conn.
type Client struct {
	conn   io.ReadWriter
	cfg    Config
	logger *slog.Logger
}

// NewClient wraps conn (typically a freshly dialed net.Conn) for a single
// handshake.
func NewClient(conn io.ReadWriter, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{conn: conn, cfg: cfg, logger: logger.With("component", "realm")}
}

// Authenticate runs the full six-step handshake and
// returns the derived session key plus the selected realm's address.
func (c *Client) Authenticate(ctx context.Context) (*Result, error) {
	c.applyDeadline(ctx, authStepTimeout)

	clientPriv, clientPub, err := generateX25519Keypair()
	if err != nil {
		return nil, fmt.Errorf("realm: generating keypair: %w", err)
	}

	if err := c.sendLogonChallenge(clientPub); err != nil {
		return nil, fmt.Errorf("realm: sending logon challenge: %w", err)
	}

	serverPub, nonce, err := c.recvLogonChallenge()
	if err != nil {
		return nil, err
	}

	sharedSecret, err := curve25519.X25519(clientPriv, serverPub)
	if err != nil {
		return nil, fmt.Errorf("realm: X25519 key agreement: %w", err)
	}

	derivedKey := deriveKey(sharedSecret, nonce)

	ciphertext, tag, err := encryptPassword(derivedKey, nonce, c.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("realm: encrypting password: %w", err)
	}

	c.applyDeadline(ctx, authStepTimeout)
	if err := c.sendLogonProof(clientPub, ciphertext, tag); err != nil {
		return nil, fmt.Errorf("realm: sending logon proof: %w", err)
	}

	if err := c.recvLogonProof(derivedKey, clientPub, ciphertext, tag); err != nil {
		return nil, err
	}

	var sessionKey SessionKey
	copy(sessionKey[:], expandSessionKey(derivedKey))

	c.applyDeadline(ctx, authStepTimeout)
	if err := c.sendRealmListRequest(); err != nil {
		return nil, fmt.Errorf("realm: requesting realm list: %w", err)
	}

	selected, err := c.recvRealmList()
	if err != nil {
		return nil, err
	}

	c.logger.Info("realm authenticated", "realm", selected.Name, "address", selected.Address)
	return &Result{SessionKey: sessionKey, Realm: selected}, nil
}

func (c *Client) applyDeadline(ctx context.Context, fallback time.Duration) {
	conn, ok := c.conn.(net.Conn)
	if !ok {
		return
	}
	deadline := time.Now().Add(fallback)
	if ctxDeadline, has := ctx.Deadline(); has && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)
}

func generateX25519Keypair() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err = rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// deriveKey computes the ChaCha20-Poly1305 key: an
// HMAC-SHA256 over the shared secret, the server's challenge nonce, and a
// fixed context label, binding the key to this exchange.
func deriveKey(sharedSecret, nonce []byte) []byte {
	mac := hmac.New(sha256.New, sharedSecret)
	mac.Write(nonce)
	mac.Write([]byte(contextLabel))
	return mac.Sum(nil)
}

// expandSessionKey stretches the 32-byte derived key into the 40-byte
// SessionKey the game client's AUTH_SESSION digest requires.
func expandSessionKey(derivedKey []byte) []byte {
	mac1 := hmac.New(sha256.New, derivedKey)
	mac1.Write([]byte("session-key"))
	part1 := mac1.Sum(nil)

	mac2 := hmac.New(sha256.New, derivedKey)
	mac2.Write([]byte("session-key-ext"))
	part2 := mac2.Sum(nil)

	return append(part1, part2[:SessionKeyLen-len(part1)]...)
}

func encryptPassword(key, nonce []byte, password string) (ciphertext, tag []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, err
	}

	masked := []byte(strings.ToUpper(password))
	for i := range masked {
		masked[i] ^= passwordXORMask
	}

	sealed := aead.Seal(nil, nonce, masked, nil)
	tagStart := len(sealed) - aead.Overhead()
	return sealed[:tagStart], sealed[tagStart:], nil
}

func (c *Client) sendLogonChallenge(clientPub []byte) error {
	var buf bytes.Buffer
	buf.WriteByte(cmdLogonChallenge)

	var buildBytes [2]byte
	binary.LittleEndian.PutUint16(buildBytes[:], c.cfg.Build)
	buf.Write(buildBytes[:])

	osTag := "Win"
	if strings.EqualFold(c.cfg.Platform, "Mac") {
		osTag = "OSX"
	}
	buf.WriteString(osTag)
	buf.WriteByte(0)
	buf.WriteString("enUS")
	buf.WriteByte(0)

	buf.Write(clientPub)

	account := strings.ToUpper(c.cfg.Account)
	buf.WriteByte(byte(len(account)))
	buf.WriteString(account)

	_, err := c.conn.Write(buf.Bytes())
	return err
}

func (c *Client) recvLogonChallenge() (serverPub, nonce []byte, err error) {
	header := make([]byte, 2)
	if _, err = io.ReadFull(c.conn, header); err != nil {
		return nil, nil, err
	}
	if header[0] != cmdLogonChallenge {
		return nil, nil, fmt.Errorf("realm: unexpected reply command 0x%02x", header[0])
	}
	status := header[1]
	if status != statusSuccess {
		return nil, nil, &AuthError{Code: authCodeFromWire(status)}
	}

	rest := make([]byte, 32+12+1)
	if _, err = io.ReadFull(c.conn, rest); err != nil {
		return nil, nil, err
	}
	serverPub = rest[:32]
	nonce = rest[32:44]
	securityFlag := rest[44]
	if securityFlag != 0 {
		return nil, nil, &AuthError{Code: AuthTwoFactorRequired}
	}
	return serverPub, nonce, nil
}

func (c *Client) sendLogonProof(clientPub, ciphertext, tag []byte) error {
	var buf bytes.Buffer
	buf.WriteByte(cmdLogonProof)

	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], logonProofMagic)
	buf.Write(magic[:])

	buf.Write(clientPub)

	var ctLen [2]byte
	binary.LittleEndian.PutUint16(ctLen[:], uint16(len(ciphertext)))
	buf.Write(ctLen[:])
	buf.Write(ciphertext)
	buf.Write(tag)

	buf.Write(make([]byte, trailingZeroWidth))

	_, err := c.conn.Write(buf.Bytes())
	return err
}

func (c *Client) recvLogonProof(derivedKey, clientPub, ciphertext, tag []byte) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return err
	}
	if header[0] != cmdLogonProof {
		return fmt.Errorf("realm: unexpected reply command 0x%02x", header[0])
	}
	if header[1] != statusSuccess {
		return &AuthError{Code: authCodeFromWire(header[1])}
	}

	proof2 := make([]byte, sha256.Size)
	if _, err := io.ReadFull(c.conn, proof2); err != nil {
		return err
	}

	transcript := append(append(append([]byte{}, clientPub...), ciphertext...), tag...)
	mac := hmac.New(sha256.New, derivedKey)
	mac.Write(transcript)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, proof2) {
		return &AuthError{Code: AuthInvalidServerProof}
	}
	return nil
}

func (c *Client) sendRealmListRequest() error {
	_, err := c.conn.Write([]byte{cmdRealmList})
	return err
}

func (c *Client) recvRealmList() (Realm, error) {
	header := make([]byte, 1)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return Realm{}, err
	}
	if header[0] != cmdRealmList {
		return Realm{}, fmt.Errorf("realm: unexpected reply command 0x%02x", header[0])
	}

	countBytes := make([]byte, 2)
	if _, err := io.ReadFull(c.conn, countBytes); err != nil {
		return Realm{}, err
	}
	count := binary.LittleEndian.Uint16(countBytes)

	var selected *Realm
	for i := uint16(0); i < count; i++ {
		r, err := c.readRealmEntry()
		if err != nil {
			return Realm{}, err
		}
		if strings.EqualFold(r.Name, c.cfg.Realm) {
			rv := r
			selected = &rv
		}
	}

	if selected == nil {
		return Realm{}, &AuthError{Code: AuthRealmNotFound}
	}
	return *selected, nil
}

func (c *Client) readRealmEntry() (Realm, error) {
	name, err := readCString(c.conn)
	if err != nil {
		return Realm{}, err
	}
	host, err := readCString(c.conn)
	if err != nil {
		return Realm{}, err
	}

	rest := make([]byte, 2+1+4)
	if _, err := io.ReadFull(c.conn, rest); err != nil {
		return Realm{}, err
	}
	port := binary.LittleEndian.Uint16(rest[0:2])
	flags := rest[2]
	population := float32(binary.LittleEndian.Uint32(rest[3:7])) / 1000.0

	return Realm{
		Name:       name,
		Address:    Address{Host: host, Port: port},
		Flags:      flags,
		Population: population,
	}, nil
}

// readCString reads a NUL-terminated string directly from a stream, one
// byte at a time, bounded to avoid spinning on a malicious peer.
func readCString(r io.Reader) (string, error) {
	const maxLen = 256
	var buf bytes.Buffer
	one := make([]byte, 1)
	for i := 0; i < maxLen; i++ {
		if _, err := io.ReadFull(r, one); err != nil {
			return "", err
		}
		if one[0] == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(one[0])
	}
	return "", fmt.Errorf("realm: cstring exceeded %d bytes without NUL", maxLen)
}
