// Package session manages the per-connection key material the remotecontrol
// subprotocol's key-exchange handshake establishes, and uses it to encrypt
// outbound commands.
package session

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"

	"github.com/postalsys/loxone-go/internal/xcrypto"
)

const (
	aesKeySize = 32
	aesIVSize  = 16
	saltSize   = 2
)

// Session holds the AES-256 key and IV this connection negotiated with the
// Miniserver, plus the rotating salt mixed into every encrypted command.
// It is safe for concurrent use: RotateSalt and EncryptCommand both take
// the same lock, since commands may be encrypted on one goroutine while
// another requests a rotation.
type Session struct {
	mu sync.Mutex

	aesKey []byte
	aesIV  []byte
	salt   [saltSize]byte

	pendingOldSalt *[saltSize]byte
}

// New derives fresh AES key material, encrypts it under the Miniserver's
// RSA public key, and returns both the Session and the base64 (no padding)
// key bundle that the jdev/sys/keyexchange/<bundle> command expects.
func New(publicKey *rsa.PublicKey) (*Session, string, error) {
	aesKey := make([]byte, aesKeySize)
	aesIV := make([]byte, aesIVSize)
	var salt [saltSize]byte

	for _, b := range [][]byte{aesKey, aesIV, salt[:]} {
		if _, err := rand.Read(b); err != nil {
			return nil, "", fmt.Errorf("session: generate key material: %w", err)
		}
	}

	bundle := []byte(hex.EncodeToString(aesKey) + ":" + hex.EncodeToString(aesIV))
	encrypted, err := xcrypto.RSAEncrypt(publicKey, bundle)
	if err != nil {
		return nil, "", fmt.Errorf("session: %w", err)
	}

	s := &Session{aesKey: aesKey, aesIV: aesIV, salt: salt}
	return s, base64.StdEncoding.WithPadding(base64.NoPadding).EncodeToString(encrypted), nil
}

// RotateSalt schedules a new random salt. The next call to EncryptCommand
// emits it as a one-shot "nextSalt/OLD/NEW/cmd" wrapper instead of the usual
// "salt/CUR/cmd" wrapper, so the Miniserver learns the new value inline with
// a real command; every call after that reverts to the steady-state form.
func (s *Session) RotateSalt() error {
	var newSalt [saltSize]byte
	if _, err := rand.Read(newSalt[:]); err != nil {
		return fmt.Errorf("session: rotate salt: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.salt
	s.pendingOldSalt = &old
	s.salt = newSalt
	return nil
}

// EncryptCommand wraps cmd in the salted/AES-CBC/base64/URL-encoded
// envelope the Miniserver's jdev/sys/enc or jdev/sys/fenc endpoints expect,
// returning the full command string ready to send as a websocket text
// frame. endpoint is "enc" for commands that expect a JSON reply and "fenc"
// for the rarer variants the protocol also defines.
func (s *Session) EncryptCommand(endpoint, cmd string) (string, error) {
	s.mu.Lock()
	salted := s.saltedCommandLocked(cmd)
	aesKey, aesIV := s.aesKey, s.aesIV
	s.mu.Unlock()

	ciphertext, err := xcrypto.AESCBCEncrypt(aesKey, aesIV, []byte(salted))
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}

	encoded := base64.StdEncoding.WithPadding(base64.NoPadding).EncodeToString(ciphertext)
	return fmt.Sprintf("jdev/sys/%s/%s", endpoint, url.QueryEscape(encoded)), nil
}

// saltedCommandLocked must be called with mu held.
func (s *Session) saltedCommandLocked(cmd string) string {
	if s.pendingOldSalt != nil {
		old := *s.pendingOldSalt
		s.pendingOldSalt = nil
		return fmt.Sprintf("nextSalt/%s/%s/%s", hex.EncodeToString(old[:]), hex.EncodeToString(s.salt[:]), cmd)
	}
	return fmt.Sprintf("salt/%s/%s", hex.EncodeToString(s.salt[:]), cmd)
}
