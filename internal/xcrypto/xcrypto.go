// Package xcrypto implements the cryptographic primitives the Miniserver's
// remotecontrol subprotocol is built on: RSA public-key decoding, AES-256-CBC
// command encryption, and the HMAC password hash scheme used by the token
// handshake.
package xcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Error categories the rest of the module uses to classify failures without
// depending on this package's internals.
var (
	// ErrCertDecode covers every way the Miniserver's public-key certificate
	// can fail to parse: bad PEM framing, malformed ASN.1, or a missing
	// PKCS#1 bit string.
	ErrCertDecode = errors.New("xcrypto: certificate decode failed")

	// ErrCryptoFailure covers RSA/AES operation failures once the key
	// material itself was valid (e.g. plaintext too long for the RSA key).
	ErrCryptoFailure = errors.New("xcrypto: cryptographic operation failed")

	// ErrUnsupportedAlgorithm is returned for a password hash algorithm
	// name the Miniserver didn't actually offer ("SHA1" or "SHA256").
	ErrUnsupportedAlgorithm = errors.New("xcrypto: unsupported algorithm")
)

// subjectPublicKeyInfo mirrors the ASN.1 SEQUENCE the certificate's DER
// payload decodes to: an algorithm identifier followed by a BIT STRING
// holding the DER-encoded PKCS#1 RSAPublicKey. x509.ParsePKIXPublicKey
// assumes a key type this certificate doesn't reliably advertise, so the
// bit string is pulled out by hand and handed to ParsePKCS1PublicKey directly.
type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// ParsePublicKey decodes the PEM-encoded certificate the Miniserver serves
// and returns its RSA public key.
func ParsePublicKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrCertDecode)
	}

	var info subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(block.Bytes, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertDecode, err)
	}

	key, err := x509.ParsePKCS1PublicKey(info.PublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertDecode, err)
	}
	return key, nil
}

// RSAEncrypt encrypts plaintext under the given public key using PKCS#1 v1.5
// padding, the scheme the key-exchange handshake requires.
func RSAEncrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa encrypt: %v", ErrCryptoFailure, err)
	}
	return ciphertext, nil
}

// AESCBCEncrypt encrypts plaintext with AES-256-CBC under the given 32-byte
// key and 16-byte IV, applying PKCS#7 padding.
func AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher: %v", ErrCryptoFailure, err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("%w: iv is %d bytes, want %d", ErrCryptoFailure, len(iv), block.BlockSize())
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

// HashPassword computes the HMAC password hash the Miniserver's token
// handshake expects: HMAC(key, "user:UPPER(SHA(pwd:salt))") under the named
// digest algorithm, as advertised by getkey2's hashAlg field.
func HashPassword(algorithm, user, password string, key []byte, salt string) ([]byte, error) {
	newHash, err := hashConstructor(algorithm)
	if err != nil {
		return nil, err
	}

	digest := newHash()
	digest.Write([]byte(password + ":" + salt))
	passwordHash := strings.ToUpper(hex.EncodeToString(digest.Sum(nil)))

	mac := hmac.New(newHash, key)
	mac.Write([]byte(user + ":" + passwordHash))
	return mac.Sum(nil), nil
}

func hashConstructor(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}
