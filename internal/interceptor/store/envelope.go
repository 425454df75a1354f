package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/int3rceptor/interceptor/errs"
)

const nonceSize = 12

// envelope is the on-disk format for an encrypted field: a 12-byte nonce
// followed by a 4-byte little-endian ciphertext length and the ciphertext
// (which includes the GCM authentication tag).
type envelope struct {
	nonce      [nonceSize]byte
	ciphertext []byte
}

func (e envelope) toBytes() []byte {
	out := make([]byte, 0, nonceSize+4+len(e.ciphertext))
	out = append(out, e.nonce[:]...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.ciphertext)))
	out = append(out, lenBuf[:]...)
	out = append(out, e.ciphertext...)
	return out
}

func envelopeFromBytes(data []byte) (envelope, error) {
	if len(data) < nonceSize+4 {
		return envelope{}, errs.New(errs.KindCrypto, "encrypted field too short", nil)
	}
	var e envelope
	copy(e.nonce[:], data[:nonceSize])
	length := binary.LittleEndian.Uint32(data[nonceSize : nonceSize+4])
	rest := data[nonceSize+4:]
	if uint32(len(rest)) != length {
		return envelope{}, errs.New(errs.KindCrypto, "encrypted field length mismatch", nil)
	}
	e.ciphertext = rest
	return e, nil
}

func encryptField(key [32]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errs.New(errs.KindCrypto, "constructing aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New(errs.KindCrypto, "constructing gcm mode", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errs.New(errs.KindCrypto, "generating nonce", err)
	}

	ciphertext := gcm.Seal(nil, nonce[:], plaintext, nil)
	return envelope{nonce: nonce, ciphertext: ciphertext}.toBytes(), nil
}

func decryptField(key [32]byte, data []byte) ([]byte, error) {
	e, err := envelopeFromBytes(data)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errs.New(errs.KindCrypto, "constructing aes cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New(errs.KindCrypto, "constructing gcm mode", err)
	}

	plaintext, err := gcm.Open(nil, e.nonce[:], e.ciphertext, nil)
	if err != nil {
		return nil, errs.New(errs.KindCrypto, "decrypting field", err)
	}
	return plaintext, nil
}

// encryptIfEnabled returns plaintext unchanged when key is not enabled,
// otherwise the AES-256-GCM envelope bytes.
func encryptIfEnabled(key KeyProvider, plaintext []byte) ([]byte, error) {
	if !key.IsEnabled() {
		return plaintext, nil
	}
	return encryptField(key.Key(), plaintext)
}

// decryptIfEnabled is the inverse of encryptIfEnabled. An empty/nil input
// is always an empty field rather than a malformed envelope: Insert never
// encrypts an empty request/response body, storing SQL NULL instead.
func decryptIfEnabled(key KeyProvider, data []byte) ([]byte, error) {
	if !key.IsEnabled() || len(data) == 0 {
		return data, nil
	}
	return decryptField(key.Key(), data)
}
