package frost

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const fragmentKeyInfo = "FROST/secp256k1/dkg-fragment"

// fragmentKey derives the symmetric key for fragments sent from -> to.
// Both directions share the ECDH point but get distinct keys.
func fragmentKey(sessionID SessionID, from, to ParticipantIndex, secret Scalar, peer Point) ([]byte, error) {
	shared := peer.Mul(secret)
	if shared.IsIdentity() {
		return nil, fmt.Errorf("degenerate shared secret")
	}
	ikm := shared.Bytes()
	defer ZeroizeBytes(ikm)

	info := append([]byte(fragmentKeyInfo), participantBytes(from)...)
	info = append(info, participantBytes(to)...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, []byte(sessionID), info), key); err != nil {
		return nil, err
	}
	return key, nil
}

func fragmentAAD(sessionID SessionID, from, to ParticipantIndex) []byte {
	aad := lengthPrefixed([]byte(sessionID))
	aad = append(aad, participantBytes(from)...)
	return append(aad, participantBytes(to)...)
}

// sealFragment encrypts value for the recipient's ephemeral key.
func sealFragment(rand io.Reader, sessionID SessionID, from, to ParticipantIndex,
	senderSecret Scalar, recipientKey Point, value Scalar) (*EncryptedFragment, error) {
	key, err := fragmentKey(sessionID, from, to, senderSecret, recipientKey)
	if err != nil {
		return nil, err
	}
	defer ZeroizeBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return nil, ErrRandomnessGeneration.WithCause(err)
	}

	plaintext := value.Bytes()
	defer ZeroizeBytes(plaintext)
	return &EncryptedFragment{
		SessionID:  sessionID,
		From:       from,
		To:         to,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, fragmentAAD(sessionID, from, to)),
	}, nil
}

// openFragment authenticates and decrypts a fragment addressed to us.
func openFragment(frag *EncryptedFragment, recipientSecret Scalar, senderKey Point) (Scalar, error) {
	key, err := fragmentKey(frag.SessionID, frag.From, frag.To, recipientSecret, senderKey)
	if err != nil {
		return nil, err
	}
	defer ZeroizeBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(frag.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("fragment nonce must be %d bytes", aead.NonceSize())
	}
	plaintext, err := aead.Open(nil, frag.Nonce, frag.Ciphertext, fragmentAAD(frag.SessionID, frag.From, frag.To))
	if err != nil {
		return nil, fmt.Errorf("fragment authentication failed: %w", err)
	}
	defer ZeroizeBytes(plaintext)
	return secp256k1.ScalarFromBytes(plaintext)
}
