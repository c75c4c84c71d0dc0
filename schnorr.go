package frost

import (
	"fmt"
	"io"
)

const tagDKGProof = "FROST/secp256k1/dkg-pok"

// SchnorrProof represents a Schnorr proof of knowledge of the secret
// behind a public key, bound to a DKG session and a participant.
type SchnorrProof struct {
	Challenge Scalar
	Response  Scalar
}

// NewSchnorrProof creates a proof of knowledge of secret for publicKey.
// extra is bound into the challenge alongside the session and prover id.
func NewSchnorrProof(curve Curve, rand io.Reader, sessionID SessionID, prover ParticipantIndex,
	secret Scalar, publicKey Point, extra Point) (*SchnorrProof, error) {
	nonce, err := curve.ScalarRandom(rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	defer nonce.Zeroize()

	// R = k*G
	commitment := curve.BasePoint().Mul(nonce)
	challenge := computeProofChallenge(curve, sessionID, prover, publicKey, extra, commitment)

	// s = k + c*x
	response := nonce.Add(challenge.Mul(secret))

	return &SchnorrProof{
		Challenge: challenge,
		Response:  response,
	}, nil
}

// Verify verifies a Schnorr proof
func (sp *SchnorrProof) Verify(curve Curve, sessionID SessionID, prover ParticipantIndex,
	publicKey Point, extra Point) bool {
	if sp == nil || sp.Challenge == nil || sp.Response == nil || publicKey.IsIdentity() {
		return false
	}

	// R' = s*G - c*X
	commitment := curve.BasePoint().Mul(sp.Response).Sub(publicKey.Mul(sp.Challenge))
	expected := computeProofChallenge(curve, sessionID, prover, publicKey, extra, commitment)
	return SecureCompare(sp.Challenge.Bytes(), expected.Bytes())
}

func computeProofChallenge(curve Curve, sessionID SessionID, prover ParticipantIndex,
	publicKey, extra, commitment Point) Scalar {
	return HashToScalar(curve, tagDKGProof,
		lengthPrefixed([]byte(sessionID)), participantBytes(prover),
		publicKey.Bytes(), extra.Bytes(), commitment.Bytes())
}
