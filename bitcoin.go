package frost

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// BIP-340 and BIP-341 hash tags
const (
	TagBIP340Challenge = "BIP0340/challenge"
	TagTapTweak        = "TapTweak"
)

// BitcoinChallenge computes the BIP-340 challenge H(x(R) || x(P) || m).
// The message may have any length.
func BitcoinChallenge(R Point, pubKey Point, message []byte) Scalar {
	return HashToScalar(secp256k1, TagBIP340Challenge, R.XOnlyBytes(), pubKey.XOnlyBytes(), message)
}

// TaprootTweak returns t = H_TapTweak(x(P)) for a key-path only output.
func TaprootTweak(internalKey Point) Scalar {
	return HashToScalar(secp256k1, TagTapTweak, internalKey.XOnlyBytes())
}

// TweakedShares is the result of applying the taproot tweak to a DKG output.
type TweakedShares struct {
	InternalKey        Point
	OutputKey          Point
	SecretShare        Scalar
	VerificationShares map[ParticipantIndex]Point
}

// ApplyTaprootTweak moves a freshly generated sharing of y onto the output key
// Q = P + t*G, with P the even-Y lift of Y.
//
// Lagrange coefficients over any signing set sum to one, so adding t to every
// share shifts the shared secret by t. Both P and Q are normalised to even Y
// by negating the whole sharing, after which plain BIP-340 signing applies.
func ApplyTaprootTweak(groupKey Point, secretShare Scalar, verificationShares map[ParticipantIndex]Point) (*TweakedShares, error) {
	if groupKey.IsIdentity() {
		return nil, fmt.Errorf("group key is the identity")
	}

	g := secp256k1.BasePoint()
	share := secp256k1.ScalarZero().Add(secretShare)
	shares := make(map[ParticipantIndex]Point, len(verificationShares))
	for id, p := range verificationShares {
		shares[id] = p
	}

	internal := groupKey
	if internal.HasOddY() {
		internal = internal.Negate()
		share = share.Negate()
		for id, p := range shares {
			shares[id] = p.Negate()
		}
	}

	tweak := TaprootTweak(internal)
	tweakPoint := g.Mul(tweak)
	output := internal.Add(tweakPoint)
	if output.IsIdentity() {
		return nil, fmt.Errorf("tweaked key is the identity")
	}
	share = share.Add(tweak)
	for id, p := range shares {
		shares[id] = p.Add(tweakPoint)
	}

	if output.HasOddY() {
		output = output.Negate()
		share = share.Negate()
		for id, p := range shares {
			shares[id] = p.Negate()
		}
	}

	return &TweakedShares{
		InternalKey:        internal,
		OutputKey:          output,
		SecretShare:        share,
		VerificationShares: shares,
	}, nil
}

// BitcoinVerifyResponse verifies one signer's share of a BIP-340 signature:
// z_i*G == R_i + c*lambda_i*Y_i, where R_i is negated when the group R has odd Y.
func BitcoinVerifyResponse(publicShare Point, lambda Scalar, commitment Point, groupCommitmentOdd bool,
	challenge Scalar, response Scalar) bool {
	if groupCommitmentOdd {
		commitment = commitment.Negate()
	}
	left := secp256k1.BasePoint().Mul(response)
	right := commitment.Add(publicShare.Mul(challenge.Mul(lambda)))
	return left.Equal(right)
}

// VerifySignature checks a BIP-340 signature against an x-only public key.
// 32 byte messages go through the btcec verifier, other lengths through the
// BIP-340 equation directly.
func VerifySignature(publicKey Point, message []byte, sig *Signature) error {
	if sig == nil || sig.R == nil || sig.S == nil {
		return fmt.Errorf("signature is incomplete")
	}
	if sig.R.IsIdentity() || sig.R.HasOddY() {
		return fmt.Errorf("signature R must be a point with even Y")
	}
	if publicKey.IsIdentity() {
		return fmt.Errorf("public key is the identity")
	}

	if len(message) == 32 {
		pub, err := schnorr.ParsePubKey(publicKey.XOnlyBytes())
		if err != nil {
			return fmt.Errorf("invalid public key: %w", err)
		}
		parsed, err := schnorr.ParseSignature(sig.Bytes())
		if err != nil {
			return fmt.Errorf("invalid signature: %w", err)
		}
		if !parsed.Verify(message, pub) {
			return fmt.Errorf("signature verification failed")
		}
		return nil
	}

	// lift_x(P) has even Y
	evenKey := publicKey
	if evenKey.HasOddY() {
		evenKey = evenKey.Negate()
	}
	c := BitcoinChallenge(sig.R, evenKey, message)
	expected := secp256k1.BasePoint().Mul(sig.S).Sub(evenKey.Mul(c))
	if expected.IsIdentity() || expected.HasOddY() || !expected.Equal(sig.R) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// ParseSignature decodes a 64 byte BIP-340 signature.
func ParseSignature(data []byte) (*Signature, error) {
	if len(data) != 64 {
		return nil, fmt.Errorf("signature must be 64 bytes, got %d", len(data))
	}
	r, err := secp256k1.PointFromBytes(data[:32])
	if err != nil {
		return nil, err
	}
	s, err := secp256k1.ScalarFromBytes(data[32:])
	if err != nil {
		return nil, err
	}
	return &Signature{R: r, S: s}, nil
}
