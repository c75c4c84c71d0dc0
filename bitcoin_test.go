package frost

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

func TestTaggedHashDomainSeparation(t *testing.T) {
	tag := TaggedHash(TagBIP340Challenge)
	if len(tag) != 32 {
		t.Fatalf("Expected 32 byte digest, got %d", len(tag))
	}
	if bytes.Equal(TaggedHash(TagBIP340Challenge, []byte("a")), TaggedHash(TagTapTweak, []byte("a"))) {
		t.Fatal("Different tags must give different digests")
	}
}

func TestTaprootTweakMatchesTxscript(t *testing.T) {
	for i := 0; i < 8; i++ {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		internal, err := secp256k1.PointFromBytes(priv.PubKey().SerializeCompressed())
		if err != nil {
			t.Fatal(err)
		}

		secret, err := secp256k1.ScalarFromBytes(priv.Serialize())
		if err != nil {
			t.Fatal(err)
		}
		tweaked, err := ApplyTaprootTweak(internal, secret, map[ParticipantIndex]Point{1: internal})
		if err != nil {
			t.Fatalf("ApplyTaprootTweak: %v", err)
		}

		want := txscript.ComputeTaprootKeyNoScript(priv.PubKey())
		if !bytes.Equal(tweaked.OutputKey.XOnlyBytes(), schnorr.SerializePubKey(want)) {
			t.Fatalf("Output key %x differs from txscript %x",
				tweaked.OutputKey.XOnlyBytes(), schnorr.SerializePubKey(want))
		}
		if tweaked.OutputKey.HasOddY() || tweaked.InternalKey.HasOddY() {
			t.Fatal("Tweaked keys must have even Y")
		}
		if !secp256k1.BasePoint().Mul(tweaked.SecretShare).Equal(tweaked.OutputKey) {
			t.Fatal("Tweaked secret does not match output key")
		}
		if !tweaked.VerificationShares[1].Equal(tweaked.OutputKey) {
			t.Fatal("Tweaked verification share does not match output key")
		}

		// the tweaked secret signs for the output key under plain BIP-340
		priv2, _ := btcec.PrivKeyFromBytes(tweaked.SecretShare.Bytes())
		msg := randomBytes(t, 32)
		sig, err := schnorr.Sign(priv2, msg)
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := ParseSignature(sig.Serialize())
		if err != nil {
			t.Fatalf("ParseSignature: %v", err)
		}
		if err := VerifySignature(tweaked.OutputKey, msg, parsed); err != nil {
			t.Fatalf("VerifySignature: %v", err)
		}
	}
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := secp256k1.PointFromBytes(priv.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatal(err)
	}
	msg := randomBytes(t, 32)
	sig, err := schnorr.Sign(priv, msg)
	if err != nil {
		t.Fatal(err)
	}
	raw := sig.Serialize()

	good, err := ParseSignature(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySignature(pub, msg, good); err != nil {
		t.Fatalf("Valid signature rejected: %v", err)
	}

	other := append([]byte(nil), msg...)
	other[0] ^= 1
	if err := VerifySignature(pub, other, good); err == nil {
		t.Fatal("Signature verified for a different message")
	}

	raw[63] ^= 1
	bad, err := ParseSignature(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifySignature(pub, msg, bad); err == nil {
		t.Fatal("Tampered signature verified")
	}

	if _, err := ParseSignature(raw[:63]); err == nil {
		t.Fatal("Expected short signature to be rejected")
	}
}

func TestVerifySignatureArbitraryLength(t *testing.T) {
	// x-only key and signature from a FROST run over a 5 byte message must
	// satisfy the BIP-340 equation, and fail for any other message.
	_, results := runDKG(t, ThresholdParams{Threshold: 2, Total: 2}, "arbitrary")
	signers := newSigners(t, results)
	pub := results[0].PublicKey

	message := []byte("hello")
	commitments, shares := signRounds(t, signers, []ParticipantIndex{1, 2}, "arbitrary-sign", message)
	sig, err := Aggregate(pub, "arbitrary-sign", commitments, shares, message)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if err := VerifySignature(pub.GroupPublicKey, []byte("hellO"), sig); err == nil {
		t.Fatal("Signature verified for a different message")
	}

	xonly, err := secp256k1.PointFromBytes(pub.GroupPublicKey.XOnlyBytes())
	if err != nil {
		t.Fatalf("PointFromBytes x-only: %v", err)
	}
	if err := VerifySignature(xonly, message, sig); err != nil {
		t.Fatalf("Verification through the x-only key failed: %v", err)
	}
}

func TestLagrangeCoefficientsSumToOne(t *testing.T) {
	sets := [][]ParticipantIndex{{1}, {1, 2}, {2, 5, 7}, {1, 3, 4, 9, 10}}
	for _, set := range sets {
		sum := secp256k1.ScalarZero()
		for _, id := range set {
			lambda, err := LagrangeCoefficient(secp256k1, id, set)
			if err != nil {
				t.Fatalf("LagrangeCoefficient(%d, %v): %v", id, set, err)
			}
			sum = sum.Add(lambda)
		}
		if !sum.Equal(secp256k1.ScalarOne()) {
			t.Fatalf("Coefficients over %v sum to %s", set, sum)
		}
	}

	if _, err := LagrangeCoefficient(secp256k1, 4, []ParticipantIndex{1, 2}); err == nil {
		t.Fatal("Expected error for participant outside the set")
	}
	if _, err := LagrangeCoefficient(secp256k1, 2, []ParticipantIndex{1, 2, 2}); err == nil {
		t.Fatal("Expected error for duplicate participant")
	}
}

func TestPolynomialCommitmentVerify(t *testing.T) {
	poly, err := NewRandomPolynomial(secp256k1, 2, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pc, err := NewPolynomialCommitment(secp256k1, poly.Commit())
	if err != nil {
		t.Fatal(err)
	}
	for id := ParticipantIndex(1); id <= 5; id++ {
		value := poly.Evaluate(id.ToScalar())
		if !pc.Verify(id, value) {
			t.Fatalf("Share %d does not verify against commitments", id)
		}
		if pc.Verify(id, value.Add(secp256k1.ScalarOne())) {
			t.Fatalf("Altered share %d verified", id)
		}
	}
	if !pc.Secret().Equal(secp256k1.BasePoint().Mul(poly.Secret())) {
		t.Fatal("Commitment to the constant term is wrong")
	}

	if _, err := NewPolynomialCommitment(secp256k1, []Point{secp256k1.PointIdentity()}); err == nil {
		t.Fatal("Expected identity commitment to be rejected")
	}
}

func TestPointEncoding(t *testing.T) {
	g := secp256k1.BasePoint()
	if hex.EncodeToString(g.XOnlyBytes()) != "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798" {
		t.Fatalf("Unexpected generator x coordinate %x", g.XOnlyBytes())
	}
	if g.HasOddY() {
		t.Fatal("The generator has even Y")
	}
	if !g.Sub(g).IsIdentity() || !g.Add(g.Negate()).IsIdentity() {
		t.Fatal("P - P must be the identity")
	}

	id, err := secp256k1.PointFromBytes(secp256k1.PointIdentity().Bytes())
	if err != nil || !id.IsIdentity() {
		t.Fatalf("Identity did not round trip: %v", err)
	}

	two := g.Add(g)
	decoded, err := secp256k1.PointFromBytes(two.Bytes())
	if err != nil || !decoded.Equal(two) {
		t.Fatalf("2G did not round trip: %v", err)
	}
	if _, err := secp256k1.PointFromBytes([]byte{0x02, 0x01}); err == nil {
		t.Fatal("Expected short point to be rejected")
	}

	a, _ := secp256k1.ScalarRandom(rand.Reader)
	b := a.Add(secp256k1.ScalarOne())
	diff := b.Sub(a)
	if !diff.Equal(secp256k1.ScalarOne()) {
		t.Fatal("(a + 1) - a != 1")
	}
	if !b.Sub(secp256k1.ScalarOne()).Equal(a) {
		t.Fatal("Sub must not mutate its operands")
	}
}
