// Package frost implements FROST threshold Schnorr signatures over secp256k1,
// producing BIP-340 signatures for Taproot key-path spends.
//
// The package is a protocol engine with no network I/O. DKGEngine and
// SigningEngine hold one participant's secret state, Aggregate combines
// signature shares on the coordinator side.
package frost

import (
	"fmt"
	"sort"
)

// ParticipantIndex represents a participant identifier, in [1, N]
type ParticipantIndex uint32

// ToScalar returns the polynomial evaluation point for the participant.
func (p ParticipantIndex) ToScalar() Scalar {
	return secp256k1.ScalarFromUint32(uint32(p))
}

// SessionID identifies one DKG or signing session. Never reused.
type SessionID string

// KeyShare represents a participant's share after DKG finalization.
// It is written once and read-only afterwards.
type KeyShare struct {
	SessionID          SessionID
	ParticipantID      ParticipantIndex
	Threshold          int
	SecretShare        Scalar
	PublicKey          Point
	VerificationShares map[ParticipantIndex]Point
	GroupPublicKey     Point // taproot output key, even Y
	InternalKey        Point // untweaked key, even Y
}

// Zeroize securely clears the secret share
func (ks *KeyShare) Zeroize() {
	if ks.SecretShare != nil {
		ks.SecretShare.Zeroize()
	}
}

// String never includes the secret share.
func (ks *KeyShare) String() string {
	return fmt.Sprintf("KeyShare{session=%s participant=%d threshold=%d group=%x}",
		ks.SessionID, ks.ParticipantID, ks.Threshold, ks.GroupPublicKey.XOnlyBytes())
}

// Public returns the part of the key share the coordinator may see.
func (ks *KeyShare) Public() *PublicKeyPackage {
	shares := make(map[ParticipantIndex]Point, len(ks.VerificationShares))
	for id, p := range ks.VerificationShares {
		shares[id] = p
	}
	return &PublicKeyPackage{
		Threshold:          ks.Threshold,
		GroupPublicKey:     ks.GroupPublicKey,
		VerificationShares: shares,
	}
}

// PublicKeyPackage is the public output of DKG.
type PublicKeyPackage struct {
	Threshold          int
	GroupPublicKey     Point
	VerificationShares map[ParticipantIndex]Point
}

// Participants returns the sorted participant ids.
func (pkg *PublicKeyPackage) Participants() []ParticipantIndex {
	ids := make([]ParticipantIndex, 0, len(pkg.VerificationShares))
	for id := range pkg.VerificationShares {
		ids = append(ids, id)
	}
	sortParticipants(ids)
	return ids
}

// Signature represents a FROST threshold signature
type Signature struct {
	R Point  // Group commitment, even Y
	S Scalar // Signature scalar
}

// Bytes returns the 64 byte BIP-340 encoding x(R) || s.
func (sig *Signature) Bytes() []byte {
	out := make([]byte, 0, 64)
	out = append(out, sig.R.XOnlyBytes()...)
	return append(out, sig.S.Bytes()...)
}

// SigningCommitment represents a participant's nonce commitments in round 1
type SigningCommitment struct {
	ParticipantID ParticipantIndex
	Hiding        Point // D = d*G
	Binding       Point // E = e*G
}

// Equal compares ids and both points.
func (c *SigningCommitment) Equal(other *SigningCommitment) bool {
	return c.ParticipantID == other.ParticipantID &&
		c.Hiding.Equal(other.Hiding) && c.Binding.Equal(other.Binding)
}

// SignatureShare represents a participant's response in round 2
type SignatureShare struct {
	ParticipantID ParticipantIndex
	Share         Scalar
}

// Round1Package is broadcast by every participant in DKG round 1.
type Round1Package struct {
	SessionID     SessionID
	From          ParticipantIndex
	Commitments   []Point // a_k*G for every coefficient
	Proof         *SchnorrProof
	EncryptionKey Point // ephemeral key used to encrypt round 2 fragments
}

// EncryptedFragment carries f_From(To), readable only by To.
type EncryptedFragment struct {
	SessionID  SessionID
	From       ParticipantIndex
	To         ParticipantIndex
	Nonce      []byte
	Ciphertext []byte
}

// KeygenResult is returned by a successful DKG finalization.
type KeygenResult struct {
	KeyShare  *KeyShare
	PublicKey *PublicKeyPackage
}

func sortParticipants(ids []ParticipantIndex) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// SortCommitments orders commitments by participant id, in place.
func SortCommitments(commitments []*SigningCommitment) {
	sort.Slice(commitments, func(i, j int) bool {
		return commitments[i].ParticipantID < commitments[j].ParticipantID
	})
}
