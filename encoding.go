package frost

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

func decodeScalar(b []byte) (Scalar, error) {
	return secp256k1.ScalarFromBytes(b)
}

func decodePoint(b []byte) (Point, error) {
	return secp256k1.PointFromBytes(b)
}

func decodeNonIdentity(b []byte) (Point, error) {
	p, err := decodePoint(b)
	if err != nil {
		return nil, err
	}
	if p.IsIdentity() {
		return nil, ErrInvalidPoint
	}
	return p, nil
}

func malformed(what string, err error) error {
	return ErrMalformedPackage.WithDetails("%s", what).WithCause(err)
}

type keyShareWire struct {
	SessionID          string            `cbor:"1,keyasint"`
	ParticipantID      uint32            `cbor:"2,keyasint"`
	Threshold          int               `cbor:"3,keyasint"`
	SecretShare        []byte            `cbor:"4,keyasint"`
	VerificationShares map[uint32][]byte `cbor:"5,keyasint"`
	GroupPublicKey     []byte            `cbor:"6,keyasint"`
	InternalKey        []byte            `cbor:"7,keyasint"`
}

// MarshalBinary encodes the key share, secret included, for the key share store only.
func (ks *KeyShare) MarshalBinary() ([]byte, error) {
	w := keyShareWire{
		SessionID:          string(ks.SessionID),
		ParticipantID:      uint32(ks.ParticipantID),
		Threshold:          ks.Threshold,
		SecretShare:        ks.SecretShare.Bytes(),
		VerificationShares: make(map[uint32][]byte, len(ks.VerificationShares)),
		GroupPublicKey:     ks.GroupPublicKey.Bytes(),
		InternalKey:        ks.InternalKey.Bytes(),
	}
	defer ZeroizeBytes(w.SecretShare)
	for id, p := range ks.VerificationShares {
		w.VerificationShares[uint32(id)] = p.Bytes()
	}
	return encMode.Marshal(w)
}

// UnmarshalBinary decodes a key share and checks it is self consistent.
func (ks *KeyShare) UnmarshalBinary(data []byte) error {
	var w keyShareWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return malformed("key share", err)
	}
	defer ZeroizeBytes(w.SecretShare)

	secret, err := decodeScalar(w.SecretShare)
	if err != nil {
		return malformed("key share secret", err)
	}
	group, err := decodeNonIdentity(w.GroupPublicKey)
	if err != nil {
		return malformed("group public key", err)
	}
	internal, err := decodeNonIdentity(w.InternalKey)
	if err != nil {
		return malformed("internal key", err)
	}
	shares := make(map[ParticipantIndex]Point, len(w.VerificationShares))
	for id, b := range w.VerificationShares {
		p, err := decodeNonIdentity(b)
		if err != nil {
			return malformed(fmt.Sprintf("verification share %d", id), err)
		}
		shares[ParticipantIndex(id)] = p
	}

	own, ok := shares[ParticipantIndex(w.ParticipantID)]
	if !ok || !secp256k1.BasePoint().Mul(secret).Equal(own) {
		return malformed("key share", fmt.Errorf("secret share does not match verification share"))
	}

	*ks = KeyShare{
		SessionID:          SessionID(w.SessionID),
		ParticipantID:      ParticipantIndex(w.ParticipantID),
		Threshold:          w.Threshold,
		SecretShare:        secret,
		PublicKey:          own,
		VerificationShares: shares,
		GroupPublicKey:     group,
		InternalKey:        internal,
	}
	return nil
}

type publicKeyPackageWire struct {
	Threshold          int               `cbor:"1,keyasint"`
	GroupPublicKey     []byte            `cbor:"2,keyasint"`
	VerificationShares map[uint32][]byte `cbor:"3,keyasint"`
}

func (pkg *PublicKeyPackage) MarshalBinary() ([]byte, error) {
	w := publicKeyPackageWire{
		Threshold:          pkg.Threshold,
		GroupPublicKey:     pkg.GroupPublicKey.Bytes(),
		VerificationShares: make(map[uint32][]byte, len(pkg.VerificationShares)),
	}
	for id, p := range pkg.VerificationShares {
		w.VerificationShares[uint32(id)] = p.Bytes()
	}
	return encMode.Marshal(w)
}

func (pkg *PublicKeyPackage) UnmarshalBinary(data []byte) error {
	var w publicKeyPackageWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return malformed("public key package", err)
	}
	group, err := decodeNonIdentity(w.GroupPublicKey)
	if err != nil {
		return malformed("group public key", err)
	}
	shares := make(map[ParticipantIndex]Point, len(w.VerificationShares))
	for id, b := range w.VerificationShares {
		p, err := decodeNonIdentity(b)
		if err != nil {
			return malformed(fmt.Sprintf("verification share %d", id), err)
		}
		shares[ParticipantIndex(id)] = p
	}
	*pkg = PublicKeyPackage{Threshold: w.Threshold, GroupPublicKey: group, VerificationShares: shares}
	return nil
}

type round1PackageWire struct {
	SessionID      string   `cbor:"1,keyasint"`
	From           uint32   `cbor:"2,keyasint"`
	Commitments    [][]byte `cbor:"3,keyasint"`
	ProofChallenge []byte   `cbor:"4,keyasint"`
	ProofResponse  []byte   `cbor:"5,keyasint"`
	EncryptionKey  []byte   `cbor:"6,keyasint"`
}

func (p *Round1Package) MarshalBinary() ([]byte, error) {
	w := round1PackageWire{
		SessionID:      string(p.SessionID),
		From:           uint32(p.From),
		Commitments:    make([][]byte, len(p.Commitments)),
		ProofChallenge: p.Proof.Challenge.Bytes(),
		ProofResponse:  p.Proof.Response.Bytes(),
		EncryptionKey:  p.EncryptionKey.Bytes(),
	}
	for i, c := range p.Commitments {
		w.Commitments[i] = c.Bytes()
	}
	return encMode.Marshal(w)
}

func (p *Round1Package) UnmarshalBinary(data []byte) error {
	var w round1PackageWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return malformed("round 1 package", err)
	}
	commitments := make([]Point, len(w.Commitments))
	for i, b := range w.Commitments {
		c, err := decodeNonIdentity(b)
		if err != nil {
			return malformed(fmt.Sprintf("commitment %d", i), err)
		}
		commitments[i] = c
	}
	challenge, err := decodeScalar(w.ProofChallenge)
	if err != nil {
		return malformed("proof challenge", err)
	}
	response, err := decodeScalar(w.ProofResponse)
	if err != nil {
		return malformed("proof response", err)
	}
	encKey, err := decodeNonIdentity(w.EncryptionKey)
	if err != nil {
		return malformed("encryption key", err)
	}
	*p = Round1Package{
		SessionID:     SessionID(w.SessionID),
		From:          ParticipantIndex(w.From),
		Commitments:   commitments,
		Proof:         &SchnorrProof{Challenge: challenge, Response: response},
		EncryptionKey: encKey,
	}
	return nil
}

type encryptedFragmentWire struct {
	SessionID  string `cbor:"1,keyasint"`
	From       uint32 `cbor:"2,keyasint"`
	To         uint32 `cbor:"3,keyasint"`
	Nonce      []byte `cbor:"4,keyasint"`
	Ciphertext []byte `cbor:"5,keyasint"`
}

func (f *EncryptedFragment) MarshalBinary() ([]byte, error) {
	return encMode.Marshal(encryptedFragmentWire{
		SessionID:  string(f.SessionID),
		From:       uint32(f.From),
		To:         uint32(f.To),
		Nonce:      f.Nonce,
		Ciphertext: f.Ciphertext,
	})
}

func (f *EncryptedFragment) UnmarshalBinary(data []byte) error {
	var w encryptedFragmentWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return malformed("encrypted fragment", err)
	}
	*f = EncryptedFragment{
		SessionID:  SessionID(w.SessionID),
		From:       ParticipantIndex(w.From),
		To:         ParticipantIndex(w.To),
		Nonce:      w.Nonce,
		Ciphertext: w.Ciphertext,
	}
	return nil
}

type signingCommitmentWire struct {
	ParticipantID uint32 `cbor:"1,keyasint"`
	Hiding        []byte `cbor:"2,keyasint"`
	Binding       []byte `cbor:"3,keyasint"`
}

func (c *SigningCommitment) MarshalBinary() ([]byte, error) {
	return encMode.Marshal(signingCommitmentWire{
		ParticipantID: uint32(c.ParticipantID),
		Hiding:        c.Hiding.Bytes(),
		Binding:       c.Binding.Bytes(),
	})
}

func (c *SigningCommitment) UnmarshalBinary(data []byte) error {
	var w signingCommitmentWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return malformed("signing commitment", err)
	}
	hiding, err := decodeNonIdentity(w.Hiding)
	if err != nil {
		return malformed("hiding commitment", err)
	}
	binding, err := decodeNonIdentity(w.Binding)
	if err != nil {
		return malformed("binding commitment", err)
	}
	*c = SigningCommitment{ParticipantID: ParticipantIndex(w.ParticipantID), Hiding: hiding, Binding: binding}
	return nil
}

type signatureShareWire struct {
	ParticipantID uint32 `cbor:"1,keyasint"`
	Share         []byte `cbor:"2,keyasint"`
}

func (s *SignatureShare) MarshalBinary() ([]byte, error) {
	return encMode.Marshal(signatureShareWire{
		ParticipantID: uint32(s.ParticipantID),
		Share:         s.Share.Bytes(),
	})
}

func (s *SignatureShare) UnmarshalBinary(data []byte) error {
	var w signatureShareWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return malformed("signature share", err)
	}
	share, err := decodeScalar(w.Share)
	if err != nil {
		return malformed("signature share scalar", err)
	}
	*s = SignatureShare{ParticipantID: ParticipantIndex(w.ParticipantID), Share: share}
	return nil
}

// EncodeCommitmentList encodes a commitment list in participant order. It is
// the transcript bound into every binding factor.
func EncodeCommitmentList(commitments []*SigningCommitment) []byte {
	sorted := append([]*SigningCommitment(nil), commitments...)
	SortCommitments(sorted)
	out := make([]byte, 0, len(sorted)*(4+33+33))
	for _, c := range sorted {
		out = append(out, participantBytes(c.ParticipantID)...)
		out = append(out, c.Hiding.Bytes()...)
		out = append(out, c.Binding.Bytes()...)
	}
	return out
}
