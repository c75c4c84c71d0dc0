package frost

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mapStore is an in-memory KeyShareStore
type mapStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{blobs: make(map[string][]byte)}
}

func (s *mapStore) Put(ctx context.Context, handle string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[handle] = append([]byte(nil), blob...)
	return nil
}

func (s *mapStore) Get(ctx context.Context, handle string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[handle]
	if !ok {
		return nil, ErrKeyShareNotFound
	}
	return append([]byte(nil), blob...), nil
}

func newEngines(t *testing.T, params ThresholdParams, opts ...DKGOption) []*DKGEngine {
	t.Helper()
	engines := make([]*DKGEngine, params.Total)
	for i, id := range params.Participants() {
		e, err := NewDKGEngine(id, params, opts...)
		if err != nil {
			t.Fatalf("Failed to create DKG engine %d: %v", id, err)
		}
		engines[i] = e
	}
	return engines
}

func dkgRound1(t *testing.T, engines []*DKGEngine, sid SessionID) []*Round1Package {
	t.Helper()
	pkgs := make([]*Round1Package, len(engines))
	for i, e := range engines {
		pkg, err := e.Round1(sid)
		if err != nil {
			t.Fatalf("Round 1 failed for participant %d: %v", e.ID(), err)
		}
		pkgs[i] = pkg
	}
	return pkgs
}

func othersPackages(pkgs []*Round1Package, self int) []*Round1Package {
	out := make([]*Round1Package, 0, len(pkgs)-1)
	for j, pkg := range pkgs {
		if j != self {
			out = append(out, pkg)
		}
	}
	return out
}

func dkgRound2(t *testing.T, engines []*DKGEngine, sid SessionID, pkgs []*Round1Package) []map[ParticipantIndex]*EncryptedFragment {
	t.Helper()
	out := make([]map[ParticipantIndex]*EncryptedFragment, len(engines))
	for i, e := range engines {
		frags, err := e.Round2(sid, othersPackages(pkgs, i))
		if err != nil {
			t.Fatalf("Round 2 failed for participant %d: %v", e.ID(), err)
		}
		out[i] = frags
	}
	return out
}

// inboxOf collects the fragments addressed to id.
func inboxOf(sent []map[ParticipantIndex]*EncryptedFragment, id ParticipantIndex) []*EncryptedFragment {
	var out []*EncryptedFragment
	for _, frags := range sent {
		if frag, ok := frags[id]; ok {
			out = append(out, frag)
		}
	}
	return out
}

func runDKG(t *testing.T, params ThresholdParams, sid SessionID, opts ...DKGOption) ([]*DKGEngine, []*KeygenResult) {
	t.Helper()
	engines := newEngines(t, params, opts...)
	sent := dkgRound2(t, engines, sid, dkgRound1(t, engines, sid))

	results := make([]*KeygenResult, len(engines))
	for i, e := range engines {
		result, err := e.Finalize(context.Background(), sid, inboxOf(sent, e.ID()))
		if err != nil {
			t.Fatalf("Finalize failed for participant %d: %v", e.ID(), err)
		}
		results[i] = result
	}
	return engines, results
}

func newSigners(t *testing.T, results []*KeygenResult, opts ...SigningOption) map[ParticipantIndex]*SigningEngine {
	t.Helper()
	signers := make(map[ParticipantIndex]*SigningEngine, len(results))
	for _, r := range results {
		s, err := NewSigningEngine(r.KeyShare, opts...)
		if err != nil {
			t.Fatalf("Failed to create signing engine %d: %v", r.KeyShare.ParticipantID, err)
		}
		signers[r.KeyShare.ParticipantID] = s
	}
	return signers
}

// signRounds runs both rounds for subset and returns what an aggregator would receive.
func signRounds(t *testing.T, signers map[ParticipantIndex]*SigningEngine, subset []ParticipantIndex,
	sid SessionID, message []byte) ([]*SigningCommitment, []*SignatureShare) {
	t.Helper()
	commitments := make([]*SigningCommitment, 0, len(subset))
	for _, id := range subset {
		c, err := signers[id].Round1(sid)
		if err != nil {
			t.Fatalf("Signing round 1 failed for participant %d: %v", id, err)
		}
		commitments = append(commitments, c)
	}
	shares := make([]*SignatureShare, 0, len(subset))
	for _, id := range subset {
		share, err := signers[id].Round2(sid, commitments, message)
		if err != nil {
			t.Fatalf("Signing round 2 failed for participant %d: %v", id, err)
		}
		shares = append(shares, share)
	}
	return commitments, shares
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

// subsets returns every subset of ids with exactly k members.
func subsets(ids []ParticipantIndex, k int) [][]ParticipantIndex {
	if k == 0 {
		return [][]ParticipantIndex{{}}
	}
	if len(ids) < k {
		return nil
	}
	var out [][]ParticipantIndex
	for _, rest := range subsets(ids[1:], k-1) {
		out = append(out, append([]ParticipantIndex{ids[0]}, rest...))
	}
	return append(out, subsets(ids[1:], k)...)
}

func TestFROSTEndToEnd(t *testing.T) {
	params := ThresholdParams{Threshold: 3, Total: 3}
	_, results := runDKG(t, params, "e2e-keygen")
	pub := results[0].PublicKey
	signers := newSigners(t, results)

	message := randomBytes(t, 32)
	commitments, shares := signRounds(t, signers, params.Participants(), "e2e-sign", message)

	sig, err := Aggregate(pub, "e2e-sign", commitments, shares, message)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if err := VerifySignature(pub.GroupPublicKey, message, sig); err != nil {
		t.Fatalf("Signature does not verify: %v", err)
	}
	if len(sig.Bytes()) != 64 {
		t.Fatalf("Expected 64 byte signature, got %d", len(sig.Bytes()))
	}
	t.Logf("group key %x signature %x", pub.GroupPublicKey.XOnlyBytes(), sig.Bytes())

	// A flipped byte in participant 2's share must be caught and blamed on 2.
	commitments, shares = signRounds(t, signers, params.Participants(), "e2e-sign-bad", message)
	raw := shares[1].Share.Bytes()
	raw[len(raw)-1] ^= 0x01
	bad, err := secp256k1.ScalarFromBytes(raw)
	if err != nil {
		t.Fatalf("Failed to decode flipped share: %v", err)
	}
	shares[1] = &SignatureShare{ParticipantID: 2, Share: bad}

	sig, err = Aggregate(pub, "e2e-sign-bad", commitments, shares, message)
	if sig != nil {
		t.Fatal("Expected no signature from a corrupted share")
	}
	if !IsErrorCategory(err, ErrorCategoryProtocolAbort) || IsRetryable(err) {
		t.Fatalf("Expected a non-retryable protocol abort, got %v", err)
	}
	if !errors.Is(err, ErrInvalidShare) {
		t.Fatalf("Expected ErrInvalidShare, got %v", err)
	}
	if offender, ok := OffenderOf(err); !ok || offender != 2 {
		t.Fatalf("Expected participant 2 blamed, got %d (%v)", offender, ok)
	}
}

func TestFROSTThresholdConfigurations(t *testing.T) {
	configs := []ThresholdParams{
		{Threshold: 1, Total: 1},
		{Threshold: 1, Total: 3},
		{Threshold: 2, Total: 3},
		{Threshold: 3, Total: 5},
		{Threshold: 4, Total: 4},
	}
	for _, params := range configs {
		t.Run(fmt.Sprintf("%d-of-%d", params.Threshold, params.Total), func(t *testing.T) {
			_, results := runDKG(t, params, SessionID(fmt.Sprintf("config-%d-%d", params.Threshold, params.Total)))
			pub := results[0].PublicKey
			signers := newSigners(t, results)

			subset := params.Participants()[params.Total-params.Threshold:]
			message := randomBytes(t, 32)
			sid := SessionID("sign-" + t.Name())
			commitments, shares := signRounds(t, signers, subset, sid, message)
			sig, err := Aggregate(pub, sid, commitments, shares, message)
			if err != nil {
				t.Fatalf("Aggregate failed: %v", err)
			}
			if err := VerifySignature(pub.GroupPublicKey, message, sig); err != nil {
				t.Fatalf("Signature does not verify: %v", err)
			}
		})
	}
}
