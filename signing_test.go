package frost

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSigningAllSubsets(t *testing.T) {
	params := ThresholdParams{Threshold: 3, Total: 5}
	_, results := runDKG(t, params, "subsets")
	pub := results[0].PublicKey
	signers := newSigners(t, results)

	n := 0
	for size := params.Threshold; size <= params.Total; size++ {
		for _, subset := range subsets(params.Participants(), size) {
			for _, msgLen := range []int{0, 1, 32, 100} {
				message := randomBytes(t, msgLen)
				sid := SessionID(fmt.Sprintf("subset-%d", n))
				n++

				commitments, shares := signRounds(t, signers, subset, sid, message)
				sig, err := Aggregate(pub, sid, commitments, shares, message)
				if err != nil {
					t.Fatalf("subset %v, %d byte message: %v", subset, msgLen, err)
				}
				if err := VerifySignature(pub.GroupPublicKey, message, sig); err != nil {
					t.Fatalf("subset %v, %d byte message: signature does not verify: %v", subset, msgLen, err)
				}
			}
		}
	}
}

func TestSigningBelowThreshold(t *testing.T) {
	params := ThresholdParams{Threshold: 3, Total: 5}
	_, results := runDKG(t, params, "below")
	pub := results[0].PublicKey
	signers := newSigners(t, results)

	subset := []ParticipantIndex{2, 4}
	message := []byte("not enough signers")
	var commitments []*SigningCommitment
	for _, id := range subset {
		c, err := signers[id].Round1("below-sign")
		if err != nil {
			t.Fatalf("Round1: %v", err)
		}
		commitments = append(commitments, c)
	}

	share, err := signers[2].Round2("below-sign", commitments, message)
	if share != nil || !IsErrorCategory(err, ErrorCategoryThresholdNotMet) {
		t.Fatalf("Expected ThresholdNotMet from signer, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("ThresholdNotMet should be retryable with a new session")
	}

	sig, err := Aggregate(pub, "below-sign", commitments, nil, message)
	if sig != nil || !errors.Is(err, ErrThresholdNotMet) {
		t.Fatalf("Expected ThresholdNotMet from aggregator, got %v", err)
	}
}

func TestSigningReplayRound2(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 2, Total: 3}, "replay")
	signers := newSigners(t, results)

	message := []byte("pay 1 BTC")
	commitments, _ := signRounds(t, signers, []ParticipantIndex{1, 3}, "replay-sign", message)

	for _, msg := range [][]byte{message, []byte("pay 2 BTC")} {
		share, err := signers[3].Round2("replay-sign", commitments, msg)
		if share != nil {
			t.Fatal("A consumed nonce pair produced a second share")
		}
		if !IsErrorCategory(err, ErrorCategoryReplayOrReuse) || !errors.Is(err, ErrNonceReuse) {
			t.Fatalf("Expected ErrNonceReuse, got %v", err)
		}
	}
	if _, err := signers[3].Round1("replay-sign"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("Expected ErrSessionExists for a reused session id, got %v", err)
	}
	if st := signers[3].State("replay-sign"); st != SigningStateSharedRound2 {
		t.Fatalf("Expected shared_round2, got %s", st)
	}
}

func TestSigningConcurrentRound2(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 2, Total: 3}, "race")
	signers := newSigners(t, results)

	c1, err := signers[1].Round1("race-sign")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := signers[2].Round1("race-sign")
	if err != nil {
		t.Fatal(err)
	}
	commitments := []*SigningCommitment{c1, c2}

	const callers = 16
	var wg sync.WaitGroup
	shares := make([]*SignatureShare, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shares[i], errs[i] = signers[1].Round2("race-sign", commitments, []byte("once"))
		}(i)
	}
	wg.Wait()

	produced, reused := 0, 0
	for i := range shares {
		switch {
		case errs[i] == nil && shares[i] != nil:
			produced++
		case errors.Is(errs[i], ErrNonceReuse) && shares[i] == nil:
			reused++
		default:
			t.Fatalf("Unexpected result from caller %d: %v", i, errs[i])
		}
	}
	if produced != 1 || reused != callers-1 {
		t.Fatalf("Expected one share and %d reuse errors, got %d and %d", callers-1, produced, reused)
	}
}

func TestSigningNoncesConsumedOnRejection(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 2, Total: 3}, "consume")
	rejectAll := func(SessionID, []byte) error { return fmt.Errorf("policy says no") }
	signers := newSigners(t, results, WithMessageValidator(rejectAll))

	c1, err := signers[1].Round1("consume-sign")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := signers[2].Round1("consume-sign")
	if err != nil {
		t.Fatal(err)
	}
	commitments := []*SigningCommitment{c1, c2}

	_, err = signers[1].Round2("consume-sign", commitments, []byte("x"))
	if !errors.Is(err, ErrMessageRejected) {
		t.Fatalf("Expected ErrMessageRejected, got %v", err)
	}
	if _, err := signers[1].Round2("consume-sign", commitments, []byte("x")); !errors.Is(err, ErrNonceReuse) {
		t.Fatalf("Expected nonces to be gone after a rejection, got %v", err)
	}
}

func TestSigningRejectsAlteredCommitments(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 2, Total: 3}, "altered")
	signers := newSigners(t, results)

	c1, _ := signers[1].Round1("altered-sign")
	c2, _ := signers[2].Round1("altered-sign")

	swapped := &SigningCommitment{ParticipantID: 1, Hiding: c1.Binding, Binding: c1.Hiding}
	_, err := signers[1].Round2("altered-sign", []*SigningCommitment{swapped, c2}, []byte("m"))
	if !errors.Is(err, ErrCommitmentSetMismatch) {
		t.Fatalf("Expected ErrCommitmentSetMismatch, got %v", err)
	}

	_, err = signers[2].Round2("altered-sign", []*SigningCommitment{c1, c2, c2}, []byte("m"))
	if !errors.Is(err, ErrInvalidCommitment) {
		t.Fatalf("Expected duplicate commitment rejected, got %v", err)
	}

	c3, _ := signers[3].Round1("altered-sign")
	stranger := &SigningCommitment{ParticipantID: 7, Hiding: c1.Hiding, Binding: c1.Binding}
	_, err = signers[3].Round2("altered-sign", []*SigningCommitment{c3, stranger}, []byte("m"))
	if offender, _ := OffenderOf(err); !errors.Is(err, ErrInvalidCommitment) || offender != 7 {
		t.Fatalf("Expected unknown signer 7 rejected, got %v", err)
	}
}

func TestSigningUnknownSession(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 1, Total: 1}, "unknown")
	signers := newSigners(t, results)

	_, err := signers[1].Round2("never-committed", nil, []byte("m"))
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("Expected ErrUnknownSession, got %v", err)
	}
	if _, err := signers[1].Round1(""); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("Expected ErrInvalidSessionID, got %v", err)
	}
}

func TestSigningAbortAndExpire(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 2, Total: 2}, "expire")
	signers := newSigners(t, results)
	e := signers[1]

	if _, err := e.Round1("aborted"); err != nil {
		t.Fatal(err)
	}
	e.Abort("aborted")
	if _, err := e.Round2("aborted", nil, nil); !errors.Is(err, ErrNonceReuse) {
		t.Fatalf("Expected aborted nonces to be unusable, got %v", err)
	}

	now := time.Now()
	e.now = func() time.Time { return now }
	if _, err := e.Round1("old"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if _, err := e.Round1("fresh"); err != nil {
		t.Fatal(err)
	}

	if n := e.Expire(30 * time.Minute); n != 1 {
		t.Fatalf("Expected one expired session, got %d", n)
	}
	if st := e.State("old"); st != SigningStateDone {
		t.Fatalf("Expected expired session done, got %s", st)
	}
	if st := e.State("fresh"); st != SigningStateCommittedRound1 {
		t.Fatalf("Expected fresh session pending, got %s", st)
	}
}

func TestAggregateRejectsForeignShares(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 2, Total: 3}, "foreign")
	pub := results[0].PublicKey
	signers := newSigners(t, results)
	message := []byte("m")

	commitments, shares := signRounds(t, signers, []ParticipantIndex{1, 2}, "foreign-sign", message)

	_, err := Aggregate(pub, "foreign-sign", commitments, []*SignatureShare{shares[0], shares[0]}, message)
	if offender, _ := OffenderOf(err); !errors.Is(err, ErrInvalidShare) || offender != 1 {
		t.Fatalf("Expected duplicate share blamed on 1, got %v", err)
	}

	stray := &SignatureShare{ParticipantID: 3, Share: shares[1].Share}
	_, err = Aggregate(pub, "foreign-sign", commitments, []*SignatureShare{shares[0], stray}, message)
	if offender, _ := OffenderOf(err); !errors.Is(err, ErrInvalidShare) || offender != 3 {
		t.Fatalf("Expected uncommitted share blamed on 3, got %v", err)
	}

	// a share for a different message fails its individual check
	_, err = Aggregate(pub, "foreign-sign", commitments, shares, []byte("other"))
	if !errors.Is(err, ErrInvalidShare) {
		t.Fatalf("Expected ErrInvalidShare for a different message, got %v", err)
	}
}

func TestSigningClosedRetention(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 1, Total: 1}, "retention")
	signers := newSigners(t, results, WithClosedRetention(time.Hour))
	e := signers[1]

	now := time.Now()
	e.now = func() time.Time { return now }
	c, err := e.Round1("kept")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Round2("kept", []*SigningCommitment{c}, []byte("m")); err != nil {
		t.Fatal(err)
	}

	now = now.Add(30 * time.Minute)
	e.Expire(time.Minute)
	if st := e.State("kept"); st != SigningStateSharedRound2 {
		t.Fatalf("Expected session kept within retention, got %s", st)
	}

	now = now.Add(time.Hour)
	e.Expire(time.Minute)
	if st := e.State("kept"); st != SigningStateIdle {
		t.Fatalf("Expected session forgotten after retention, got %s", st)
	}
	if n := len(e.closed); n != 0 {
		t.Fatalf("Expected no closed sessions in memory, got %d", n)
	}
}

func TestSigningSessionLedger(t *testing.T) {
	_, results := runDKG(t, ThresholdParams{Threshold: 1, Total: 1}, "ledger")
	store := newMapStore()
	ledger := func() SigningOption { return WithSessionLedger(NewStoreSessionLedger(store, "sign", 1)) }

	first := newSigners(t, results, ledger(), WithClosedRetention(time.Minute))
	now := time.Now()
	first[1].now = func() time.Time { return now }
	c, err := first[1].Round1("once")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first[1].Round2("once", []*SigningCommitment{c}, []byte("m")); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	first[1].Expire(time.Hour)
	if st := first[1].State("once"); st != SigningStateIdle {
		t.Fatalf("Expected session dropped from memory, got %s", st)
	}
	if _, err := first[1].Round1("once"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("Expected the ledger to refuse a forgotten id, got %v", err)
	}
	first[1].Abort("aborted-early")

	// a new engine over the same store still refuses both ids
	second := newSigners(t, results, ledger())
	for _, sid := range []SessionID{"once", "aborted-early"} {
		if _, err := second[1].Round1(sid); !errors.Is(err, ErrSessionExists) {
			t.Fatalf("Expected ErrSessionExists for %s after restart, got %v", sid, err)
		}
	}
	if _, err := second[1].Round1("new"); err != nil {
		t.Fatalf("Expected a new id accepted, got %v", err)
	}

	// a ledger for another participant is independent
	other := NewStoreSessionLedger(store, "sign", 2)
	if fresh, err := other.Claim("once"); err != nil || !fresh {
		t.Fatalf("Expected a fresh claim for another participant, got %v %v", fresh, err)
	}
}
