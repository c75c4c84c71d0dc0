package frost

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DKGState is the state of one participant's DKG session.
type DKGState int

const (
	DKGStateInit DKGState = iota
	DKGStateRound1Sent
	DKGStateRound1Collected
	DKGStateRound2Sent
	DKGStateRound2Collected
	DKGStateFinalized
	DKGStateAborted
)

func (s DKGState) String() string {
	switch s {
	case DKGStateInit:
		return "init"
	case DKGStateRound1Sent:
		return "round1_sent"
	case DKGStateRound1Collected:
		return "round1_collected"
	case DKGStateRound2Sent:
		return "round2_sent"
	case DKGStateRound2Collected:
		return "round2_collected"
	case DKGStateFinalized:
		return "finalized"
	case DKGStateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s DKGState) Terminal() bool {
	return s == DKGStateFinalized || s == DKGStateAborted
}

var dkgTransitions = map[DKGState]DKGState{
	DKGStateInit:            DKGStateRound1Sent,
	DKGStateRound1Sent:      DKGStateRound1Collected,
	DKGStateRound1Collected: DKGStateRound2Sent,
	DKGStateRound2Sent:      DKGStateRound2Collected,
	DKGStateRound2Collected: DKGStateFinalized,
}

type dkgSession struct {
	mu    sync.Mutex
	id    SessionID
	state DKGState

	polynomial *Polynomial
	ownShare   Scalar // f_self(self)
	encSecret  Scalar // ephemeral fragment decryption key
	round1     *Round1Package
	round1Blob []byte
	peers      map[ParticipantIndex]*Round1Package

	abortErr error

	now   func() time.Time
	ended time.Time // set on reaching a terminal state
}

func (s *dkgSession) transition(to DKGState) error {
	if to == DKGStateAborted {
		if s.state.Terminal() {
			return ErrInvalidState.WithSession(s.id).WithDetails("session already %s", s.state)
		}
		s.state = to
		s.ended = s.now()
		return nil
	}
	if next, ok := dkgTransitions[s.state]; !ok || next != to {
		if s.state == DKGStateAborted && s.abortErr != nil {
			return ErrSessionAborted.WithSession(s.id).WithCause(s.abortErr)
		}
		return ErrInvalidState.WithSession(s.id).WithDetails("cannot move from %s to %s", s.state, to)
	}
	s.state = to
	if to.Terminal() {
		s.ended = s.now()
	}
	return nil
}

// expect fails unless the session is in state want.
func (s *dkgSession) expect(want DKGState) error {
	if s.state == want {
		return nil
	}
	if s.state == DKGStateAborted && s.abortErr != nil {
		return ErrSessionAborted.WithSession(s.id).WithCause(s.abortErr)
	}
	return ErrInvalidState.WithSession(s.id).WithDetails("expected %s, session is %s", want, s.state)
}

func (s *dkgSession) wipe() {
	if s.polynomial != nil {
		s.polynomial.Zeroize()
		s.polynomial = nil
	}
	ZeroizeScalars(s.ownShare, s.encSecret)
	s.ownShare, s.encSecret = nil, nil
	s.peers = nil
}

// DKGEngine drives one participant's side of distributed key generation.
// Sessions are independent and may run concurrently.
type DKGEngine struct {
	curve  Curve
	id     ParticipantIndex
	params ThresholdParams
	rand   io.Reader
	store  KeyShareStore
	logger *zap.Logger
	audit  AuditEventHandler
	ledger SessionLedger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[SessionID]*dkgSession
}

// DKGOption configures a DKGEngine
type DKGOption func(*DKGEngine)

// WithRandom overrides the randomness source, crypto/rand by default
func WithRandom(r io.Reader) DKGOption {
	return func(e *DKGEngine) { e.rand = r }
}

// WithKeyShareStore persists finalized key shares
func WithKeyShareStore(store KeyShareStore) DKGOption {
	return func(e *DKGEngine) { e.store = store }
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) DKGOption {
	return func(e *DKGEngine) { e.logger = logger }
}

// WithAuditHandler receives DKG audit events
func WithAuditHandler(h AuditEventHandler) DKGOption {
	return func(e *DKGEngine) { e.audit = h }
}

// WithDKGSessionLedger refuses session ids the ledger has seen, across restarts
func WithDKGSessionLedger(l SessionLedger) DKGOption {
	return func(e *DKGEngine) { e.ledger = l }
}

// NewDKGEngine creates the DKG engine of participant id.
func NewDKGEngine(id ParticipantIndex, params ThresholdParams, opts ...DKGOption) (*DKGEngine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !params.Contains(id) {
		return nil, ErrInvalidParticipantID.WithDetails("participant %d outside 1..%d", id, params.Total)
	}

	e := &DKGEngine{
		curve:    secp256k1,
		id:       id,
		params:   params,
		rand:     rand.Reader,
		logger:   zap.NewNop(),
		audit:    &NullAuditHandler{},
		now:      time.Now,
		sessions: make(map[SessionID]*dkgSession),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.Uint32("participant", uint32(id)))
	return e, nil
}

// ID returns the participant id
func (e *DKGEngine) ID() ParticipantIndex { return e.id }

// Params returns the threshold parameters
func (e *DKGEngine) Params() ThresholdParams { return e.params }

func (e *DKGEngine) session(sessionID SessionID) (*dkgSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession.WithSession(sessionID)
	}
	return s, nil
}

// State returns the current state of a session
func (e *DKGEngine) State(sessionID SessionID) (DKGState, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Round1 samples this participant's polynomial and returns the broadcast package.
func (e *DKGEngine) Round1(sessionID SessionID) (*Round1Package, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}
	if err := e.params.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, exists := e.sessions[sessionID]; exists {
		e.mu.Unlock()
		return nil, ErrSessionExists.WithSession(sessionID)
	}
	if e.ledger != nil {
		fresh, err := e.ledger.Claim(sessionID)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		if !fresh {
			e.mu.Unlock()
			return nil, ErrSessionExists.WithSession(sessionID).WithDetails("session id used before")
		}
	}
	s := &dkgSession{id: sessionID, state: DKGStateInit, now: e.now}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.sessions[sessionID] = s
	e.mu.Unlock()

	e.audit.OnKeyGeneration(NewAuditEventBuilder(AuditEventDKGStarted, ReasonRequested).
		WithSession(sessionID, e.id).WithParams(e.params).Build())

	polynomial, err := NewRandomPolynomial(e.curve, e.params.Threshold-1, e.rand)
	if err != nil {
		return nil, e.abort(s, ReasonValidationError, err)
	}
	s.polynomial = polynomial

	encSecret, err := e.curve.ScalarRandom(e.rand)
	if err != nil {
		return nil, e.abort(s, ReasonValidationError, err)
	}
	s.encSecret = encSecret

	commitments := polynomial.Commit()
	encKey := e.curve.BasePoint().Mul(encSecret)
	proof, err := NewSchnorrProof(e.curve, e.rand, sessionID, e.id, polynomial.Secret(), commitments[0], encKey)
	if err != nil {
		return nil, e.abort(s, ReasonValidationError, err)
	}

	pkg := &Round1Package{
		SessionID:     sessionID,
		From:          e.id,
		Commitments:   commitments,
		Proof:         proof,
		EncryptionKey: encKey,
	}
	if s.round1Blob, err = pkg.MarshalBinary(); err != nil {
		return nil, e.abort(s, ReasonValidationError, err)
	}
	s.round1 = pkg

	if err := s.transition(DKGStateRound1Sent); err != nil {
		return nil, err
	}
	e.logger.Debug("dkg round 1 sent", zap.String("session_id", string(sessionID)))
	return pkg, nil
}

// Round2 verifies every other participant's round 1 package and returns one
// encrypted fragment of this participant's polynomial per recipient.
// The caller's own package may be included in packages, unchanged.
func (e *DKGEngine) Round2(sessionID SessionID, packages []*Round1Package) (map[ParticipantIndex]*EncryptedFragment, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(DKGStateRound1Sent); err != nil {
		return nil, err
	}

	peers, err := e.collectRound1(s, packages)
	if err != nil {
		return nil, e.abort(s, ReasonInvalidProof, err)
	}
	s.peers = peers
	if err := s.transition(DKGStateRound1Collected); err != nil {
		return nil, err
	}

	fragments := make(map[ParticipantIndex]*EncryptedFragment, e.params.Total-1)
	for _, to := range e.params.Participants() {
		value := s.polynomial.Evaluate(to.ToScalar())
		if to == e.id {
			s.ownShare = value
			continue
		}
		frag, err := sealFragment(e.rand, sessionID, e.id, to, s.encSecret, peers[to].EncryptionKey, value)
		value.Zeroize()
		if err != nil {
			return nil, e.abort(s, ReasonValidationError, err)
		}
		fragments[to] = frag
	}

	// Only f_self(self) and the commitments are needed from here on.
	s.polynomial.Zeroize()
	s.polynomial = nil

	if err := s.transition(DKGStateRound2Sent); err != nil {
		return nil, err
	}
	e.logger.Debug("dkg round 2 sent",
		zap.String("session_id", string(sessionID)), zap.Int("fragments", len(fragments)))
	return fragments, nil
}

func (e *DKGEngine) collectRound1(s *dkgSession, packages []*Round1Package) (map[ParticipantIndex]*Round1Package, error) {
	peers := make(map[ParticipantIndex]*Round1Package, e.params.Total)
	for _, pkg := range packages {
		if pkg == nil {
			return nil, ErrMalformedPackage.WithSession(s.id).WithDetails("nil round 1 package")
		}
		if pkg.SessionID != s.id {
			return nil, ErrInvalidSessionID.WithSession(s.id).WithOffender(pkg.From).
				WithDetails("package for session %q", pkg.SessionID)
		}
		if !e.params.Contains(pkg.From) {
			return nil, ErrInvalidParticipantID.WithSession(s.id).WithDetails("unknown sender %d", pkg.From)
		}
		if _, dup := peers[pkg.From]; dup {
			return nil, ErrInvalidCommitment.WithSession(s.id).WithOffender(pkg.From).
				WithDetails("duplicate round 1 package")
		}
		if pkg.From == e.id {
			blob, err := pkg.MarshalBinary()
			if err != nil || !bytes.Equal(blob, s.round1Blob) {
				return nil, ErrCommitmentSetMismatch.WithSession(s.id).
					WithDetails("own round 1 package was altered")
			}
			peers[pkg.From] = s.round1
			continue
		}
		if len(pkg.Commitments) != e.params.Threshold {
			return nil, ErrInvalidCommitment.WithSession(s.id).WithOffender(pkg.From).
				WithDetails("expected %d commitments, got %d", e.params.Threshold, len(pkg.Commitments))
		}
		if _, err := NewPolynomialCommitment(e.curve, pkg.Commitments); err != nil {
			return nil, ErrInvalidCommitment.WithSession(s.id).WithOffender(pkg.From).WithCause(err)
		}
		if pkg.EncryptionKey == nil || pkg.EncryptionKey.IsIdentity() {
			return nil, ErrInvalidCommitment.WithSession(s.id).WithOffender(pkg.From).
				WithDetails("missing encryption key")
		}
		if !pkg.Proof.Verify(e.curve, s.id, pkg.From, pkg.Commitments[0], pkg.EncryptionKey) {
			return nil, ErrInvalidCommitment.WithSession(s.id).WithOffender(pkg.From).
				WithDetails("proof of knowledge does not verify")
		}
		peers[pkg.From] = pkg
	}

	peers[e.id] = s.round1
	for _, id := range e.params.Participants() {
		if _, ok := peers[id]; !ok {
			return nil, ErrInvalidCommitment.WithSession(s.id).WithOffender(id).
				WithDetails("missing round 1 package")
		}
	}
	return peers, nil
}

// Finalize verifies the fragments addressed to this participant, derives the
// key share and group key, and persists the share before returning.
func (e *DKGEngine) Finalize(ctx context.Context, sessionID SessionID, fragments []*EncryptedFragment) (*KeygenResult, error) {
	s, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(DKGStateRound2Sent); err != nil {
		return nil, err
	}

	secret, err := e.collectFragments(s, fragments)
	if err != nil {
		return nil, e.abort(s, ReasonInvalidFragment, err)
	}
	defer secret.Zeroize()
	if err := s.transition(DKGStateRound2Collected); err != nil {
		return nil, err
	}

	commitments := make([]*PolynomialCommitment, 0, len(s.peers))
	groupKey := e.curve.PointIdentity()
	for _, id := range e.params.Participants() {
		pc, err := NewPolynomialCommitment(e.curve, s.peers[id].Commitments)
		if err != nil {
			return nil, e.abort(s, ReasonInvalidProof, ErrInvalidCommitment.WithOffender(id).WithCause(err))
		}
		commitments = append(commitments, pc)
		groupKey = groupKey.Add(pc.Secret())
	}

	verificationShares := make(map[ParticipantIndex]Point, e.params.Total)
	for _, id := range e.params.Participants() {
		x := id.ToScalar()
		y := e.curve.PointIdentity()
		for _, pc := range commitments {
			y = y.Add(pc.Evaluate(x))
		}
		verificationShares[id] = y
	}
	if !e.curve.BasePoint().Mul(secret).Equal(verificationShares[e.id]) {
		return nil, e.abort(s, ReasonInvalidFragment,
			ErrShareVerificationFailed.WithDetails("secret share does not match own verification share"))
	}

	tweaked, err := ApplyTaprootTweak(groupKey, secret, verificationShares)
	if err != nil {
		return nil, e.abort(s, ReasonInvalidProof, ErrInvalidCommitment.WithCause(err))
	}

	keyShare := &KeyShare{
		SessionID:          sessionID,
		ParticipantID:      e.id,
		Threshold:          e.params.Threshold,
		SecretShare:        tweaked.SecretShare,
		PublicKey:          tweaked.VerificationShares[e.id],
		VerificationShares: tweaked.VerificationShares,
		GroupPublicKey:     tweaked.OutputKey,
		InternalKey:        tweaked.InternalKey,
	}

	if e.store != nil {
		blob, err := keyShare.MarshalBinary()
		if err == nil {
			err = e.store.Put(ctx, KeyShareHandle(e.id, sessionID), blob)
			ZeroizeBytes(blob)
		}
		if err != nil {
			keyShare.Zeroize()
			return nil, e.abort(s, ReasonStorageFailure, ErrStorage.WithCause(err))
		}
	}

	if err := s.transition(DKGStateFinalized); err != nil {
		keyShare.Zeroize()
		return nil, err
	}
	s.wipe()

	e.audit.OnKeyGeneration(NewAuditEventBuilder(AuditEventDKGFinalized, ReasonRequested).
		WithSession(sessionID, e.id).WithParams(e.params).
		WithMetadata("group_key", fmt.Sprintf("%x", keyShare.GroupPublicKey.XOnlyBytes())).Build())
	e.logger.Info("dkg finalized",
		zap.String("session_id", string(sessionID)),
		zap.String("group_key", fmt.Sprintf("%x", keyShare.GroupPublicKey.XOnlyBytes())))

	return &KeygenResult{KeyShare: keyShare, PublicKey: keyShare.Public()}, nil
}

func (e *DKGEngine) collectFragments(s *dkgSession, fragments []*EncryptedFragment) (Scalar, error) {
	received := make(map[ParticipantIndex]bool, len(fragments))
	secret := e.curve.ScalarZero().Add(s.ownShare)
	fail := func(err error) (Scalar, error) {
		secret.Zeroize()
		return nil, err
	}

	for _, frag := range fragments {
		if frag == nil {
			return fail(ErrMalformedPackage.WithSession(s.id).WithDetails("nil fragment"))
		}
		if frag.SessionID != s.id || frag.To != e.id {
			return fail(ErrShareVerificationFailed.WithSession(s.id).WithOffender(frag.From).
				WithDetails("fragment addressed to %d in session %q", frag.To, frag.SessionID))
		}
		peer, ok := s.peers[frag.From]
		if !ok || frag.From == e.id {
			return fail(ErrInvalidParticipantID.WithSession(s.id).WithDetails("fragment from %d", frag.From))
		}
		if received[frag.From] {
			return fail(ErrShareVerificationFailed.WithSession(s.id).WithOffender(frag.From).
				WithDetails("duplicate fragment"))
		}
		received[frag.From] = true

		value, err := openFragment(frag, s.encSecret, peer.EncryptionKey)
		if err != nil {
			return fail(ErrShareVerificationFailed.WithSession(s.id).WithOffender(frag.From).WithCause(err))
		}
		pc, err := NewPolynomialCommitment(e.curve, peer.Commitments)
		if err != nil || !pc.Verify(e.id, value) {
			value.Zeroize()
			return fail(ErrShareVerificationFailed.WithSession(s.id).WithOffender(frag.From).
				WithDetails("fragment does not match sender commitments"))
		}
		next := secret.Add(value)
		secret.Zeroize()
		value.Zeroize()
		secret = next
	}

	for _, id := range e.params.Participants() {
		if id != e.id && !received[id] {
			return fail(ErrShareVerificationFailed.WithSession(s.id).WithOffender(id).
				WithDetails("missing fragment"))
		}
	}
	return secret, nil
}

// Abort discards all secret state of a session. Aborting an unknown session
// records it as aborted so the id can never be started later.
func (e *DKGEngine) Abort(sessionID SessionID, reason error) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		if e.ledger != nil {
			if _, err := e.ledger.Claim(sessionID); err != nil {
				e.mu.Unlock()
				return err
			}
		}
		s = &dkgSession{id: sessionID, state: DKGStateInit, now: e.now}
		e.sessions[sessionID] = s
	}
	e.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return nil
	}
	if reason == nil {
		reason = ErrSessionAborted.WithSession(sessionID)
	}
	_ = e.abort(s, ReasonCoordinatorAbort, reason)
	return nil
}

// abort moves s to Aborted, wipes its secrets and returns err bound to the session.
// Callers hold s.mu.
func (e *DKGEngine) abort(s *dkgSession, reason AuditEventReason, err error) error {
	frostErr, ok := AsFROSTError(err)
	if !ok {
		frostErr = ErrSessionAborted.WithCause(err)
	}
	frostErr = frostErr.WithSession(s.id)

	if !s.state.Terminal() {
		_ = s.transition(DKGStateAborted)
		s.abortErr = frostErr
		s.wipe()
		e.audit.OnProtocolAbort(NewAuditEventBuilder(AuditEventDKGAborted, reason).
			WithSession(s.id, e.id).WithParams(e.params).WithError(frostErr).Build())
		e.logger.Warn("dkg session aborted",
			zap.String("session_id", string(s.id)),
			zap.Uint32("offender", uint32(frostErr.Offender)),
			zap.Error(frostErr))
	}
	return frostErr
}

// Prune forgets sessions that ended more than maxAge ago and returns how many
// were dropped. Without a ledger a pruned id can be started again.
func (e *DKGEngine) Prune(maxAge time.Duration) int {
	cutoff := e.now().Add(-maxAge)
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, s := range e.sessions {
		s.mu.Lock()
		drop := s.state.Terminal() && s.ended.Before(cutoff)
		s.mu.Unlock()
		if drop {
			delete(e.sessions, id)
			n++
		}
	}
	return n
}

// LoadKeyShare reads the share this participant persisted for sessionID.
func (e *DKGEngine) LoadKeyShare(ctx context.Context, sessionID SessionID) (*KeyShare, error) {
	if e.store == nil {
		return nil, ErrKeyShareNotFound.WithSession(sessionID)
	}
	blob, err := e.store.Get(ctx, KeyShareHandle(e.id, sessionID))
	if err != nil {
		return nil, err
	}
	defer ZeroizeBytes(blob)

	ks := new(KeyShare)
	if err := ks.UnmarshalBinary(blob); err != nil {
		return nil, err
	}
	if ks.ParticipantID != e.id || ks.SessionID != sessionID {
		return nil, ErrStorage.WithSession(sessionID).WithDetails("stored share belongs to another participant or session")
	}
	return ks, nil
}
