package frost

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hash tags of the signing transcript
const (
	tagNonce       = "FROST/secp256k1/nonce"
	tagRho         = "FROST/secp256k1/rho"
	tagMessage     = "FROST/secp256k1/msg"
	tagCommitments = "FROST/secp256k1/com"
)

// SigningState is the state of one participant's signing session.
type SigningState int

const (
	SigningStateIdle SigningState = iota
	SigningStateCommittedRound1
	SigningStateSharedRound2
	SigningStateDone
)

func (s SigningState) String() string {
	switch s {
	case SigningStateIdle:
		return "idle"
	case SigningStateCommittedRound1:
		return "committed_round1"
	case SigningStateSharedRound2:
		return "shared_round2"
	case SigningStateDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MessageValidator decides whether this participant agrees to sign message.
type MessageValidator func(sessionID SessionID, message []byte) error

type signingNonces struct {
	hiding     Scalar
	binding    Scalar
	commitment *SigningCommitment
	created    time.Time
}

func (n *signingNonces) zeroize() {
	ZeroizeScalars(n.hiding, n.binding)
	n.hiding, n.binding = nil, nil
}

// SigningEngine produces this participant's signature shares for one key.
//
// Nonces live in pending between round 1 and round 2. Round 2 removes them
// under the engine lock before using them, so at most one caller ever sees
// a given nonce pair.
type SigningEngine struct {
	curve    Curve
	share    *KeyShare
	pub      *PublicKeyPackage
	rand     io.Reader
	validate MessageValidator
	logger   *zap.Logger
	audit    AuditEventHandler
	ledger   SessionLedger
	now      func() time.Time

	// closed sessions are forgotten after retention; the ledger, when set,
	// still refuses their ids.
	retention time.Duration

	mu      sync.Mutex
	pending map[SessionID]*signingNonces
	closed  map[SessionID]closedSession
}

type closedSession struct {
	state SigningState
	at    time.Time
}

// DefaultClosedRetention is how long a closed session id is kept in memory.
const DefaultClosedRetention = 24 * time.Hour

// SigningOption configures a SigningEngine
type SigningOption func(*SigningEngine)

// WithSigningRandom overrides the randomness source mixed into nonces
func WithSigningRandom(r io.Reader) SigningOption {
	return func(e *SigningEngine) { e.rand = r }
}

// WithMessageValidator installs a check run before any share is produced
func WithMessageValidator(v MessageValidator) SigningOption {
	return func(e *SigningEngine) { e.validate = v }
}

// WithSigningLogger sets the engine logger
func WithSigningLogger(logger *zap.Logger) SigningOption {
	return func(e *SigningEngine) { e.logger = logger }
}

// WithSigningAuditHandler receives signing audit events and replay alerts
func WithSigningAuditHandler(h AuditEventHandler) SigningOption {
	return func(e *SigningEngine) { e.audit = h }
}

// WithSessionLedger refuses session ids the ledger has seen, across restarts
func WithSessionLedger(l SessionLedger) SigningOption {
	return func(e *SigningEngine) { e.ledger = l }
}

// WithClosedRetention sets how long Expire keeps closed session ids
func WithClosedRetention(d time.Duration) SigningOption {
	return func(e *SigningEngine) { e.retention = d }
}

// NewSigningEngine creates a signing engine over a finalized key share.
// The engine never mutates the share.
func NewSigningEngine(share *KeyShare, opts ...SigningOption) (*SigningEngine, error) {
	if share == nil || share.SecretShare == nil || share.GroupPublicKey == nil {
		return nil, ErrInvalidState.WithDetails("signing requires a finalized key share")
	}
	if share.GroupPublicKey.HasOddY() {
		return nil, ErrInvalidState.WithDetails("group key must have even Y")
	}

	e := &SigningEngine{
		curve:    secp256k1,
		share:    share,
		pub:      share.Public(),
		rand:     rand.Reader,
		validate: func(SessionID, []byte) error { return nil },
		logger:   zap.NewNop(),
		audit:    &NullAuditHandler{},
		now:      time.Now,

		retention: DefaultClosedRetention,
		pending:   make(map[SessionID]*signingNonces),
		closed:    make(map[SessionID]closedSession),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.Uint32("participant", uint32(share.ParticipantID)))
	return e, nil
}

// ID returns the participant id
func (e *SigningEngine) ID() ParticipantIndex { return e.share.ParticipantID }

// PublicKey returns the public part of the key share
func (e *SigningEngine) PublicKey() *PublicKeyPackage { return e.pub }

// State returns the state of a signing session
func (e *SigningEngine) State(sessionID SessionID) SigningState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[sessionID]; ok {
		return SigningStateCommittedRound1
	}
	if c, ok := e.closed[sessionID]; ok {
		return c.state
	}
	return SigningStateIdle
}

// nonce derives a hedged nonce from fresh randomness and the secret share,
// so a weak randomness source alone cannot repeat nonces.
func (e *SigningEngine) nonce() (Scalar, error) {
	var seed [32]byte
	defer ZeroizeBytes(seed[:])
	secret := e.share.SecretShare.Bytes()
	defer ZeroizeBytes(secret)
	for {
		if _, err := io.ReadFull(e.rand, seed[:]); err != nil {
			return nil, ErrRandomnessGeneration.WithCause(err)
		}
		k := HashToScalar(e.curve, tagNonce, seed[:], secret)
		if !k.IsZero() {
			return k, nil
		}
	}
}

// Round1 generates fresh nonces for sessionID and returns their commitments.
func (e *SigningEngine) Round1(sessionID SessionID) (*SigningCommitment, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[sessionID]; ok {
		return nil, e.alertReuse(sessionID, ErrSessionExists)
	}
	if _, ok := e.closed[sessionID]; ok {
		return nil, e.alertReuse(sessionID, ErrSessionExists)
	}
	if e.ledger != nil {
		fresh, err := e.ledger.Claim(sessionID)
		if err != nil {
			return nil, err
		}
		if !fresh {
			return nil, e.alertReuse(sessionID, ErrSessionExists)
		}
	}

	hiding, err := e.nonce()
	if err != nil {
		return nil, err
	}
	binding, err := e.nonce()
	if err != nil {
		hiding.Zeroize()
		return nil, err
	}

	g := e.curve.BasePoint()
	commitment := &SigningCommitment{
		ParticipantID: e.share.ParticipantID,
		Hiding:        g.Mul(hiding),
		Binding:       g.Mul(binding),
	}
	e.pending[sessionID] = &signingNonces{
		hiding:     hiding,
		binding:    binding,
		commitment: commitment,
		created:    e.now(),
	}

	e.audit.OnSigning(NewAuditEventBuilder(AuditEventSigningCommitted, ReasonRequested).
		WithSession(sessionID, e.share.ParticipantID).Build())
	return commitment, nil
}

// take removes the nonces of sessionID. It is the only way nonces leave pending.
func (e *SigningEngine) take(sessionID SessionID) (*signingNonces, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	nonces, ok := e.pending[sessionID]
	if !ok {
		if _, seen := e.closed[sessionID]; seen {
			return nil, e.alertReuse(sessionID, ErrNonceReuse)
		}
		return nil, ErrUnknownSession.WithSession(sessionID)
	}
	delete(e.pending, sessionID)
	e.close(sessionID, SigningStateDone)
	return nonces, nil
}

// Round2 consumes the nonces of sessionID and returns this participant's
// signature share. Nonces are erased whether or not a share is produced.
func (e *SigningEngine) Round2(sessionID SessionID, commitments []*SigningCommitment, message []byte) (*SignatureShare, error) {
	nonces, err := e.take(sessionID)
	if err != nil {
		return nil, err
	}
	defer nonces.zeroize()

	share, err := e.signShare(sessionID, nonces, commitments, message)
	if err != nil {
		frostErr, ok := AsFROSTError(err)
		if !ok {
			frostErr = ErrSessionAborted.WithCause(err)
		}
		frostErr = frostErr.WithSession(sessionID)
		e.audit.OnProtocolAbort(NewAuditEventBuilder(AuditEventSigningAborted, ReasonValidationError).
			WithSession(sessionID, e.share.ParticipantID).WithError(frostErr).Build())
		e.logger.Warn("signing round 2 rejected", zap.String("session_id", string(sessionID)), zap.Error(frostErr))
		return nil, frostErr
	}

	e.mu.Lock()
	e.close(sessionID, SigningStateSharedRound2)
	e.mu.Unlock()

	e.audit.OnSigning(NewAuditEventBuilder(AuditEventSigningShared, ReasonRequested).
		WithSession(sessionID, e.share.ParticipantID).
		WithMetadata("signers", len(commitments)).Build())
	e.logger.Debug("signing round 2 shared", zap.String("session_id", string(sessionID)))
	return share, nil
}

func (e *SigningEngine) signShare(sessionID SessionID, nonces *signingNonces,
	commitments []*SigningCommitment, message []byte) (*SignatureShare, error) {
	self := e.share.ParticipantID

	var own *SigningCommitment
	for _, c := range commitments {
		if c != nil && c.ParticipantID == self {
			own = c
			break
		}
	}
	if own == nil || own.Hiding == nil || own.Binding == nil || !own.Equal(nonces.commitment) {
		return nil, ErrCommitmentSetMismatch.WithDetails("own round 1 commitment missing or altered")
	}

	transcript, err := newSigningTranscript(e.pub, commitments, message)
	if err != nil {
		return nil, err
	}
	if err := e.validate(sessionID, message); err != nil {
		return nil, ErrMessageRejected.WithCause(err)
	}

	lambda, err := LagrangeCoefficient(e.curve, self, transcript.ids)
	if err != nil {
		return nil, ErrInvalidCommitment.WithCause(err)
	}

	d, k := nonces.hiding, nonces.binding
	if transcript.oddR {
		d, k = d.Negate(), k.Negate()
		defer ZeroizeScalars(d, k)
	}

	// z_i = d + e*rho_i + lambda_i*s_i*c
	z := d.Add(k.Mul(transcript.rho[self])).Add(lambda.Mul(e.share.SecretShare).Mul(transcript.challenge))
	return &SignatureShare{ParticipantID: self, Share: z}, nil
}

// Abort erases the nonces of sessionID and closes it for good.
func (e *SigningEngine) Abort(sessionID SessionID) {
	e.mu.Lock()
	nonces, ok := e.pending[sessionID]
	delete(e.pending, sessionID)
	_, seen := e.closed[sessionID]
	if !seen || ok {
		e.close(sessionID, SigningStateDone)
	}
	if !seen && !ok && e.ledger != nil {
		if _, err := e.ledger.Claim(sessionID); err != nil {
			e.logger.Warn("could not record aborted session", zap.String("session_id", string(sessionID)), zap.Error(err))
		}
	}
	e.mu.Unlock()

	if ok {
		nonces.zeroize()
		e.audit.OnProtocolAbort(NewAuditEventBuilder(AuditEventSigningAborted, ReasonCoordinatorAbort).
			WithSession(sessionID, e.share.ParticipantID).Build())
		e.logger.Info("signing session aborted", zap.String("session_id", string(sessionID)))
	}
}

// close records the final state of sessionID. Callers hold e.mu.
func (e *SigningEngine) close(sessionID SessionID, state SigningState) {
	e.closed[sessionID] = closedSession{state: state, at: e.now()}
}

// Expire erases nonces committed more than maxAge ago and returns how many
// sessions were closed. Sessions closed longer than the retention period
// are dropped from memory.
func (e *SigningEngine) Expire(maxAge time.Duration) int {
	now := e.now()
	cutoff := now.Add(-maxAge)
	e.mu.Lock()
	var expired []*signingNonces
	var ids []SessionID
	for id, nonces := range e.pending {
		if nonces.created.Before(cutoff) {
			expired = append(expired, nonces)
			ids = append(ids, id)
			delete(e.pending, id)
			e.close(id, SigningStateDone)
		}
	}
	forget := now.Add(-e.retention)
	for id, c := range e.closed {
		if c.at.Before(forget) {
			delete(e.closed, id)
		}
	}
	e.mu.Unlock()

	for i, nonces := range expired {
		nonces.zeroize()
		e.audit.OnProtocolAbort(NewAuditEventBuilder(AuditEventSigningAborted, ReasonExpired).
			WithSession(ids[i], e.share.ParticipantID).Build())
	}
	return len(expired)
}

// alertReuse raises a security alert. Callers hold e.mu.
func (e *SigningEngine) alertReuse(sessionID SessionID, sentinel *FROSTError) error {
	err := sentinel.WithSession(sessionID)
	e.audit.OnSecurityAlert(NewAuditEventBuilder(AuditEventNonceReuse, ReasonReplay).
		WithSession(sessionID, e.share.ParticipantID).WithError(err).Build())
	e.logger.Error("signing session replay", zap.String("session_id", string(sessionID)), zap.Error(err))
	return err
}

// signingTranscript holds everything derived from the public commitment list.
type signingTranscript struct {
	commitments map[ParticipantIndex]*SigningCommitment
	ids         []ParticipantIndex
	rho         map[ParticipantIndex]Scalar
	shares      map[ParticipantIndex]Point // R_i = D_i + rho_i*E_i
	oddR        bool
	R           Point // group commitment, even Y
	challenge   Scalar
}

func newSigningTranscript(pub *PublicKeyPackage, commitments []*SigningCommitment, message []byte) (*signingTranscript, error) {
	t := &signingTranscript{
		commitments: make(map[ParticipantIndex]*SigningCommitment, len(commitments)),
		rho:         make(map[ParticipantIndex]Scalar, len(commitments)),
		shares:      make(map[ParticipantIndex]Point, len(commitments)),
	}
	for _, c := range commitments {
		if c == nil || c.Hiding == nil || c.Binding == nil {
			return nil, ErrInvalidCommitment.WithDetails("incomplete commitment")
		}
		if c.Hiding.IsIdentity() || c.Binding.IsIdentity() {
			return nil, ErrInvalidCommitment.WithOffender(c.ParticipantID).WithDetails("identity nonce commitment")
		}
		if _, known := pub.VerificationShares[c.ParticipantID]; !known {
			return nil, ErrInvalidCommitment.WithOffender(c.ParticipantID).WithDetails("unknown signer")
		}
		if _, dup := t.commitments[c.ParticipantID]; dup {
			return nil, ErrInvalidCommitment.WithOffender(c.ParticipantID).WithDetails("duplicate commitment")
		}
		t.commitments[c.ParticipantID] = c
		t.ids = append(t.ids, c.ParticipantID)
	}
	sortParticipants(t.ids)
	if err := ValidateSigningSet(pub, t.ids); err != nil {
		return nil, err
	}

	groupKey := pub.GroupPublicKey.XOnlyBytes()
	msgHash := TaggedHash(tagMessage, message)
	listHash := TaggedHash(tagCommitments, EncodeCommitmentList(commitments))

	R := secp256k1.PointIdentity()
	for _, id := range t.ids {
		c := t.commitments[id]
		rho := HashToScalar(secp256k1, tagRho, groupKey, msgHash, listHash, participantBytes(id))
		t.rho[id] = rho
		t.shares[id] = c.Hiding.Add(c.Binding.Mul(rho))
		R = R.Add(t.shares[id])
	}
	if R.IsIdentity() {
		return nil, ErrInvalidCommitment.WithDetails("group commitment is the identity")
	}

	t.oddR = R.HasOddY()
	if t.oddR {
		R = R.Negate()
	}
	t.R = R
	t.challenge = BitcoinChallenge(R, pub.GroupPublicKey, message)
	return t, nil
}
