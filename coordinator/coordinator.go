// Package coordinator drives DKG and signing across a fixed set of
// participants. It relays and validates public messages only and never
// holds secret material.
package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	frost "github.com/canopy-network/frost-taproot"
	"github.com/canopy-network/frost-taproot/signer"
)

// DefaultRoundTimeout bounds every protocol round.
const DefaultRoundTimeout = 30 * time.Second

// Participant is one signer as seen by the coordinator.
type Participant interface {
	ID() frost.ParticipantIndex
	Status(ctx context.Context) (*signer.Status, error)
	DKGRound1(ctx context.Context, sessionID frost.SessionID) (*frost.Round1Package, error)
	DKGRound2(ctx context.Context, sessionID frost.SessionID, packages []*frost.Round1Package) ([]*frost.EncryptedFragment, error)
	DKGFinalize(ctx context.Context, sessionID frost.SessionID, fragments []*frost.EncryptedFragment) (*frost.PublicKeyPackage, error)
	SignRound1(ctx context.Context, sessionID frost.SessionID) (*frost.SigningCommitment, error)
	SignRound2(ctx context.Context, sessionID frost.SessionID, commitments []*frost.SigningCommitment, message []byte) (*frost.SignatureShare, error)
	Abort(ctx context.Context, sessionID frost.SessionID) error
}

var _ Participant = (*signer.Node)(nil)

// Coordinator runs sessions over a fixed participant set.
type Coordinator struct {
	params       frost.ThresholdParams
	participants map[frost.ParticipantIndex]Participant
	ordered      []Participant

	RoundTimeout time.Duration

	logger     *zap.Logger
	aggregator *frost.Aggregator

	pub *frost.PublicKeyPackage
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithRoundTimeout overrides DefaultRoundTimeout
func WithRoundTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.RoundTimeout = d }
}

// WithLogger sets the coordinator logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithPublicKey seeds the key used by Sign, skipping EnsureKey.
func WithPublicKey(pub *frost.PublicKeyPackage) Option {
	return func(c *Coordinator) { c.pub = pub }
}

// New creates a coordinator. participants must hold exactly the ids 1..N.
func New(params frost.ThresholdParams, participants []Participant, opts ...Option) (*Coordinator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(participants) != params.Total {
		return nil, frost.ErrInvalidParams.WithDetails("%d participants configured, total is %d", len(participants), params.Total)
	}

	c := &Coordinator{
		params:       params,
		participants: make(map[frost.ParticipantIndex]Participant, len(participants)),
		RoundTimeout: DefaultRoundTimeout,
		logger:       zap.NewNop(),
	}
	for _, p := range participants {
		id := p.ID()
		if !params.Contains(id) {
			return nil, frost.ErrInvalidParticipantID.WithOffender(id)
		}
		if _, dup := c.participants[id]; dup {
			return nil, frost.ErrInvalidParticipantID.WithOffender(id).WithDetails("configured twice")
		}
		c.participants[id] = p
	}
	for _, id := range params.Participants() {
		c.ordered = append(c.ordered, c.participants[id])
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("coordinator")
	c.aggregator = frost.NewAggregator(
		frost.WithAggregatorLogger(c.logger),
		frost.WithAggregatorAuditHandler(frost.NewZapAuditHandler(c.logger)))
	return c, nil
}

// NewSessionID returns a fresh random session id.
func NewSessionID() frost.SessionID {
	return frost.SessionID(uuid.NewString())
}

// PublicKey returns the key Sign uses, nil before EnsureKey or RunDKG.
func (c *Coordinator) PublicKey() *frost.PublicKeyPackage {
	return c.pub
}

// EnsureKey reuses the key every participant already holds, or runs a new DKG.
func (c *Coordinator) EnsureKey(ctx context.Context) (*frost.PublicKeyPackage, error) {
	statuses := make([]*signer.Status, len(c.ordered))
	err := c.round(ctx, "", "status", c.ordered, func(ctx context.Context, i int, p Participant) error {
		st, err := p.Status(ctx)
		statuses[i] = st
		return err
	})
	if err != nil {
		return nil, err
	}

	if pub, ok := sharedKey(statuses); ok {
		c.logger.Info("reusing existing key", zap.String("key_session", string(statuses[0].KeySession)))
		c.pub = pub
		return pub, nil
	}
	return c.RunDKG(ctx, NewSessionID())
}

func sharedKey(statuses []*signer.Status) (*frost.PublicKeyPackage, bool) {
	first := statuses[0]
	if first == nil || !first.HasKey || first.PublicKey == nil {
		return nil, false
	}
	for _, st := range statuses[1:] {
		if st == nil || !st.HasKey || st.PublicKey == nil || st.KeySession != first.KeySession {
			return nil, false
		}
		if !samePublicKey(first.PublicKey, st.PublicKey) {
			return nil, false
		}
	}
	return first.PublicKey, true
}

func samePublicKey(a, b *frost.PublicKeyPackage) bool {
	if a.Threshold != b.Threshold || !a.GroupPublicKey.Equal(b.GroupPublicKey) {
		return false
	}
	if len(a.VerificationShares) != len(b.VerificationShares) {
		return false
	}
	for id, share := range a.VerificationShares {
		other, ok := b.VerificationShares[id]
		if !ok || !share.Equal(other) {
			return false
		}
	}
	return true
}

// RunDKG runs distributed key generation across all participants.
func (c *Coordinator) RunDKG(ctx context.Context, sessionID frost.SessionID) (pub *frost.PublicKeyPackage, err error) {
	if sessionID == "" {
		return nil, frost.ErrInvalidSessionID
	}
	log := c.logger.With(zap.String("session_id", string(sessionID)))
	log.Info("dkg started", zap.Int("threshold", c.params.Threshold), zap.Int("total", c.params.Total))
	defer func() {
		if err != nil {
			c.abortAll(sessionID, c.ordered, err)
		}
	}()

	packages := make([]*frost.Round1Package, len(c.ordered))
	err = c.round(ctx, sessionID, "dkg round 1", c.ordered, func(ctx context.Context, i int, p Participant) error {
		pkg, err := p.DKGRound1(ctx, sessionID)
		if err != nil {
			return err
		}
		if pkg == nil {
			return frost.ErrSessionAborted.WithOffender(p.ID()).WithDetails("no round 1 package")
		}
		if pkg.From != p.ID() || pkg.SessionID != sessionID {
			return frost.ErrSessionAborted.WithOffender(p.ID()).WithDetails("round 1 package has wrong sender or session")
		}
		packages[i] = pkg
		return nil
	})
	if err != nil {
		return nil, err
	}

	sent := make([][]*frost.EncryptedFragment, len(c.ordered))
	err = c.round(ctx, sessionID, "dkg round 2", c.ordered, func(ctx context.Context, i int, p Participant) error {
		others := make([]*frost.Round1Package, 0, len(packages)-1)
		for j, pkg := range packages {
			if j != i {
				others = append(others, pkg)
			}
		}
		fragments, err := p.DKGRound2(ctx, sessionID, others)
		if err != nil {
			return err
		}
		if err := c.checkFragments(sessionID, p.ID(), fragments); err != nil {
			return err
		}
		sent[i] = fragments
		return nil
	})
	if err != nil {
		return nil, err
	}

	inbox := make(map[frost.ParticipantIndex][]*frost.EncryptedFragment, len(c.ordered))
	for _, fragments := range sent {
		for _, frag := range fragments {
			inbox[frag.To] = append(inbox[frag.To], frag)
		}
	}

	results := make([]*frost.PublicKeyPackage, len(c.ordered))
	err = c.round(ctx, sessionID, "dkg finalize", c.ordered, func(ctx context.Context, i int, p Participant) error {
		result, err := p.DKGFinalize(ctx, sessionID, inbox[p.ID()])
		if err != nil {
			return err
		}
		if result == nil || result.GroupPublicKey == nil {
			return frost.ErrSessionAborted.WithOffender(p.ID()).WithDetails("no public key package")
		}
		results[i] = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, result := range results[1:] {
		if !samePublicKey(results[0], result) {
			return nil, frost.ErrGroupKeyMismatch.WithSession(sessionID).WithOffender(c.ordered[i+1].ID())
		}
	}

	c.pub = results[0]
	log.Info("dkg finalized", zap.String("group_key", c.pub.GroupPublicKey.String()))
	return c.pub, nil
}

// checkFragments requires exactly one fragment from sender to every other participant.
func (c *Coordinator) checkFragments(sessionID frost.SessionID, sender frost.ParticipantIndex, fragments []*frost.EncryptedFragment) error {
	seen := make(map[frost.ParticipantIndex]bool, len(fragments))
	for _, frag := range fragments {
		switch {
		case frag == nil:
			return frost.ErrSessionAborted.WithOffender(sender).WithDetails("empty fragment")
		case frag.From != sender || frag.SessionID != sessionID:
			return frost.ErrSessionAborted.WithOffender(sender).WithDetails("fragment has wrong sender or session")
		case frag.To == sender || !c.params.Contains(frag.To):
			return frost.ErrSessionAborted.WithOffender(sender).WithDetails("fragment addressed to %d", frag.To)
		case seen[frag.To]:
			return frost.ErrSessionAborted.WithOffender(sender).WithDetails("two fragments for %d", frag.To)
		}
		seen[frag.To] = true
	}
	if len(seen) != c.params.Total-1 {
		return frost.ErrSessionAborted.WithOffender(sender).
			WithDetails("%d fragments, expected %d", len(seen), c.params.Total-1)
	}
	return nil
}

// Sign runs both signing rounds with signers and aggregates the result.
func (c *Coordinator) Sign(ctx context.Context, sessionID frost.SessionID, signers []frost.ParticipantIndex, message []byte) (sig *frost.Signature, err error) {
	if sessionID == "" {
		return nil, frost.ErrInvalidSessionID
	}
	if c.pub == nil {
		return nil, frost.ErrInvalidState.WithSession(sessionID).WithDetails("no key, run EnsureKey first")
	}
	if err := frost.ValidateSigningSet(c.pub, signers); err != nil {
		frostErr, ok := frost.AsFROSTError(err)
		if ok {
			return nil, frostErr.WithSession(sessionID)
		}
		return nil, err
	}

	ids := append([]frost.ParticipantIndex(nil), signers...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subset := make([]Participant, 0, len(ids))
	for _, id := range ids {
		p, ok := c.participants[id]
		if !ok {
			return nil, frost.ErrInvalidParticipantID.WithOffender(id).WithSession(sessionID)
		}
		subset = append(subset, p)
	}

	log := c.logger.With(zap.String("session_id", string(sessionID)))
	defer func() {
		if err != nil {
			c.abortAll(sessionID, subset, err)
		}
	}()

	commitments := make([]*frost.SigningCommitment, len(subset))
	err = c.round(ctx, sessionID, "sign round 1", subset, func(ctx context.Context, i int, p Participant) error {
		commitment, err := p.SignRound1(ctx, sessionID)
		if err != nil {
			return err
		}
		if commitment == nil {
			return frost.ErrSessionAborted.WithOffender(p.ID()).WithDetails("no commitment")
		}
		if commitment.ParticipantID != p.ID() {
			return frost.ErrInvalidCommitment.WithOffender(p.ID()).WithDetails("commitment carries id %d", commitment.ParticipantID)
		}
		commitments[i] = commitment
		return nil
	})
	if err != nil {
		return nil, err
	}
	frost.SortCommitments(commitments)

	shares := make([]*frost.SignatureShare, len(subset))
	err = c.round(ctx, sessionID, "sign round 2", subset, func(ctx context.Context, i int, p Participant) error {
		share, err := p.SignRound2(ctx, sessionID, commitments, message)
		if err != nil {
			return err
		}
		if share == nil {
			return frost.ErrSessionAborted.WithOffender(p.ID()).WithDetails("no signature share")
		}
		if share.ParticipantID != p.ID() {
			return frost.ErrInvalidShare.WithOffender(p.ID()).WithDetails("share carries id %d", share.ParticipantID)
		}
		shares[i] = share
		return nil
	})
	if err != nil {
		return nil, err
	}

	sig, err = c.aggregator.Aggregate(c.pub, sessionID, commitments, shares, message)
	if err != nil {
		return nil, err
	}
	log.Info("signed", zap.Int("signers", len(subset)))
	return sig, nil
}

// round calls fn for every participant concurrently and waits for all of
// them, bounded by RoundTimeout.
func (c *Coordinator) round(ctx context.Context, sessionID frost.SessionID, name string, parts []Participant,
	fn func(ctx context.Context, i int, p Participant) error) error {
	roundCtx, cancel := context.WithTimeout(ctx, c.RoundTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(roundCtx)
	for i, p := range parts {
		g.Go(func() error {
			if err := fn(gctx, i, p); err != nil {
				return c.blame(roundCtx, sessionID, name, p.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		c.logger.Warn("round failed",
			zap.String("round", name), zap.String("session_id", string(sessionID)), zap.Error(err))
	}
	return err
}

func (c *Coordinator) blame(roundCtx context.Context, sessionID frost.SessionID, name string, id frost.ParticipantIndex, err error) error {
	if frostErr, ok := frost.AsFROSTError(err); ok {
		if frostErr.SessionID == "" && sessionID != "" {
			frostErr = frostErr.WithSession(sessionID)
		}
		return frostErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(roundCtx.Err(), context.DeadlineExceeded) {
		return frost.ErrTimeout.WithSession(sessionID).WithOffender(id).WithDetails("%s", name)
	}
	return frost.ErrSessionAborted.WithSession(sessionID).WithOffender(id).WithCause(err)
}

// abortAll tells every participant to drop sessionID. Failures are only logged.
func (c *Coordinator) abortAll(sessionID frost.SessionID, parts []Participant, reason error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.RoundTimeout)
	defer cancel()

	c.logger.Warn("aborting session", zap.String("session_id", string(sessionID)), zap.Error(reason))
	var g errgroup.Group
	for _, p := range parts {
		g.Go(func() error {
			if err := p.Abort(ctx, sessionID); err != nil {
				c.logger.Warn("abort failed",
					zap.Uint32("participant", uint32(p.ID())), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
