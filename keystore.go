package frost

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/zeebo/blake3"
)

// KeyShareStore is durable storage for encoded key shares.
//
// Put must not return before the blob is durable. Get returns
// ErrKeyShareNotFound for unknown handles.
type KeyShareStore interface {
	Put(ctx context.Context, handle string, blob []byte) error
	Get(ctx context.Context, handle string) ([]byte, error)
}

// KeyShareHandle derives the opaque store handle for one participant's share
// of the key generated in sessionID.
func KeyShareHandle(id ParticipantIndex, sessionID SessionID) string {
	h := blake3.New()
	_, _ = h.Write([]byte("frost/keyshare"))
	_, _ = h.Write(participantBytes(id))
	_, _ = h.Write(lengthPrefixed([]byte(sessionID)))
	return hex.EncodeToString(h.Sum(nil))
}

// SessionLedger remembers used session ids beyond the life of one engine.
type SessionLedger interface {
	// Claim records sessionID as used. It reports false if it was used before.
	Claim(sessionID SessionID) (bool, error)
}

type storeSessionLedger struct {
	store     KeyShareStore
	namespace string
	id        ParticipantIndex
}

// NewStoreSessionLedger keeps the session ids participant id has used in
// namespace of store. Callers serialize Claim.
func NewStoreSessionLedger(store KeyShareStore, namespace string, id ParticipantIndex) SessionLedger {
	return &storeSessionLedger{store: store, namespace: namespace, id: id}
}

func (l *storeSessionLedger) handle(sessionID SessionID) string {
	h := blake3.New()
	_, _ = h.Write([]byte("frost/session/"))
	_, _ = h.Write(lengthPrefixed([]byte(l.namespace)))
	_, _ = h.Write(participantBytes(l.id))
	_, _ = h.Write(lengthPrefixed([]byte(sessionID)))
	return hex.EncodeToString(h.Sum(nil))
}

func (l *storeSessionLedger) Claim(sessionID SessionID) (bool, error) {
	ctx := context.Background()
	handle := l.handle(sessionID)
	_, err := l.store.Get(ctx, handle)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrKeyShareNotFound) {
		return false, ErrStorage.WithSession(sessionID).WithCause(err)
	}
	if err := l.store.Put(ctx, handle, []byte(sessionID)); err != nil {
		return false, ErrStorage.WithSession(sessionID).WithCause(err)
	}
	return true, nil
}
