package frost

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Key generation events
	AuditEventDKGStarted   AuditEventType = "dkg_started"
	AuditEventDKGFinalized AuditEventType = "dkg_finalized"
	AuditEventDKGAborted   AuditEventType = "dkg_aborted"

	// Signing events
	AuditEventSigningCommitted AuditEventType = "signing_committed"
	AuditEventSigningShared    AuditEventType = "signing_shared"
	AuditEventSigningAborted   AuditEventType = "signing_aborted"

	// Alarms
	AuditEventNonceReuse        AuditEventType = "nonce_reuse"
	AuditEventShareRejected     AuditEventType = "share_rejected"
	AuditEventAggregationFailed AuditEventType = "aggregation_failed"
)

// AuditEventReason represents why an event occurred
type AuditEventReason string

const (
	ReasonRequested         AuditEventReason = "requested"
	ReasonInvalidProof      AuditEventReason = "invalid_proof"
	ReasonInvalidFragment   AuditEventReason = "invalid_fragment"
	ReasonCoordinatorAbort  AuditEventReason = "coordinator_abort"
	ReasonExpired           AuditEventReason = "expired"
	ReasonReplay            AuditEventReason = "replay"
	ReasonInvalidShare      AuditEventReason = "invalid_share"
	ReasonValidationError   AuditEventReason = "validation_error"
	ReasonSelfCheckFailure  AuditEventReason = "self_check_failure"
	ReasonStorageFailure    AuditEventReason = "storage_failure"
	ReasonCommitmentChanged AuditEventReason = "commitment_changed"
)

// AuditEvent represents a single audit event in the FROST library
type AuditEvent struct {
	// Event metadata
	EventID   string           `json:"event_id"`
	Timestamp time.Time        `json:"timestamp"`
	EventType AuditEventType   `json:"event_type"`
	Reason    AuditEventReason `json:"reason"`

	// Context information
	SessionID   SessionID        `json:"session_id,omitempty"`
	Participant ParticipantIndex `json:"participant,omitempty"`
	Offender    ParticipantIndex `json:"offender,omitempty"`
	Threshold   int              `json:"threshold,omitempty"`
	Total       int              `json:"total,omitempty"`

	// Success/failure information
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Additional context
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AuditEventHandler defines the interface for handling audit events
// Applications implement this interface to record events according to their needs
type AuditEventHandler interface {
	// OnKeyGeneration is called on DKG progress and completion
	OnKeyGeneration(event *AuditEvent)

	// OnSigning is called on signing progress
	OnSigning(event *AuditEvent)

	// OnProtocolAbort is called whenever a session is aborted
	OnProtocolAbort(event *AuditEvent)

	// OnSecurityAlert is called for replay attempts and verification alarms.
	// These must reach an operator.
	OnSecurityAlert(event *AuditEvent)
}

// NullAuditHandler is a no-op implementation of AuditEventHandler
// Used when no audit handling is needed
type NullAuditHandler struct{}

func (n *NullAuditHandler) OnKeyGeneration(event *AuditEvent) {}
func (n *NullAuditHandler) OnSigning(event *AuditEvent)       {}
func (n *NullAuditHandler) OnProtocolAbort(event *AuditEvent) {}
func (n *NullAuditHandler) OnSecurityAlert(event *AuditEvent) {}

// ZapAuditHandler writes audit events to a zap logger.
// Security alerts are logged at error level.
type ZapAuditHandler struct {
	logger *zap.Logger
}

// NewZapAuditHandler creates a handler logging under the "audit" name
func NewZapAuditHandler(logger *zap.Logger) *ZapAuditHandler {
	return &ZapAuditHandler{logger: logger.Named("audit")}
}

func (h *ZapAuditHandler) fields(event *AuditEvent) []zap.Field {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("reason", string(event.Reason)),
		zap.String("session_id", string(event.SessionID)),
		zap.Uint32("participant", uint32(event.Participant)),
		zap.Bool("success", event.Success),
	}
	if event.Offender != 0 {
		fields = append(fields, zap.Uint32("offender", uint32(event.Offender)))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}
	return fields
}

func (h *ZapAuditHandler) OnKeyGeneration(event *AuditEvent) {
	h.logger.Info("key generation", h.fields(event)...)
}

func (h *ZapAuditHandler) OnSigning(event *AuditEvent) {
	h.logger.Debug("signing", h.fields(event)...)
}

func (h *ZapAuditHandler) OnProtocolAbort(event *AuditEvent) {
	h.logger.Warn("protocol abort", h.fields(event)...)
}

func (h *ZapAuditHandler) OnSecurityAlert(event *AuditEvent) {
	h.logger.Error("security alert", h.fields(event)...)
}

// AuditEventBuilder helps construct audit events with proper defaults
type AuditEventBuilder struct {
	event *AuditEvent
}

// NewAuditEventBuilder creates a new audit event builder
func NewAuditEventBuilder(eventType AuditEventType, reason AuditEventReason) *AuditEventBuilder {
	return &AuditEventBuilder{
		event: &AuditEvent{
			EventID:   uuid.NewString(),
			Timestamp: time.Now(),
			EventType: eventType,
			Reason:    reason,
			Success:   true, // Default to success, can be overridden
			Metadata:  make(map[string]interface{}),
		},
	}
}

// WithSession sets the session and local participant
func (b *AuditEventBuilder) WithSession(sessionID SessionID, participant ParticipantIndex) *AuditEventBuilder {
	b.event.SessionID = sessionID
	b.event.Participant = participant
	return b
}

// WithParams sets the threshold parameters
func (b *AuditEventBuilder) WithParams(params ThresholdParams) *AuditEventBuilder {
	b.event.Threshold = params.Threshold
	b.event.Total = params.Total
	return b
}

// WithError marks the event as failed and records the offender, if any
func (b *AuditEventBuilder) WithError(err error) *AuditEventBuilder {
	b.event.Success = false
	if err != nil {
		b.event.Error = err.Error()
		if offender, ok := OffenderOf(err); ok {
			b.event.Offender = offender
		}
	}
	return b
}

// WithMetadata adds metadata to the event
func (b *AuditEventBuilder) WithMetadata(key string, value interface{}) *AuditEventBuilder {
	b.event.Metadata[key] = value
	return b
}

// Build returns the constructed audit event
func (b *AuditEventBuilder) Build() *AuditEvent {
	return b.event
}
