package signer

import (
	"encoding"
	"encoding/hex"

	"github.com/pkg/errors"

	frost "github.com/canopy-network/frost-taproot"
)

// HTTP routes of a participant node
const (
	RouteDKGStatus    = "/dkg/status"
	RouteDKGRound1    = "/dkg/round1"
	RouteDKGRound2    = "/dkg/round2"
	RouteDKGRound3    = "/dkg/round3"
	RouteSignRound1   = "/sign/round1"
	RouteSignRound2   = "/sign/round2"
	RouteSessionAbort = "/session/abort"
)

// Request and response bodies. Protocol packages travel as hex-encoded CBOR.

type SessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

type DKGRound1Response struct {
	Package string `json:"package"`
}

type DKGRound2Request struct {
	SessionID string   `json:"session_id" binding:"required"`
	Packages  []string `json:"packages"`
}

type DKGRound2Response struct {
	Fragments []string `json:"fragments"`
}

type DKGRound3Request struct {
	SessionID string   `json:"session_id" binding:"required"`
	Fragments []string `json:"fragments"`
}

type DKGRound3Response struct {
	PublicKey string `json:"public_key"`
	GroupKey  string `json:"group_key"`
}

type StatusResponse struct {
	ParticipantID uint32 `json:"participant_id"`
	HasKey        bool   `json:"has_key"`
	KeySession    string `json:"key_session,omitempty"`
	GroupKey      string `json:"group_key,omitempty"`
	PublicKey     string `json:"public_key,omitempty"`
}

type SignRound1Response struct {
	Commitment string `json:"commitment"`
}

type SignRound2Request struct {
	SessionID   string   `json:"session_id" binding:"required"`
	Commitments []string `json:"commitments"`
	Message     string   `json:"message"`
}

type SignRound2Response struct {
	Share string `json:"share"`
}

// ErrorResponse carries enough of a *frost.FROSTError to rebuild it remotely.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
	Offender uint32 `json:"offender,omitempty"`
	Details  string `json:"details,omitempty"`
}

// EncodeHex marshals v and hex encodes it.
func EncodeHex(v encoding.BinaryMarshaler) (string, error) {
	b, err := v.MarshalBinary()
	if err != nil {
		return "", errors.Wrap(err, "marshal")
	}
	return hex.EncodeToString(b), nil
}

// EncodeHexList encodes every element of vs.
func EncodeHexList[T encoding.BinaryMarshaler](vs []T) ([]string, error) {
	out := make([]string, len(vs))
	for i, v := range vs {
		s, err := EncodeHex(v)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// DecodeHex hex decodes s into v.
func DecodeHex(s string, v encoding.BinaryUnmarshaler) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return frost.ErrMalformedPackage.WithCause(err)
	}
	return v.UnmarshalBinary(b)
}

// DecodeHexList decodes every element of ss with newT allocating the targets.
func DecodeHexList[T encoding.BinaryUnmarshaler](ss []string, newT func() T) ([]T, error) {
	out := make([]T, len(ss))
	for i, s := range ss {
		v := newT()
		if err := DecodeHex(s, v); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ToErrorResponse flattens err for the wire.
func ToErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}
	if frostErr, ok := frost.AsFROSTError(err); ok {
		resp.Code = frostErr.Code
		resp.Category = string(frostErr.Category)
		resp.Offender = uint32(frostErr.Offender)
		resp.Details = frostErr.Details
	}
	return resp
}

// FromErrorResponse rebuilds the error a remote participant returned.
func FromErrorResponse(resp ErrorResponse) error {
	sentinel, ok := frost.LookupError(resp.Code)
	if !ok {
		return errors.New(resp.Error)
	}
	err := sentinel.WithDetails("%s", resp.Details)
	if resp.Offender != 0 {
		err = err.WithOffender(frost.ParticipantIndex(resp.Offender))
	}
	return err
}
