package coordinator

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	frost "github.com/canopy-network/frost-taproot"
	"github.com/canopy-network/frost-taproot/signer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResponseSize bounds how much of a signer response is read.
const maxResponseSize = 4 << 20

// HTTPParticipant talks to a signer.Server.
type HTTPParticipant struct {
	id      frost.ParticipantIndex
	baseURL string
	client  *http.Client
}

var _ Participant = (*HTTPParticipant)(nil)

// NewHTTPParticipant creates a client for participant id at baseURL. A nil
// client means http.DefaultClient; deadlines come from the request context.
func NewHTTPParticipant(id frost.ParticipantIndex, baseURL string, client *http.Client) *HTTPParticipant {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPParticipant{id: id, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// NewHTTPParticipants numbers urls 1..N in order.
func NewHTTPParticipants(urls []string, client *http.Client) []Participant {
	out := make([]Participant, len(urls))
	for i, u := range urls {
		out[i] = NewHTTPParticipant(frost.ParticipantIndex(i+1), u, client)
	}
	return out
}

func (h *HTTPParticipant) ID() frost.ParticipantIndex { return h.id }

func (h *HTTPParticipant) do(ctx context.Context, method, route string, req, resp interface{}) error {
	var body io.Reader
	if req != nil {
		payload, err := json.Marshal(req)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, h.baseURL+route, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "%s %s", method, route)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if httpResp.StatusCode >= http.StatusBadRequest {
		var errResp signer.ErrorResponse
		if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error == "" {
			return errors.Errorf("%s %s: status %d", method, route, httpResp.StatusCode)
		}
		return signer.FromErrorResponse(errResp)
	}
	if resp == nil || httpResp.StatusCode == http.StatusNoContent {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, resp), "decode response")
}

func (h *HTTPParticipant) Status(ctx context.Context) (*signer.Status, error) {
	var resp signer.StatusResponse
	if err := h.do(ctx, http.MethodGet, signer.RouteDKGStatus, nil, &resp); err != nil {
		return nil, err
	}
	st := &signer.Status{
		ParticipantID: frost.ParticipantIndex(resp.ParticipantID),
		HasKey:        resp.HasKey,
		KeySession:    frost.SessionID(resp.KeySession),
	}
	if resp.PublicKey != "" {
		st.PublicKey = new(frost.PublicKeyPackage)
		if err := signer.DecodeHex(resp.PublicKey, st.PublicKey); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (h *HTTPParticipant) DKGRound1(ctx context.Context, sessionID frost.SessionID) (*frost.Round1Package, error) {
	var resp signer.DKGRound1Response
	if err := h.do(ctx, http.MethodPost, signer.RouteDKGRound1, signer.SessionRequest{SessionID: string(sessionID)}, &resp); err != nil {
		return nil, err
	}
	pkg := new(frost.Round1Package)
	return pkg, signer.DecodeHex(resp.Package, pkg)
}

func (h *HTTPParticipant) DKGRound2(ctx context.Context, sessionID frost.SessionID, packages []*frost.Round1Package) ([]*frost.EncryptedFragment, error) {
	encoded, err := signer.EncodeHexList(packages)
	if err != nil {
		return nil, err
	}
	var resp signer.DKGRound2Response
	req := signer.DKGRound2Request{SessionID: string(sessionID), Packages: encoded}
	if err := h.do(ctx, http.MethodPost, signer.RouteDKGRound2, req, &resp); err != nil {
		return nil, err
	}
	return signer.DecodeHexList(resp.Fragments, func() *frost.EncryptedFragment { return new(frost.EncryptedFragment) })
}

func (h *HTTPParticipant) DKGFinalize(ctx context.Context, sessionID frost.SessionID, fragments []*frost.EncryptedFragment) (*frost.PublicKeyPackage, error) {
	encoded, err := signer.EncodeHexList(fragments)
	if err != nil {
		return nil, err
	}
	var resp signer.DKGRound3Response
	req := signer.DKGRound3Request{SessionID: string(sessionID), Fragments: encoded}
	if err := h.do(ctx, http.MethodPost, signer.RouteDKGRound3, req, &resp); err != nil {
		return nil, err
	}
	pub := new(frost.PublicKeyPackage)
	return pub, signer.DecodeHex(resp.PublicKey, pub)
}

func (h *HTTPParticipant) SignRound1(ctx context.Context, sessionID frost.SessionID) (*frost.SigningCommitment, error) {
	var resp signer.SignRound1Response
	if err := h.do(ctx, http.MethodPost, signer.RouteSignRound1, signer.SessionRequest{SessionID: string(sessionID)}, &resp); err != nil {
		return nil, err
	}
	commitment := new(frost.SigningCommitment)
	return commitment, signer.DecodeHex(resp.Commitment, commitment)
}

func (h *HTTPParticipant) SignRound2(ctx context.Context, sessionID frost.SessionID, commitments []*frost.SigningCommitment, message []byte) (*frost.SignatureShare, error) {
	encoded, err := signer.EncodeHexList(commitments)
	if err != nil {
		return nil, err
	}
	req := signer.SignRound2Request{
		SessionID:   string(sessionID),
		Commitments: encoded,
		Message:     hex.EncodeToString(message),
	}
	var resp signer.SignRound2Response
	if err := h.do(ctx, http.MethodPost, signer.RouteSignRound2, req, &resp); err != nil {
		return nil, err
	}
	share := new(frost.SignatureShare)
	return share, signer.DecodeHex(resp.Share, share)
}

func (h *HTTPParticipant) Abort(ctx context.Context, sessionID frost.SessionID) error {
	return h.do(ctx, http.MethodPost, signer.RouteSessionAbort, signer.SessionRequest{SessionID: string(sessionID)}, nil)
}
