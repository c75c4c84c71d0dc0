package signer

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	frost "github.com/canopy-network/frost-taproot"
)

// Server exposes a Node over HTTP.
type Server struct {
	node   *Node
	logger *zap.Logger
	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the gin router for node
func NewServer(node *Node, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{node: node, logger: logger.Named("http"), engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.loggerMiddleware)

	s.engine.GET(RouteDKGStatus, s.handleStatus)
	s.engine.POST(RouteDKGRound1, s.handleDKGRound1)
	s.engine.POST(RouteDKGRound2, s.handleDKGRound2)
	s.engine.POST(RouteDKGRound3, s.handleDKGRound3)
	s.engine.POST(RouteSignRound1, s.handleSignRound1)
	s.engine.POST(RouteSignRound2, s.handleSignRound2)
	s.engine.POST(RouteSessionAbort, s.handleAbort)
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Wrap(s.srv.Shutdown(shutdownCtx), "shutdown")
	}
}

func (s *Server) loggerMiddleware(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("cost", time.Since(start)))
}

func statusFor(err error) int {
	frostErr, ok := frost.AsFROSTError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch frostErr.Category {
	case frost.ErrorCategoryValidation:
		return http.StatusBadRequest
	case frost.ErrorCategoryState, frost.ErrorCategoryReplayOrReuse:
		return http.StatusConflict
	case frost.ErrorCategoryProtocolAbort, frost.ErrorCategoryThresholdNotMet:
		return http.StatusUnprocessableEntity
	case frost.ErrorCategoryTimeout:
		return http.StatusGatewayTimeout
	case frost.ErrorCategoryStorage:
		if errors.Is(err, frost.ErrKeyShareNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		s.logger.Warn("request rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, ToErrorResponse(err))
}

func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.fail(c, frost.ErrMalformedPackage.WithCause(err))
		return false
	}
	return true
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.node.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := StatusResponse{
		ParticipantID: uint32(st.ParticipantID),
		HasKey:        st.HasKey,
		KeySession:    string(st.KeySession),
	}
	if st.PublicKey != nil {
		resp.GroupKey = hex.EncodeToString(st.PublicKey.GroupPublicKey.XOnlyBytes())
		if resp.PublicKey, err = EncodeHex(st.PublicKey); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDKGRound1(c *gin.Context) {
	var req SessionRequest
	if !s.bind(c, &req) {
		return
	}
	pkg, err := s.node.DKGRound1(c.Request.Context(), frost.SessionID(req.SessionID))
	if err != nil {
		s.fail(c, err)
		return
	}
	encoded, err := EncodeHex(pkg)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DKGRound1Response{Package: encoded})
}

func (s *Server) handleDKGRound2(c *gin.Context) {
	var req DKGRound2Request
	if !s.bind(c, &req) {
		return
	}
	packages, err := DecodeHexList(req.Packages, func() *frost.Round1Package { return new(frost.Round1Package) })
	if err != nil {
		s.fail(c, err)
		return
	}
	fragments, err := s.node.DKGRound2(c.Request.Context(), frost.SessionID(req.SessionID), packages)
	if err != nil {
		s.fail(c, err)
		return
	}
	encoded, err := EncodeHexList(fragments)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DKGRound2Response{Fragments: encoded})
}

func (s *Server) handleDKGRound3(c *gin.Context) {
	var req DKGRound3Request
	if !s.bind(c, &req) {
		return
	}
	fragments, err := DecodeHexList(req.Fragments, func() *frost.EncryptedFragment { return new(frost.EncryptedFragment) })
	if err != nil {
		s.fail(c, err)
		return
	}
	pub, err := s.node.DKGFinalize(c.Request.Context(), frost.SessionID(req.SessionID), fragments)
	if err != nil {
		s.fail(c, err)
		return
	}
	encoded, err := EncodeHex(pub)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DKGRound3Response{
		PublicKey: encoded,
		GroupKey:  hex.EncodeToString(pub.GroupPublicKey.XOnlyBytes()),
	})
}

func (s *Server) handleSignRound1(c *gin.Context) {
	var req SessionRequest
	if !s.bind(c, &req) {
		return
	}
	commitment, err := s.node.SignRound1(c.Request.Context(), frost.SessionID(req.SessionID))
	if err != nil {
		s.fail(c, err)
		return
	}
	encoded, err := EncodeHex(commitment)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SignRound1Response{Commitment: encoded})
}

func (s *Server) handleSignRound2(c *gin.Context) {
	var req SignRound2Request
	if !s.bind(c, &req) {
		return
	}
	commitments, err := DecodeHexList(req.Commitments, func() *frost.SigningCommitment { return new(frost.SigningCommitment) })
	if err != nil {
		s.fail(c, err)
		return
	}
	message, err := hex.DecodeString(req.Message)
	if err != nil {
		s.fail(c, frost.ErrMalformedPackage.WithCause(err))
		return
	}
	share, err := s.node.SignRound2(c.Request.Context(), frost.SessionID(req.SessionID), commitments, message)
	if err != nil {
		s.fail(c, err)
		return
	}
	encoded, err := EncodeHex(share)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SignRound2Response{Share: encoded})
}

func (s *Server) handleAbort(c *gin.Context) {
	var req SessionRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.node.Abort(c.Request.Context(), frost.SessionID(req.SessionID)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
