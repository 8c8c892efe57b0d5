package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"github.com/layer-3/fhebridge/service"
	"go.uber.org/zap"
)

// Account is a local account that can approve grants
type Account interface {
	ports.Signer
	Address() common.Address
}

// BridgeHandlers contains HTTP handlers for bridge endpoints
type BridgeHandlers struct {
	bridge  *service.Bridge
	dial    ports.Dialer
	account Account
	logger  *zap.Logger
}

// NewBridgeHandlers creates new bridge handlers. account may be nil, in which
// case grants cannot be issued over HTTP.
func NewBridgeHandlers(bridge *service.Bridge, dial ports.Dialer, account Account, logger *zap.Logger) *BridgeHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BridgeHandlers{
		bridge:  bridge,
		dial:    dial,
		account: account,
		logger:  logger,
	}
}

type chainResponse struct {
	ChainID uint64 `json:"chainId"`
	Mode    string `json:"mode"`
	RPCURL  string `json:"rpcUrl,omitempty"`
}

func sessionResponse(s *service.Session) chainResponse {
	return chainResponse{
		ChainID: s.ChainID(),
		Mode:    s.Classification.Mode.String(),
		RPCURL:  s.Classification.RPCURL,
	}
}

// Chain returns the live session
func (h *BridgeHandlers) Chain(c *gin.Context) {
	s := h.bridge.Current()
	if s == nil {
		h.fail(c, core.ErrChainUnavailable)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(s))
}

// Attach switches the bridge to the chain behind rpcUrl
func (h *BridgeHandlers) Attach(c *gin.Context) {
	var req struct {
		RPCURL string `json:"rpcUrl" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	conn, err := h.dial(c.Request.Context(), req.RPCURL)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %w", core.ErrChainUnavailable, err))
		return
	}
	s, err := h.bridge.Attach(c.Request.Context(), conn)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(s))
}

type fieldRequest struct {
	Value uint64 `json:"value"`
	Bits  uint8  `json:"bits" binding:"required"`
}

// Inputs encrypts values for a contract call
func (h *BridgeHandlers) Inputs(c *gin.Context) {
	var req struct {
		Contract common.Address `json:"contract" binding:"required"`
		Owner    common.Address `json:"owner" binding:"required"`
		Values   []fieldRequest `json:"values" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	fields := make([]core.Field, len(req.Values))
	for i, v := range req.Values {
		fields[i] = core.Field{Value: v.Value, Width: core.Width(v.Bits)}
	}

	in, err := h.bridge.Encrypt(c.Request.Context(), req.Contract, req.Owner, fields)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

type grantRequest struct {
	Contract common.Address `json:"contract" binding:"required"`
	User     common.Address `json:"user" binding:"required"`
}

// Grants returns the public part of the user's grant, signing a new one when needed
func (h *BridgeHandlers) Grants(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	g, ok := h.grant(c, req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"publicKey":         g.PublicKey,
		"signature":         g.Signature,
		"userAddress":       g.UserAddress,
		"contractAddresses": g.ContractAddresses,
		"startTimestamp":    g.StartTimestamp,
		"durationDays":      g.DurationDays,
		"expiresAt":         g.ExpiresAt().Unix(),
	})
}

// Revoke forgets the user's stored grant
func (h *BridgeHandlers) Revoke(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.bridge.Revoke(c.Request.Context(), req.Contract, req.User); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Decrypt reveals handles the user is allowed to read
func (h *BridgeHandlers) Decrypt(c *gin.Context) {
	var req struct {
		grantRequest
		Handles []core.HandleContractPair `json:"handles" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	g, ok := h.grant(c, req.grantRequest)
	if !ok {
		return
	}
	values, err := h.bridge.Decrypt(c.Request.Context(), g, req.Handles)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}

// Health reports liveness
func (h *BridgeHandlers) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s := h.bridge.Current(); s != nil {
		resp["chainId"] = s.ChainID()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BridgeHandlers) grant(c *gin.Context, req grantRequest) (*core.DecryptionGrant, bool) {
	if h.account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No signing account configured"})
		return nil, false
	}
	if h.account.Address() != req.User {
		c.JSON(http.StatusForbidden, gin.H{"error": "User is not the configured account"})
		return nil, false
	}

	g, err := h.bridge.Grant(c.Request.Context(), req.Contract, req.User, h.account)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return g, true
}

func (h *BridgeHandlers) fail(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError

	// Map error kinds to status codes
	switch {
	case errors.Is(err, core.ErrValueOutOfRange):
		statusCode = http.StatusBadRequest
	case errors.Is(err, core.ErrGrantDenied):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, core.ErrGrantScopeMismatch):
		statusCode = http.StatusForbidden
	case errors.Is(err, core.ErrStaleSession):
		statusCode = http.StatusConflict
	case errors.Is(err, core.ErrDecryptionFailed), errors.Is(err, core.ErrEncryptionFailed):
		statusCode = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrChainUnavailable):
		statusCode = http.StatusServiceUnavailable
	case errors.Is(err, core.ErrSDKLoadFailed), errors.Is(err, core.ErrSDKInitFailed):
		statusCode = http.StatusBadGateway
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		h.logger.Debug("Request rejected", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(statusCode, gin.H{"error": core.Message(err)})
}
