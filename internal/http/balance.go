package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
)

// handleBalance answers from the balance cache. When the backend cannot be
// reached the last stored record is attached for reference, it is never
// reported as the balance.
func (hs *HTTPServer) handleBalance(c *gin.Context) {
	address := c.Param("address")
	kind, err := types.ParseChainKind(c.Param("chain"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": types.ReasonUnsupportedChain})
		return
	}

	balance, err := hs.balances.GetBalance(c.Request.Context(), address, kind)
	if err == nil {
		c.JSON(http.StatusOK, BalanceResponse{Address: address, Chain: kind, Balance: balance})
		return
	}

	reason := types.ClassifyError(err)
	if errors.Is(err, types.ErrInvalidAddress) || errors.Is(err, types.ErrUnsupportedChain) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": reason})
		return
	}
	body := gin.H{"error": err.Error(), "reason": reason}
	if rec, recErr := hs.balances.LastRecord(address, kind); recErr == nil && rec != nil {
		body["last_record"] = rec
	}
	c.JSON(http.StatusServiceUnavailable, body)
}
