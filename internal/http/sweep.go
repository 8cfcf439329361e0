package http

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goatnetwork/wallet-sweeper/internal/sweep"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	log "github.com/sirupsen/logrus"
)

// toBatch decodes the request. Keys already taken over are released when a
// later wallet is malformed.
func toBatch(req *SweepRequest) (*sweep.Batch, error) {
	batch := &sweep.Batch{
		ID:           req.BatchID,
		Destinations: make(map[types.ChainKind]string, len(req.Destinations)),
	}
	for name, address := range req.Destinations {
		kind, err := types.ParseChainKind(name)
		if err != nil {
			return nil, fmt.Errorf("%w: destination %v", types.ErrStructuralInput, err)
		}
		batch.Destinations[kind] = strings.TrimSpace(address)
	}

	release := func() {
		for _, rec := range batch.Records {
			rec.Key().Release()
		}
	}
	for i, w := range req.Wallets {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(w.PrivateKey), "0x"))
		if err != nil || len(raw) == 0 {
			release()
			return nil, fmt.Errorf("%w: wallet %d private key is not hex", types.ErrStructuralInput, i)
		}
		// an unknown chain only fails its own wallet
		kind, _ := types.ParseChainKind(w.Chain)
		rec, err := types.NewWalletRecord(w.Address, types.NewSecretKey(raw), w.Balance, kind)
		if err != nil {
			release()
			return nil, fmt.Errorf("wallet %d: %w", i, err)
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

func (hs *HTTPServer) handleSweep(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	batch, err := toBatch(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := hs.sweeper.Sweep(c.Request.Context(), batch)
	if err != nil {
		for _, rec := range batch.Records {
			if rec != nil {
				rec.Key().Release()
			}
		}
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrStructuralInput) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, SweepResponse{BatchID: res.BatchID, Attempts: res.Ordered()})
}

func (hs *HTTPServer) handleListSweeps(c *gin.Context) {
	batchID := c.Param("batch")
	attempts, err := hs.state.ListSweepAttempts(batchID)
	if err != nil {
		log.Errorf("List sweep attempts of batch %s error: %v", batchID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	if len(attempts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "attempts": attempts})
}

// handleConfirm re-checks the balances of a journaled batch
func (hs *HTTPServer) handleConfirm(c *gin.Context) {
	batchID := c.Param("batch")
	list, err := hs.state.ListSweepAttempts(batchID)
	if err != nil {
		log.Errorf("List sweep attempts of batch %s error: %v", batchID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	if len(list) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}

	attempts := make([]*types.SweepAttempt, len(list))
	for i := range list {
		attempts[i] = &list[i]
	}
	confirmed, err := hs.sweeper.Confirm(c.Request.Context(), attempts)
	body := gin.H{"batch_id": batchID, "confirmed": confirmed, "attempts": attempts}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}
