package btc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
)

// NetworkFee is a fee rate in sat/vB per confirmation target
type NetworkFee struct {
	FastestFee  uint64 `json:"fastest_fee"`
	HalfHourFee uint64 `json:"half_hour_fee"`
	HourFee     uint64 `json:"hour_fee"`
}

type NetworkFeeFetcher interface {
	GetNetworkFee(ctx context.Context) (*NetworkFee, error)
}

type MempoolFeesResp struct {
	FastestFee  uint64 `json:"fastestFee"`
	HalfHourFee uint64 `json:"halfHourFee"`
	HourFee     uint64 `json:"hourFee"`
	EconomyFee  uint64 `json:"economyFee"`
	MinimumFee  uint64 `json:"minimumFee"`
}

// regtest nodes usually have no fee history
const defaultRegtestFee = 3

// MemPoolFeeFetcher asks mempool.space for recommended fees and falls back
// to the node's estimatesmartfee
type MemPoolFeeFetcher struct {
	rpc        *BTCRPCService
	httpClient *http.Client
	url        string
	net        *chaincfg.Params
}

var _ NetworkFeeFetcher = (*MemPoolFeeFetcher)(nil)

// NewMemPoolFeeFetcher uses feeAPI when set, else the public mempool.space
// endpoint for net. Networks without one only use the node; only regtest
// falls back to a fixed rate when the node has no estimate.
func NewMemPoolFeeFetcher(rpc *BTCRPCService, net *chaincfg.Params, feeAPI string, timeout time.Duration) *MemPoolFeeFetcher {
	url := feeAPI
	if url == "" {
		switch net {
		case &chaincfg.MainNetParams:
			url = "https://mempool.space/api/v1/fees/recommended"
		case &chaincfg.TestNet3Params:
			url = "https://mempool.space/testnet/api/v1/fees/recommended"
		}
	}
	return &MemPoolFeeFetcher{rpc: rpc, httpClient: &http.Client{Timeout: timeout}, url: url, net: net}
}

func (f *MemPoolFeeFetcher) GetNetworkFee(ctx context.Context) (*NetworkFee, error) {
	if f.rpc == nil {
		return nil, errors.New("btc client is not set")
	}
	if len(f.url) == 0 {
		fee, err := getFeeRateFromBtcNode(ctx, f.rpc)
		if err != nil && f.net != &chaincfg.RegressionNetParams {
			return nil, err
		}
		if err != nil {
			log.Warnf("Failed to get fee rate from btc node: %v, set to default for regtest network fee", err)
			return &NetworkFee{
				FastestFee:  defaultRegtestFee,
				HalfHourFee: defaultRegtestFee,
				HourFee:     defaultRegtestFee,
			}, nil
		}
		return fee, nil
	}
	fee, err := f.getFeeRate(ctx, f.url)
	if err != nil {
		log.Errorf("Failed to get fee rate from mempool, using btc node: %v", err)
		return getFeeRateFromBtcNode(ctx, f.rpc)
	}
	return fee, nil
}

func (f *MemPoolFeeFetcher) getFeeRate(ctx context.Context, url string) (*NetworkFee, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mempool fee api status %d", resp.StatusCode)
	}

	var feeResp MempoolFeesResp
	if err := json.NewDecoder(resp.Body).Decode(&feeResp); err != nil {
		return nil, err
	}
	if feeResp.HalfHourFee == 0 {
		return nil, errors.New("mempool fee api returned zero half hour fee")
	}

	return &NetworkFee{
		FastestFee:  feeResp.FastestFee,
		HalfHourFee: feeResp.HalfHourFee,
		HourFee:     feeResp.HourFee,
	}, nil
}

// get fee rate from btc node
func getFeeRateFromBtcNode(ctx context.Context, rpc *BTCRPCService) (*NetworkFee, error) {
	fastestFee, err := rpc.EstimateSmartFee(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate smart fee 1: %w", err)
	}
	halfHourFee, err := rpc.EstimateSmartFee(ctx, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate smart fee 3: %w", err)
	}
	hourFee, err := rpc.EstimateSmartFee(ctx, 6)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate smart fee 6: %w", err)
	}
	return &NetworkFee{
		FastestFee:  fastestFee,
		HalfHourFee: halfHourFee,
		HourFee:     hourFee,
	}, nil
}
