package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
)

// Probe is the liveness capability of one backend. Chain adapters satisfy it.
type Probe interface {
	BackendID() string
	IsReachable(ctx context.Context) error
}

type solanaHealthClient interface {
	GetHealth(ctx context.Context) (string, error)
}

// SolanaProbe calls getHealth on a Solana RPC node
type SolanaProbe struct {
	id     string
	client solanaHealthClient
}

func NewSolanaProbe(id, rpcURL string) *SolanaProbe {
	return &SolanaProbe{id: id, client: rpc.New(rpcURL)}
}

func (p *SolanaProbe) BackendID() string { return p.id }

func (p *SolanaProbe) IsReachable(ctx context.Context) error {
	out, err := p.client.GetHealth(ctx)
	if err != nil {
		return types.Unreachable(p.id, err)
	}
	if out != rpc.HealthOk {
		return types.Malformed(p.id, out, errors.New("node is not healthy"))
	}
	return nil
}

// HTTPProbe expects a 2xx from a GET on url
type HTTPProbe struct {
	id     string
	url    string
	client *http.Client
}

func NewHTTPProbe(id, url string) *HTTPProbe {
	return &HTTPProbe{id: id, url: url, client: &http.Client{}}
}

func (p *HTTPProbe) BackendID() string { return p.id }

func (p *HTTPProbe) IsReachable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrStructuralInput, p.id, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return types.Unreachable(p.id, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Unreachable(p.id, fmt.Errorf("http status %d", resp.StatusCode))
	}
	return nil
}
