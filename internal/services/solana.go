package services

import (
	"context"
	"fmt"
	"time"

	"meme-coin-aggregator/internal/config"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ChainClient wraps the Solana RPC client. Token addresses are validated
// against the chain's base58 public key format before any upstream lookup.
type ChainClient struct {
	client  *rpc.Client
	timeout time.Duration
}

// NewChainClient creates a client for the configured RPC endpoint
func NewChainClient(cfg config.SolanaConfig) *ChainClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ChainClient{
		client:  rpc.New(cfg.Endpoint),
		timeout: timeout,
	}
}

// ValidateAddress parses a base58 token mint address
func ValidateAddress(address string) (solana.PublicKey, error) {
	pubKey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid token address: %w", err)
	}
	return pubKey, nil
}

// IsHealthy checks that the RPC endpoint answers a latest-blockhash query
func (c *ChainClient) IsHealthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized); err != nil {
		return fmt.Errorf("RPC health check failed: %w", err)
	}
	return nil
}

// Close releases the underlying RPC transport
func (c *ChainClient) Close() error {
	return c.client.Close()
}
