package adapter

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
)

// TransactionSubmitter broadcasts signed transactions to the network
type TransactionSubmitter interface {
	SubmitSignedTransaction(ctx context.Context, raw []byte) (string, error)
}

// AlgodClient submits signed transactions through an algod node
type AlgodClient struct {
	client *algod.Client
}

// NewAlgodClient creates a client for the algod REST API at url
func NewAlgodClient(url, token string) (*AlgodClient, error) {
	client, err := algod.MakeClient(url, token)
	if err != nil {
		return nil, fmt.Errorf("algod: %w", err)
	}
	return &AlgodClient{client: client}, nil
}

// SubmitSignedTransaction sends msgpack encoded signed transaction bytes and
// returns the transaction id assigned by the node
func (c *AlgodClient) SubmitSignedTransaction(ctx context.Context, raw []byte) (string, error) {
	txID, err := c.client.SendRawTransaction(raw).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("algod submit failed: %w", err)
	}
	return txID, nil
}

// Ping checks that the node answers its health endpoint
func (c *AlgodClient) Ping(ctx context.Context) error {
	return c.client.HealthCheck().Do(ctx)
}
