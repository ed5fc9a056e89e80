package signer

import (
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
)

// LocalSigner signs with an in-process Stellar keypair instead of the
// custody authority. Only the test environment constructs one; production
// never holds a signing secret.
type LocalSigner struct {
	kp *keypair.Full
}

// NewLocalSigner parses a Stellar secret seed into a local signer.
func NewLocalSigner(secret string) (*LocalSigner, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, fmt.Errorf("test signer secret is not a valid seed: %w", err)
	}
	return &LocalSigner{kp: kp}, nil
}

// Address returns the signer's public Stellar address.
func (l *LocalSigner) Address() string {
	return l.kp.Address()
}

// Sign signs the transaction for the given network.
func (l *LocalSigner) Sign(tx *txnbuild.Transaction, networkPassphrase string) (*txnbuild.Transaction, error) {
	signed, err := tx.Sign(networkPassphrase, l.kp)
	if err != nil {
		return nil, fmt.Errorf("local signing failed: %w", err)
	}
	return signed, nil
}
