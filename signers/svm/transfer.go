package svm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solventlabs/x402pay"
)

const (
	// baseFeeLamports is the per-signature network fee.
	baseFeeLamports = 5_000

	// ataRentLamports is the rent-exempt minimum for a token account,
	// owed when the transfer has to create the recipient's ATA.
	ataRentLamports = 2_039_280

	confirmPollInterval = 500 * time.Millisecond
	confirmTimeout      = 60 * time.Second
)

// buildTransfer assembles and signs a transfer-checked transaction from the
// payer's associated token account to the recipient's, creating the latter
// when it does not exist yet. Token and lamport balances are verified before
// any instruction is built so an underfunded wallet fails without touching
// the chain.
func (s *Signer) buildTransfer(ctx context.Context, mint, recipient solana.PublicKey, amount uint64, decimals uint8) (*solana.Transaction, error) {
	sourceATA, _, err := solana.FindAssociatedTokenAddress(s.publicKey, mint)
	if err != nil {
		return nil, fmt.Errorf("derive source token account: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}

	if err := s.checkTokenBalance(ctx, sourceATA, amount); err != nil {
		return nil, err
	}

	createDest, err := s.needsCreate(ctx, destATA)
	if err != nil {
		return nil, err
	}

	if err := s.checkLamports(ctx, createDest); err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	if createDest {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(s.publicKey, recipient, mint).Build())
	}
	instructions = append(instructions,
		token.NewTransferCheckedInstructionBuilder().
			SetAmount(amount).
			SetDecimals(decimals).
			SetSourceAccount(sourceATA).
			SetDestinationAccount(destATA).
			SetMintAccount(mint).
			SetOwnerAccount(s.publicKey).
			Build())

	recent, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeNetworkError, "failed to fetch blockhash", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(s.publicKey),
	)
	if err != nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeSigningFailed, "failed to build transaction", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	}); err != nil {
		return nil, x402pay.NewPaymentError(x402pay.ErrCodeSigningFailed, "failed to sign transaction", err)
	}

	return tx, nil
}

// checkTokenBalance verifies the source account holds at least amount.
// A missing source account reads as zero.
func (s *Signer) checkTokenBalance(ctx context.Context, sourceATA solana.PublicKey, amount uint64) error {
	balanceRes, err := s.client.GetTokenAccountBalance(ctx, sourceATA, rpc.CommitmentConfirmed)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return x402pay.ErrInsufficientFunds
		}
		return x402pay.NewPaymentError(x402pay.ErrCodeNetworkError, "failed to fetch token balance", err)
	}

	balance, ok := new(big.Int).SetString(balanceRes.Value.Amount, 10)
	if !ok || balance.Cmp(new(big.Int).SetUint64(amount)) < 0 {
		return x402pay.ErrInsufficientFunds
	}
	return nil
}

// needsCreate reports whether the destination token account is absent.
func (s *Signer) needsCreate(ctx context.Context, destATA solana.PublicKey) (bool, error) {
	info, err := s.client.GetAccountInfo(ctx, destATA)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return true, nil
		}
		return false, x402pay.NewPaymentError(x402pay.ErrCodeNetworkError, "failed to fetch destination account", err)
	}
	return info == nil || info.Value == nil, nil
}

// checkLamports verifies the payer can cover the signature fee, plus the
// destination account's rent exemption when one must be created.
func (s *Signer) checkLamports(ctx context.Context, createDest bool) error {
	balanceRes, err := s.client.GetBalance(ctx, s.publicKey, rpc.CommitmentConfirmed)
	if err != nil {
		return x402pay.NewPaymentError(x402pay.ErrCodeNetworkError, "failed to fetch lamport balance", err)
	}

	required := uint64(baseFeeLamports)
	if createDest {
		required += ataRentLamports
	}
	if balanceRes.Value < required {
		return x402pay.ErrInsufficientGas
	}
	return nil
}

// settle submits the transaction and polls until it reaches confirmed or
// finalized commitment.
func (s *Signer) settle(ctx context.Context, tx *solana.Transaction) error {
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return x402pay.NewPaymentError(x402pay.ErrCodeSettlementRejected, "failed to submit transaction", err)
	}

	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return x402pay.NewPaymentError(x402pay.ErrCodeSettlementRejected, "confirmation timed out", ctx.Err()).
				WithDetails("signature", sig.String())
		case <-ticker.C:
			statuses, err := s.client.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				continue
			}
			if len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			status := statuses.Value[0]
			if status.Err != nil {
				return x402pay.NewPaymentError(x402pay.ErrCodeSettlementRejected, "transaction failed on chain", x402pay.ErrSettlementFailed).
					WithDetails("signature", sig.String()).
					WithDetails("error", fmt.Sprintf("%v", status.Err))
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}
