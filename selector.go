package x402pay

import (
	"sort"
	"strings"
)

// Selector picks exactly one (requirement, signer) pair from a challenge's
// accepted options and the wallets available to the agent.
type Selector interface {
	Select(accepts []PaymentRequirement, signers []Signer) (*PaymentRequirement, Signer, error)
}

// ChainPreferenceSelector implements the default selection policy:
//
//  1. Walk chain families in preference order (Solana first by default —
//     settlement there is cheaper and faster in this deployment; this is
//     policy, not protocol, hence configurable).
//  2. Within a family, keep the server's ordering of accepts.
//  3. For the first requirement some signer can satisfy, rank candidate
//     signers by signer priority, then token priority, then configuration
//     order.
//
// Requirements with malformed amounts or unknown networks are skipped, never
// guessed at.
type ChainPreferenceSelector struct {
	// Preference is the family order to try. Defaults to Solana, then EVM.
	Preference []ChainKind
}

// NewChainPreferenceSelector returns a selector with the given family order,
// or the default Solana-then-EVM order when none is given.
func NewChainPreferenceSelector(preference ...ChainKind) *ChainPreferenceSelector {
	if len(preference) == 0 {
		preference = []ChainKind{ChainSolana, ChainEVM}
	}
	return &ChainPreferenceSelector{Preference: preference}
}

// Select implements Selector.
func (s *ChainPreferenceSelector) Select(accepts []PaymentRequirement, signers []Signer) (*PaymentRequirement, Signer, error) {
	if len(accepts) == 0 {
		return nil, nil, NewPaymentError(ErrCodeInvalidRequirements, "challenge offers no payment options", ErrInvalidRequirements)
	}
	if len(signers) == 0 {
		return nil, nil, NewPaymentError(ErrCodeNoValidSigner, "no signers configured", ErrNoValidSigner)
	}

	for _, kind := range s.Preference {
		for i := range accepts {
			req := &accepts[i]

			family, err := ParseNetwork(req.Network)
			if err != nil || family.Kind != kind {
				continue
			}
			if _, err := req.AtomicAmount(); err != nil {
				continue
			}

			if signer := pickSigner(req, signers); signer != nil {
				return req, signer, nil
			}
		}
	}

	return nil, nil, NewPaymentError(ErrCodeNoValidSigner, "no compatible wallet for accepted networks", ErrNoValidSigner).
		WithDetails("accepts", networks(accepts))
}

// pickSigner ranks the signers able to satisfy req and returns the best,
// or nil when none qualifies.
func pickSigner(req *PaymentRequirement, signers []Signer) Signer {
	amount, err := req.AtomicAmount()
	if err != nil {
		return nil
	}

	type candidate struct {
		signer         Signer
		signerPriority int
		tokenPriority  int
		order          int
	}

	var candidates []candidate
	for i, signer := range signers {
		if !signer.CanSign(req) {
			continue
		}
		if cap := signer.GetMaxAmount(); cap != nil && amount.Cmp(cap) > 0 {
			continue
		}

		tokenPriority := 0
		for _, token := range signer.GetTokens() {
			if strings.EqualFold(token.Address, req.Asset) {
				tokenPriority = token.Priority
				break
			}
		}

		candidates = append(candidates, candidate{
			signer:         signer,
			signerPriority: signer.GetPriority(),
			tokenPriority:  tokenPriority,
			order:          i,
		})
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].signerPriority != candidates[j].signerPriority {
			return candidates[i].signerPriority < candidates[j].signerPriority
		}
		if candidates[i].tokenPriority != candidates[j].tokenPriority {
			return candidates[i].tokenPriority < candidates[j].tokenPriority
		}
		return candidates[i].order < candidates[j].order
	})

	return candidates[0].signer
}

func networks(accepts []PaymentRequirement) []string {
	out := make([]string, 0, len(accepts))
	for _, req := range accepts {
		out = append(out, req.Network)
	}
	return out
}
