// Package identity defines the external collaborator boundary for
// membership-proof and DKIM verification (spec.md §6). The substrate
// treats both as opaque, externally-verified facts; this package only
// shapes the calling contract and supplies a test double.
package identity

import "context"

// ZKProof is the zero-knowledge membership proof carried by RUMOR, VOTE
// and TOMBSTONE ops (a JOIN carries a DKIM proof instead).
type ZKProof struct {
	Proof []byte
}

// MembershipResult is the outcome of VerifyMembershipProof: the
// nullifier and scope it attests to, when ok.
type MembershipResult struct {
	OK        bool
	Nullifier string
	Scope     string
}

// MembershipVerifier checks a zero-knowledge membership proof against
// the last ROOT_HISTORY_SIZE known Merkle roots of the membership set
// (to tolerate propagation delay), without learning which member
// produced it beyond the returned nullifier/scope.
type MembershipVerifier interface {
	VerifyMembershipProof(ctx context.Context, zkProof ZKProof, knownRoots []string) (MembershipResult, error)
}

// DKIMResult is the outcome of VerifyDKIM: the envelope facts needed to
// cross-check the unsigned Delivered-To/From headers (E009/E010).
type DKIMResult struct {
	OK            bool
	DeliveredTo   string
	SigningDomain string
	BodyHash      string
	MessageID     string
}

// DKIMVerifier checks a DKIM-signed join email and extracts the facts
// the validator needs to cross-check against the claimed commitment.
type DKIMVerifier interface {
	VerifyDKIM(ctx context.Context, emlBytes []byte) (DKIMResult, error)
}

// StaticMembershipVerifier is a test double that accepts or rejects by
// a fixed table, for exercising validator/ledger code without a real
// collaborator.
type StaticMembershipVerifier struct {
	Accepted map[string]MembershipResult
}

// NewStaticMembershipVerifier builds a verifier that accepts exactly
// the given proof-string keys, each resolving to its paired result.
func NewStaticMembershipVerifier(accepted map[string]MembershipResult) *StaticMembershipVerifier {
	table := make(map[string]MembershipResult, len(accepted))
	for k, v := range accepted {
		table[k] = v
	}
	return &StaticMembershipVerifier{Accepted: table}
}

func (s *StaticMembershipVerifier) VerifyMembershipProof(_ context.Context, zkProof ZKProof, _ []string) (MembershipResult, error) {
	result, ok := s.Accepted[string(zkProof.Proof)]
	if !ok {
		return MembershipResult{OK: false}, nil
	}
	return result, nil
}

// StaticDKIMVerifier is a test double that returns the same configured
// result (success or failure) for every call.
type StaticDKIMVerifier struct {
	Result DKIMResult
}

// NewStaticDKIMVerifier builds a verifier returning result for every call.
func NewStaticDKIMVerifier(result DKIMResult) *StaticDKIMVerifier {
	return &StaticDKIMVerifier{Result: result}
}

func (s *StaticDKIMVerifier) VerifyDKIM(_ context.Context, _ []byte) (DKIMResult, error) {
	return s.Result, nil
}
