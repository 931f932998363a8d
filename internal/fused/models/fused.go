package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fuseid/internal/matcher"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
)

// Kind states which of the four sources a fused account was constructed
// from. Set once at creation, immutable for the aggregate's lifetime.
type Kind string

const (
	// KindFused is an aggregate rebuilt from a previously persisted
	// fused record.
	KindFused Kind = "fused"
	// KindBaselineIdentity is built from a canonical identity record.
	KindBaselineIdentity Kind = "baseline-identity"
	// KindUnresolvedManaged is built from a newly observed managed
	// account with no identity yet.
	KindUnresolvedManaged Kind = "unresolved-managed"
	// KindDecisionDerived is built from a previously recorded human
	// decision.
	KindDecisionDerived Kind = "decision-derived"
)

// StatusFlags are the independent boolean markers on a fused account.
// Uncorrelated and Orphan are derived and recomputed after every mutation;
// setting them directly is not possible from outside the aggregate.
type StatusFlags struct {
	Uncorrelated  bool `json:"uncorrelated"`
	Orphan        bool `json:"orphan"`
	Baseline      bool `json:"baseline"`
	Unmatched     bool `json:"unmatched"`
	Manual        bool `json:"manual"`
	Authorized    bool `json:"authorized"`
	ActiveReviews bool `json:"active_reviews"`
}

// Action flag names queued on the aggregate for external collaborators.
const (
	ActionCorrelated     = "correlated"
	ActionReviewerPrefix = "reviewer:"
)

// layerStage tracks how far the ordered layer sequence has progressed.
// Layers must apply as identity -> managed accounts -> decision, because
// correlation bookkeeping in the account layer needs the identity link and
// decision application needs the member bookkeeping.
type layerStage int

const (
	stageNew layerStage = iota
	stageIdentity
	stageAccounts
	stageDecision
)

// FusedAccount is the identity-resolution aggregate: which accounts belong
// to one real-world person, how certain the engine is, and what remains
// outstanding.
//
// Invariants:
//   - exactly one Kind for the aggregate's lifetime
//   - missingRefs ⊆ accountRefs at all times
//   - Orphan and Baseline are mutually exclusive
//   - Uncorrelated == (len(missingRefs) > 0), recomputed, never assigned
//
// The aggregate is built once per resolution pass and discarded after its
// final state is externalized; the engine itself never persists it.
type FusedAccount struct {
	kind         Kind
	IdentityLink id.IdentityID

	accountRefs map[id.AccountID]struct{}
	missingRefs map[id.AccountID]struct{}

	Status      StatusFlags
	actionFlags map[string]struct{}

	Attributes AttributeBag
	Matches    []matcher.Candidate

	History *AuditHistory

	stage            layerStage
	pending          []*Operation
	appliedDecisions map[id.DecisionID]struct{}
	mergeRules       map[string]AttributeMergeRule
}

// Config carries construction-time settings, passed explicitly so no global
// configuration is consulted before an aggregate can be built.
type Config struct {
	AuditHistoryMax int
	// MergeRules overrides, per attribute, how source contributions collapse
	// into the current view. Unlisted attributes keep first-write-wins.
	MergeRules map[string]AttributeMergeRule
}

func newFusedAccount(kind Kind, cfg Config) *FusedAccount {
	return &FusedAccount{
		kind:             kind,
		accountRefs:      make(map[id.AccountID]struct{}),
		missingRefs:      make(map[id.AccountID]struct{}),
		actionFlags:      make(map[string]struct{}),
		Attributes:       NewAttributeBag(),
		History:          NewAuditHistory(cfg.AuditHistoryMax),
		appliedDecisions: make(map[id.DecisionID]struct{}),
		mergeRules:       cfg.MergeRules,
	}
}

// NewFromSnapshot rebuilds an aggregate from a previously externalized
// fused record.
func NewFromSnapshot(snap ExternalState, cfg Config, now time.Time) *FusedAccount {
	f := newFusedAccount(KindFused, cfg)
	f.IdentityLink = snap.IdentityLink
	for _, ref := range snap.AccountRefs {
		f.accountRefs[ref] = struct{}{}
	}
	for _, ref := range snap.MissingRefs {
		if _, ok := f.accountRefs[ref]; ok {
			f.missingRefs[ref] = struct{}{}
		}
	}
	f.Status = snap.Status
	for _, a := range snap.ActionFlags {
		f.actionFlags[a] = struct{}{}
	}
	f.Attributes.Previous = snap.Attributes
	f.Attributes.Current = make(map[string]Value, len(snap.Attributes))
	for k, v := range snap.Attributes {
		f.Attributes.Current[k] = v
	}
	f.History.Restore(snap.History)
	f.recompute()
	f.History.Append(now, "aggregate rebuilt from persisted fused record")
	return f
}

// NewFromIdentity builds an aggregate anchored on a canonical identity.
func NewFromIdentity(identity Identity, cfg Config, now time.Time) *FusedAccount {
	f := newFusedAccount(KindBaselineIdentity, cfg)
	f.History.Append(now, fmt.Sprintf("aggregate created from identity %s", identity.ID))
	return f
}

// NewFromManagedAccount builds an aggregate for a newly observed account not
// yet linked to any identity.
func NewFromManagedAccount(account SourceAccount, cfg Config, now time.Time) *FusedAccount {
	f := newFusedAccount(KindUnresolvedManaged, cfg)
	f.History.Append(now, fmt.Sprintf("aggregate created from unresolved account %s@%s", account.ID, account.Source))
	return f
}

// NewFromDecision builds an aggregate replaying a previously recorded human
// decision.
func NewFromDecision(decision Decision, cfg Config, now time.Time) *FusedAccount {
	f := newFusedAccount(KindDecisionDerived, cfg)
	f.History.Append(now, fmt.Sprintf("aggregate created from decision %s by %s", decision.ID, decision.Submitter))
	return f
}

// Kind returns the aggregate's construction kind.
func (f *FusedAccount) Kind() Kind {
	return f.kind
}

// recompute re-derives the flags that are pure functions of the member sets.
func (f *FusedAccount) recompute() {
	f.Status.Uncorrelated = len(f.missingRefs) > 0
	f.Status.Orphan = len(f.accountRefs) == 0 && !f.Status.Baseline
}

// AccountRefs returns the member account ids in stable order.
func (f *FusedAccount) AccountRefs() []id.AccountID {
	return sortedRefs(f.accountRefs)
}

// MissingRefs returns the unconfirmed member ids in stable order.
func (f *FusedAccount) MissingRefs() []id.AccountID {
	return sortedRefs(f.missingRefs)
}

// HasAccountRef reports membership of one account id.
func (f *FusedAccount) HasAccountRef(ref id.AccountID) bool {
	_, ok := f.accountRefs[ref]
	return ok
}

// AddAccountRef adds a member account. New members start missing until
// correlation against the identity link is confirmed.
func (f *FusedAccount) AddAccountRef(ref id.AccountID, confirmed bool) {
	f.accountRefs[ref] = struct{}{}
	if !confirmed {
		f.missingRefs[ref] = struct{}{}
	}
	f.recompute()
}

// RemoveAccountRef drops a member and any missing bookkeeping for it.
func (f *FusedAccount) RemoveAccountRef(ref id.AccountID) {
	delete(f.accountRefs, ref)
	delete(f.missingRefs, ref)
	f.recompute()
}

// ConfirmCorrelated clears the missing marker once a member is confirmed
// linked to the identity.
func (f *FusedAccount) ConfirmCorrelated(ref id.AccountID, now time.Time) error {
	if _, ok := f.accountRefs[ref]; !ok {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "account %s is not a member of this aggregate", ref)
	}
	if _, ok := f.missingRefs[ref]; !ok {
		// Already confirmed; nothing to record.
		return nil
	}
	delete(f.missingRefs, ref)
	f.recompute()
	f.History.Append(now, fmt.Sprintf("account %s confirmed correlated", ref))
	return nil
}

// SetActionFlag queues a pending operation marker for collaborators.
func (f *FusedAccount) SetActionFlag(name string) {
	f.actionFlags[name] = struct{}{}
}

// HasActionFlag reports whether an operation marker is queued.
func (f *FusedAccount) HasActionFlag(name string) bool {
	_, ok := f.actionFlags[name]
	return ok
}

// ActionFlags returns queued markers in stable order.
func (f *FusedAccount) ActionFlags() []string {
	out := make([]string, 0, len(f.actionFlags))
	for a := range f.actionFlags {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// RecordMatches stores the pass's viable candidates and records the scoring
// round in the audit history, so the scored transition is never silent.
func (f *FusedAccount) RecordMatches(scored int, viable []matcher.Candidate, now time.Time) {
	f.Matches = viable
	f.History.Append(now, fmt.Sprintf("scored %d candidates, %d viable", scored, len(viable)))
}

// IsMatch reports whether at least one match was recorded.
func (f *FusedAccount) IsMatch() bool {
	return len(f.Matches) > 0
}

// ApplyIdentityLayer anchors the aggregate on its canonical identity. Must
// run before the account layer.
func (f *FusedAccount) ApplyIdentityLayer(identity Identity, now time.Time) error {
	if f.stage != stageNew {
		return dErrors.New(dErrors.CodeInvariantViolation, "identity layer must be the first layer applied")
	}
	f.stage = stageIdentity

	f.IdentityLink = identity.ID
	if identity.Baseline || f.kind == KindBaselineIdentity {
		f.Status.Baseline = true
	}
	f.Attributes.Identity = make(map[string]Value, len(identity.Attributes))
	for k, v := range identity.Attributes {
		f.Attributes.Identity[k] = StringValue(v)
		if _, ok := f.Attributes.Current[k]; !ok {
			f.Attributes.Current[k] = StringValue(v)
		}
	}
	f.recompute()
	f.History.Append(now, fmt.Sprintf("identity layer applied: linked to %s", identity.ID))
	return nil
}

// SkipIdentityLayer advances past the identity layer for aggregates that
// have no canonical identity yet (unresolved or decision-derived).
func (f *FusedAccount) SkipIdentityLayer() error {
	if f.stage != stageNew {
		return dErrors.New(dErrors.CodeInvariantViolation, "identity layer must be the first layer applied")
	}
	f.stage = stageIdentity
	return nil
}

// ApplyAccountLayer folds managed accounts into the aggregate: membership,
// missing-correlation bookkeeping, and per-source attribute contributions.
// Requires the identity layer (or an explicit skip) first, because the
// missing decision depends on the identity link being present.
func (f *FusedAccount) ApplyAccountLayer(accounts []SourceAccount, now time.Time) error {
	if f.stage < stageIdentity {
		return dErrors.New(dErrors.CodeInvariantViolation, "account layer requires the identity layer first")
	}
	if f.stage >= stageAccounts {
		return dErrors.New(dErrors.CodeInvariantViolation, "account layer already applied")
	}
	f.stage = stageAccounts

	for _, acct := range accounts {
		confirmed := !f.IdentityLink.IsEmpty() && acct.IdentityRef == f.IdentityLink
		f.AddAccountRef(acct.ID, confirmed)

		attrs := make(map[string]Value, len(acct.Attributes))
		for k, v := range acct.Attributes {
			attrs[k] = StringValue(v)
		}
		f.Attributes.Contribute(acct.Source, attrs)
	}
	if err := f.mergeContributions(); err != nil {
		return err
	}
	f.recompute()
	f.History.Append(now, fmt.Sprintf("account layer applied: %d member account(s), %d missing", len(f.accountRefs), len(f.missingRefs)))
	return nil
}

// mergeContributions folds the per-source contributions into the current
// view, one attribute at a time through its configured merge rule. An
// attribute without a rule keeps its earlier value (identity layer or prior
// snapshot) and otherwise takes the first contribution.
func (f *FusedAccount) mergeContributions() error {
	merged := make(map[string]bool)
	for _, c := range f.Attributes.Contributions {
		for name := range c.Attributes {
			if merged[name] {
				continue
			}
			merged[name] = true

			rule, configured := f.mergeRules[name]
			if !configured {
				if _, ok := f.Attributes.Current[name]; ok {
					continue
				}
				rule = AttributeMergeRule{Strategy: MergeFirst}
			}
			if err := f.Attributes.MergeAttribute(name, rule.Strategy, rule.Source); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyDecision finalizes a human decision onto the aggregate. Applying the
// same finished decision twice is a no-op: flags and audit entries are not
// duplicated.
func (f *FusedAccount) ApplyDecision(decision Decision, now time.Time) error {
	if f.stage < stageAccounts {
		return dErrors.New(dErrors.CodeInvariantViolation, "decision layer requires the account layer first")
	}
	if err := decision.Validate(); err != nil {
		return err
	}
	if !decision.Finished {
		return dErrors.Newf(dErrors.CodeValidation, "decision %s is not finished", decision.ID)
	}
	if _, done := f.appliedDecisions[decision.ID]; done {
		return nil
	}
	if !f.HasAccountRef(decision.Account) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "decision %s targets account %s which is not a member", decision.ID, decision.Account)
	}
	f.stage = stageDecision

	if decision.NewIdentity {
		f.Status.Manual = true
		f.Status.ActiveReviews = false
		f.History.Append(now, fmt.Sprintf("decision %s by %s: create new identity for account %s%s",
			decision.ID, decision.Submitter, decision.Account, deviceSuffix(decision.Device)))
	} else {
		f.IdentityLink = decision.IdentityLink
		f.Status.Authorized = true
		f.Status.ActiveReviews = false
		delete(f.missingRefs, decision.Account)
		f.SetActionFlag(ActionCorrelated)
		f.History.Append(now, fmt.Sprintf("decision %s by %s: account %s linked to identity %s%s",
			decision.ID, decision.Submitter, decision.Account, decision.IdentityLink, deviceSuffix(decision.Device)))
	}
	f.appliedDecisions[decision.ID] = struct{}{}
	f.recompute()
	return nil
}

func deviceSuffix(device string) string {
	if device == "" {
		return ""
	}
	return " via " + device
}

// MarkPendingReview flags the aggregate as awaiting human review and queues
// the reviewer action flags.
func (f *FusedAccount) MarkPendingReview(reviewers []id.ReviewerID, now time.Time) {
	f.Status.ActiveReviews = true
	for _, r := range reviewers {
		f.SetActionFlag(ActionReviewerPrefix + string(r))
	}
	f.History.Append(now, fmt.Sprintf("marked pending review (%d reviewer(s) required)", len(reviewers)))
}

// MarkUnmatched records that no viable candidate exists; the identity link
// stays unset pending new-identity creation or a later manual decision.
func (f *FusedAccount) MarkUnmatched(now time.Time) {
	f.Status.Unmatched = true
	f.History.Append(now, "no viable candidates: marked unmatched for new identity")
}

// Enqueue registers an outstanding asynchronous operation whose result must
// be drained before the aggregate is final for the pass.
func (f *FusedAccount) Enqueue(op *Operation) {
	f.pending = append(f.pending, op)
}

// PendingCount reports the number of operations not yet drained.
func (f *FusedAccount) PendingCount() int {
	return len(f.pending)
}

// DrainPending is the single join point per pass: it waits for every
// outstanding operation, then applies the results sequentially in enqueue
// order so the aggregate's mutable sets are never interleaved. If ctx is
// cancelled before all operations complete, nothing is applied and the
// pending set is preserved for the caller to abandon.
func (f *FusedAccount) DrainPending(ctx context.Context, now time.Time) error {
	results := make([]opResult, len(f.pending))
	for i, op := range f.pending {
		select {
		case res := <-op.done:
			results[i] = res
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "abandoned before pending operations completed")
		}
	}

	for i, res := range results {
		op := f.pending[i]
		if res.err != nil {
			f.History.Append(now, fmt.Sprintf("operation %s failed: %v", op.name, res.err))
			continue
		}
		if res.apply == nil {
			continue
		}
		if err := res.apply(f); err != nil {
			// State-invariant violations are logged and skipped rather
			// than corrupting the aggregate.
			f.History.Append(now, fmt.Sprintf("operation %s rejected: %v", op.name, err))
		}
	}
	f.pending = nil
	return nil
}

// ExternalState is the persisted shape of a finalized aggregate: the
// contract the caller serializes to durable storage between passes.
type ExternalState struct {
	IdentityLink id.IdentityID       `json:"identity_link,omitempty"`
	AccountRefs  []id.AccountID      `json:"account_refs"`
	MissingRefs  []id.AccountID      `json:"missing_refs"`
	Status       StatusFlags         `json:"status"`
	ActionFlags  []string            `json:"action_flags"`
	Attributes   map[string]Value    `json:"attributes"`
	Matches      []matcher.Candidate `json:"matches,omitempty"`
	History      []string            `json:"history"`
}

// Externalize renders the aggregate's final state for persistence.
func (f *FusedAccount) Externalize() ExternalState {
	attrs := make(map[string]Value, len(f.Attributes.Current))
	for k, v := range f.Attributes.Current {
		attrs[k] = v
	}
	return ExternalState{
		IdentityLink: f.IdentityLink,
		AccountRefs:  f.AccountRefs(),
		MissingRefs:  f.MissingRefs(),
		Status:       f.Status,
		ActionFlags:  f.ActionFlags(),
		Attributes:   attrs,
		Matches:      f.Matches,
		History:      f.History.Entries(),
	}
}

func sortedRefs(set map[id.AccountID]struct{}) []id.AccountID {
	out := make([]id.AccountID, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
