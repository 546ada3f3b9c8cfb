// Package oracle resolves conditional markets optimistically: a requester
// escrows a bond, an allow-listed proposer posts a price, anyone may dispute
// it once within the liveness window, and the settled price is reported to the
// collateral bridge as a payout vector.
package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GoPolymarket/ctf-exchange/internal/auth"
	"github.com/GoPolymarket/ctf-exchange/internal/ctf"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/metrics"
)

const (
	DefaultMinLiveness = 5 * time.Minute
	DefaultMaxLiveness = 10 * time.Minute
)

// DefaultMinBond is 10 units of a 6-decimal collateral.
var DefaultMinBond = big.NewInt(10_000_000)

var (
	ErrBondTooLow       = apperrors.Sentinel(apperrors.ErrValidation, "bond below minimum")
	ErrLivenessRange    = apperrors.Sentinel(apperrors.ErrValidation, "liveness outside allowed range")
	ErrRequestExists    = apperrors.Sentinel(apperrors.ErrState, "request already exists")
	ErrRequestNotFound  = apperrors.Sentinel(apperrors.ErrNotFound, "request not found")
	ErrNotProposer      = apperrors.Sentinel(apperrors.ErrAccess, "caller is not an allowed proposer")
	ErrAlreadyProposed  = apperrors.Sentinel(apperrors.ErrState, "price already proposed")
	ErrNotProposed      = apperrors.Sentinel(apperrors.ErrState, "no price proposed")
	ErrAlreadyDisputed  = apperrors.Sentinel(apperrors.ErrState, "request already disputed")
	ErrLivenessElapsed  = apperrors.Sentinel(apperrors.ErrState, "liveness period has elapsed")
	ErrLivenessActive   = apperrors.Sentinel(apperrors.ErrState, "liveness period has not elapsed")
	ErrAlreadySettled   = apperrors.Sentinel(apperrors.ErrState, "request already settled")
	ErrNotSettled       = apperrors.Sentinel(apperrors.ErrState, "request not settled")
	ErrFinalPrice       = apperrors.Sentinel(apperrors.ErrInvalidRequest, "final price required for disputed settlement only")
	ErrProposerListed   = apperrors.Sentinel(apperrors.ErrState, "proposer already allowed")
	ErrProposerUnlisted = apperrors.Sentinel(apperrors.ErrState, "proposer not allowed")
)

// Phase is derived from a request's flags.
type Phase int

const (
	Created Phase = iota
	Proposed
	Disputed
	Settled
)

func (p Phase) String() string {
	switch p {
	case Created:
		return "CREATED"
	case Proposed:
		return "PROPOSED"
	case Disputed:
		return "DISPUTED"
	case Settled:
		return "SETTLED"
	default:
		return "UNKNOWN"
	}
}

// Bridge is the part of the collateral bridge the resolver drives.
type Bridge interface {
	Transfer(ctx context.Context, spender, from, to common.Address, id, amount *big.Int) error
	PrepareCondition(oracle common.Address, questionID common.Hash, outcomeSlotCount int) (common.Hash, error)
	ReportPayouts(ctx context.Context, oracle common.Address, questionID common.Hash, payouts []*big.Int) error
	PayoutDenominator(conditionID common.Hash) *big.Int
	GetCondition(conditionID common.Hash) (ctf.Condition, bool)
}

type Request struct {
	ID              common.Hash    `json:"id"`
	Requester       common.Address `json:"requester"`
	Timestamp       time.Time      `json:"timestamp"`
	AncillaryData   []byte         `json:"ancillaryData"`
	Bond            *big.Int       `json:"bond"`
	Liveness        time.Duration  `json:"liveness"`
	Proposer        common.Address `json:"proposer"`
	ProposedPrice   []*big.Int     `json:"proposedPrice"`
	Disputer        common.Address `json:"disputer"`
	DisputeBond     *big.Int       `json:"disputeBond"`
	Disputed        bool           `json:"disputed"`
	DisputeDeadline time.Time      `json:"disputeDeadline"`
	Settled         bool           `json:"settled"`
	ResolvedPrice   []*big.Int     `json:"resolvedPrice"`
	Reported        bool           `json:"reported"`
	ConditionID     common.Hash    `json:"conditionId"`
	Payouts         []*big.Int     `json:"payouts"`
	// OutcomeSlotCount is the slot count payouts must be reported with; zero
	// until pinned at request time or by the first report.
	OutcomeSlotCount int `json:"outcomeSlotCount,omitempty"`
}

func (r *Request) Phase() Phase {
	switch {
	case r.Settled:
		return Settled
	case r.Disputed:
		return Disputed
	case r.Proposer != (common.Address{}):
		return Proposed
	default:
		return Created
	}
}

func (r *Request) clone() Request {
	out := *r
	out.AncillaryData = append([]byte(nil), r.AncillaryData...)
	out.Bond = cloneInt(r.Bond)
	out.DisputeBond = cloneInt(r.DisputeBond)
	out.ProposedPrice = cloneInts(r.ProposedPrice)
	out.ResolvedPrice = cloneInts(r.ResolvedPrice)
	out.Payouts = cloneInts(r.Payouts)
	return out
}

type Options struct {
	Address     common.Address
	MinBond     *big.Int
	MinLiveness time.Duration
	MaxLiveness time.Duration
	Clock       clock.Clock
	Bus         *events.Bus
	Logger      *slog.Logger
}

type Resolver struct {
	mu        sync.Mutex
	address   common.Address
	bridge    Bridge
	roles     *auth.Table
	minBond   *big.Int
	minLive   time.Duration
	maxLive   time.Duration
	proposers map[common.Address]struct{}
	requests  map[common.Hash]*Request

	clock clock.Clock
	bus   *events.Bus
	log   *slog.Logger
}

func NewResolver(opts Options, bridge Bridge, roles *auth.Table) *Resolver {
	if opts.MinBond == nil {
		opts.MinBond = DefaultMinBond
	}
	if opts.MinLiveness == 0 {
		opts.MinLiveness = DefaultMinLiveness
	}
	if opts.MaxLiveness == 0 {
		opts.MaxLiveness = DefaultMaxLiveness
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Resolver{
		address:   opts.Address,
		bridge:    bridge,
		roles:     roles,
		minBond:   new(big.Int).Set(opts.MinBond),
		minLive:   opts.MinLiveness,
		maxLive:   opts.MaxLiveness,
		proposers: make(map[common.Address]struct{}),
		requests:  make(map[common.Hash]*Request),
		clock:     opts.Clock,
		bus:       opts.Bus,
		log:       opts.Logger,
	}
}

func (r *Resolver) Address() common.Address { return r.address }
func (r *Resolver) MinBond() *big.Int       { return new(big.Int).Set(r.minBond) }

// RequestID is keccak256(requester ‖ uint64 timestamp ‖ ancillaryData).
func RequestID(requester common.Address, at time.Time, ancillary []byte) common.Hash {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.Unix()))
	return crypto.Keccak256Hash(requester.Bytes(), ts[:], ancillary)
}

// RequestPrice opens a request and escrows bond from requester. The slot count
// is left open; see RequestPriceFor.
func (r *Resolver) RequestPrice(ctx context.Context, requester common.Address, ancillary []byte, bond *big.Int, liveness time.Duration) (common.Hash, error) {
	return r.RequestPriceFor(ctx, requester, ancillary, bond, liveness, 0)
}

// RequestPriceFor is RequestPrice with the market's outcome slot count pinned,
// so proposals and reports that do not fit it are rejected. slots may be 0
// (unpinned), 2 or 3.
func (r *Resolver) RequestPriceFor(ctx context.Context, requester common.Address, ancillary []byte, bond *big.Int, liveness time.Duration, slots int) (common.Hash, error) {
	if slots != 0 && slots != 2 && slots != 3 {
		return common.Hash{}, fmt.Errorf("%d slots: %w", slots, ErrSlotCount)
	}
	if bond == nil || bond.Cmp(r.minBond) < 0 {
		return common.Hash{}, fmt.Errorf("bond %v, minimum %s: %w", bond, r.minBond.String(), ErrBondTooLow)
	}
	if liveness < r.minLive || liveness > r.maxLive {
		return common.Hash{}, fmt.Errorf("liveness %s not in [%s, %s]: %w", liveness, r.minLive, r.maxLive, ErrLivenessRange)
	}

	r.mu.Lock()
	now := r.clock.Now()
	id := RequestID(requester, now, ancillary)
	if _, ok := r.requests[id]; ok {
		r.mu.Unlock()
		return common.Hash{}, fmt.Errorf("request %s: %w", id.Hex(), ErrRequestExists)
	}
	if err := r.bridge.Transfer(ctx, requester, requester, r.address, ctf.CollateralID, bond); err != nil {
		r.mu.Unlock()
		return common.Hash{}, fmt.Errorf("escrow request bond: %w", err)
	}
	r.requests[id] = &Request{
		ID:            id,
		Requester:     requester,
		Timestamp:     now,
		AncillaryData: append([]byte(nil), ancillary...),
		Bond:          new(big.Int).Set(bond),
		Liveness:      liveness,

		OutcomeSlotCount: slots,
	}
	r.mu.Unlock()

	r.transition(ctx, events.PriceRequested, Created, id, map[string]any{
		"requester": requester.Hex(),
		"bond":      bond.String(),
		"liveness":  int64(liveness / time.Second),
		"slots":     slots,
	})
	return id, nil
}

// ProposePrice records the one proposal a request may receive and starts the
// liveness window.
func (r *Resolver) ProposePrice(ctx context.Context, proposer common.Address, id common.Hash, price []*big.Int) error {
	if err := ValidatePrice(price); err != nil {
		return err
	}
	r.mu.Lock()
	if _, ok := r.proposers[proposer]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", proposer.Hex(), ErrNotProposer)
	}
	req, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if req.Phase() != Created {
		r.mu.Unlock()
		if req.Settled {
			return ErrAlreadySettled
		}
		return ErrAlreadyProposed
	}
	if req.OutcomeSlotCount != 0 {
		if _, err := DecodePayouts(price, req.OutcomeSlotCount); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	req.Proposer = proposer
	req.ProposedPrice = cloneInts(price)
	req.DisputeDeadline = r.clock.Now().Add(req.Liveness)
	deadline := req.DisputeDeadline
	r.mu.Unlock()

	r.transition(ctx, events.PriceProposed, Proposed, id, map[string]any{
		"proposer": proposer.Hex(),
		"price":    fmtInts(price),
		"deadline": deadline.Unix(),
	})
	return nil
}

// DisputePrice challenges a proposal before its deadline, escrowing bond from
// disputer. A request can be disputed once.
func (r *Resolver) DisputePrice(ctx context.Context, disputer common.Address, id common.Hash, bond *big.Int) error {
	if bond == nil || bond.Cmp(r.minBond) < 0 {
		return fmt.Errorf("dispute bond %v: %w", bond, ErrBondTooLow)
	}
	r.mu.Lock()
	req, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	switch req.Phase() {
	case Created:
		r.mu.Unlock()
		return ErrNotProposed
	case Disputed:
		r.mu.Unlock()
		return ErrAlreadyDisputed
	case Settled:
		r.mu.Unlock()
		return ErrAlreadySettled
	}
	if !r.clock.Now().Before(req.DisputeDeadline) {
		r.mu.Unlock()
		return ErrLivenessElapsed
	}
	if err := r.bridge.Transfer(ctx, disputer, disputer, r.address, ctf.CollateralID, bond); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("escrow dispute bond: %w", err)
	}
	req.Disputed = true
	req.Disputer = disputer
	req.DisputeBond = new(big.Int).Set(bond)
	r.mu.Unlock()

	r.transition(ctx, events.PriceDisputed, Disputed, id, map[string]any{
		"disputer": disputer.Hex(),
		"bond":     bond.String(),
	})
	return nil
}

// SettleRequest finalizes a request once its liveness has elapsed. An
// undisputed request settles on the proposal, by any caller, and returns the
// bond to the proposer. A disputed request settles only by an admin supplying
// finalPrice, and every escrowed bond goes to that admin.
func (r *Resolver) SettleRequest(ctx context.Context, caller common.Address, id common.Hash, finalPrice []*big.Int) error {
	r.mu.Lock()
	req, err := r.lookup(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	switch req.Phase() {
	case Created:
		r.mu.Unlock()
		return ErrNotProposed
	case Settled:
		r.mu.Unlock()
		return ErrAlreadySettled
	}
	if r.clock.Now().Before(req.DisputeDeadline) {
		r.mu.Unlock()
		return fmt.Errorf("settleable at %s: %w", req.DisputeDeadline.UTC().Format(time.RFC3339), ErrLivenessActive)
	}

	var (
		price     []*big.Int
		recipient common.Address
		payout    = new(big.Int).Set(req.Bond)
	)
	if req.Disputed {
		if err := r.roles.RequireAdmin(caller); err != nil {
			r.mu.Unlock()
			return err
		}
		if len(finalPrice) == 0 {
			r.mu.Unlock()
			return ErrFinalPrice
		}
		if err := ValidatePrice(finalPrice); err != nil {
			r.mu.Unlock()
			return err
		}
		price = finalPrice
		recipient = caller
		payout.Add(payout, req.DisputeBond)
	} else {
		if len(finalPrice) != 0 {
			r.mu.Unlock()
			return ErrFinalPrice
		}
		price = req.ProposedPrice
		recipient = req.Proposer
	}

	if err := r.bridge.Transfer(ctx, r.address, r.address, recipient, ctf.CollateralID, payout); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("release bonds: %w", err)
	}
	req.Settled = true
	req.ResolvedPrice = cloneInts(price)
	disputed := req.Disputed
	r.mu.Unlock()

	if disputed {
		r.log.Warn("disputed request settled by admin", "request_id", id.Hex(), "admin", caller.Hex(), "bonds", payout.String())
	}
	r.transition(ctx, events.PriceSettled, Settled, id, map[string]any{
		"price":     fmtInts(price),
		"disputed":  disputed,
		"recipient": recipient.Hex(),
		"bonds":     payout.String(),
	})
	return nil
}

// ReportPayouts pushes the settled price to the bridge as a payout vector of
// outcomeSlotCount entries, preparing the condition if needed. The count must
// match the one pinned on the request, or the condition already prepared for
// it. Once payouts are reported, later calls with the same count return them
// without touching the bridge.
func (r *Resolver) ReportPayouts(ctx context.Context, id common.Hash, outcomeSlotCount int) ([]*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if !req.Settled {
		return nil, ErrNotSettled
	}
	if want := r.expectedSlots(req); want != 0 && outcomeSlotCount != want {
		return nil, fmt.Errorf("request %s resolves %d slots, got %d: %w", id.Hex(), want, outcomeSlotCount, ErrSlotCount)
	}
	if req.Reported {
		r.log.Debug("payouts already reported", "request_id", id.Hex())
		return cloneInts(req.Payouts), nil
	}
	payouts, err := DecodePayouts(req.ResolvedPrice, outcomeSlotCount)
	if err != nil {
		return nil, err
	}

	cond, err := r.bridge.PrepareCondition(r.address, id, outcomeSlotCount)
	if err != nil && !errors.Is(err, ctf.ErrConditionExists) {
		return nil, fmt.Errorf("prepare condition: %w", err)
	}
	if r.bridge.PayoutDenominator(cond).Sign() == 0 {
		if err := r.bridge.ReportPayouts(ctx, r.address, id, payouts); err != nil {
			return nil, fmt.Errorf("report payouts: %w", err)
		}
	}
	req.Reported = true
	req.OutcomeSlotCount = outcomeSlotCount
	req.ConditionID = cond
	req.Payouts = cloneInts(payouts)

	r.log.Info("payouts reported", "request_id", id.Hex(), "condition_id", cond.Hex(), "payouts", fmtInts(payouts))
	r.publish(ctx, events.PayoutsReported, map[string]any{
		"requestId":   id.Hex(),
		"conditionId": cond.Hex(),
		"payouts":     fmtInts(payouts),
	})
	return cloneInts(payouts), nil
}

// expectedSlots is the pinned slot count, else the count of the single
// condition already prepared for the request on the bridge. Zero means any
// supported count is accepted.
func (r *Resolver) expectedSlots(req *Request) int {
	if req.OutcomeSlotCount != 0 {
		return req.OutcomeSlotCount
	}
	found := 0
	for _, n := range []int{2, 3} {
		if _, ok := r.bridge.GetCondition(ctf.ConditionID(r.address, req.ID, n)); ok {
			if found != 0 {
				return 0
			}
			found = n
		}
	}
	return found
}

func (r *Resolver) GetRequest(id common.Hash) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, err := r.lookup(id)
	if err != nil {
		return Request{}, err
	}
	return req.clone(), nil
}

// Requests lists every request, oldest first.
func (r *Resolver) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID.Big().Cmp(out[j].ID.Big()) < 0
	})
	return out
}

func (r *Resolver) AddProposer(ctx context.Context, caller, proposer common.Address) error {
	return r.setProposer(ctx, caller, proposer, true)
}

func (r *Resolver) RemoveProposer(ctx context.Context, caller, proposer common.Address) error {
	return r.setProposer(ctx, caller, proposer, false)
}

func (r *Resolver) IsProposer(addr common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.proposers[addr]
	return ok
}

func (r *Resolver) Proposers() []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.Address, 0, len(r.proposers))
	for a := range r.proposers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (r *Resolver) setProposer(ctx context.Context, caller, proposer common.Address, allowed bool) error {
	if err := r.roles.RequireAdmin(caller); err != nil {
		return err
	}
	r.mu.Lock()
	_, listed := r.proposers[proposer]
	switch {
	case allowed && listed:
		r.mu.Unlock()
		return ErrProposerListed
	case !allowed && !listed:
		r.mu.Unlock()
		return ErrProposerUnlisted
	}
	t := events.ProposerRemoved
	if allowed {
		r.proposers[proposer] = struct{}{}
		t = events.ProposerAdded
	} else {
		delete(r.proposers, proposer)
	}
	r.mu.Unlock()

	r.publish(ctx, t, map[string]any{
		"proposer": proposer.Hex(),
		"by":       caller.Hex(),
	})
	return nil
}

func (r *Resolver) lookup(id common.Hash) (*Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id.Hex(), ErrRequestNotFound)
	}
	return req, nil
}

func (r *Resolver) transition(ctx context.Context, t events.Type, p Phase, id common.Hash, payload map[string]any) {
	metrics.OracleTransitions.WithLabelValues(p.String()).Inc()
	payload["requestId"] = id.Hex()
	r.publish(ctx, t, payload)
}

func (r *Resolver) publish(ctx context.Context, t events.Type, payload map[string]any) {
	if err := r.bus.Publish(ctx, events.New(t, "oracle", r.clock.Now(), payload)); err != nil {
		r.log.Warn("event publish failed", "type", t, "error", err)
	}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneInts(in []*big.Int) []*big.Int {
	if in == nil {
		return nil
	}
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = cloneInt(v)
	}
	return out
}

func fmtInts(in []*big.Int) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.String()
	}
	return out
}
