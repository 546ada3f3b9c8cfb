// Package ctf is the collateral bridge: an in-memory conditional-tokens ledger
// holding the collateral asset (id 0) and every outcome position, with
// split/merge, payout reporting and redemption.
package ctf

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
)

const MaxOutcomeSlots = 63

var (
	ErrInsufficientBalance = apperrors.Sentinel(apperrors.ErrValidation, "insufficient balance")
	ErrNotApproved         = apperrors.Sentinel(apperrors.ErrAccess, "caller is neither owner nor approved")
	ErrInvalidAmount       = apperrors.Sentinel(apperrors.ErrInvalidRequest, "amount must be positive")
	ErrInvalidPartition    = apperrors.Sentinel(apperrors.ErrInvalidRequest, "invalid partition")
	ErrInvalidSlotCount    = apperrors.Sentinel(apperrors.ErrInvalidRequest, "invalid outcome slot count")
	ErrConditionExists     = apperrors.Sentinel(apperrors.ErrState, "condition already prepared")
	ErrConditionNotFound   = apperrors.Sentinel(apperrors.ErrNotFound, "condition not prepared")
	ErrConditionResolved   = apperrors.Sentinel(apperrors.ErrState, "condition already resolved")
	ErrConditionUnresolved = apperrors.Sentinel(apperrors.ErrState, "condition not resolved")
	ErrInvalidPayouts      = apperrors.Sentinel(apperrors.ErrInvalidRequest, "payout vector is all zero")
)

type Condition struct {
	ID               common.Hash
	Oracle           common.Address
	QuestionID       common.Hash
	OutcomeSlotCount int
	Payouts          []*big.Int
	Denominator      *big.Int
}

func (c *Condition) Resolved() bool {
	return c.Denominator != nil && c.Denominator.Sign() > 0
}

type Ledger struct {
	mu         sync.Mutex
	collateral common.Address
	balances   map[string]map[common.Address]*big.Int
	approvals  map[common.Address]map[common.Address]bool
	conditions map[common.Hash]*Condition

	// tx is the open transaction, if any. Writers that do not carry it wait
	// on idle until it commits or reverts.
	tx   *ledgerTx
	idle *sync.Cond

	log *slog.Logger
}

type ledgerTx struct {
	journal []func()
	depth   int
}

type txKey struct{}

func txFrom(ctx context.Context) *ledgerTx {
	tx, _ := ctx.Value(txKey{}).(*ledgerTx)
	return tx
}

func NewLedger(collateral common.Address, log *slog.Logger) *Ledger {
	if log == nil {
		log = logger.Discard()
	}
	l := &Ledger{
		collateral: collateral,
		balances:   make(map[string]map[common.Address]*big.Int),
		approvals:  make(map[common.Address]map[common.Address]bool),
		conditions: make(map[common.Hash]*Condition),
		log:        log,
	}
	l.idle = sync.NewCond(&l.mu)
	return l
}

// lockFor takes the ledger lock for a write under ctx, waiting out any open
// transaction ctx is not part of.
func (l *Ledger) lockFor(ctx context.Context) {
	l.mu.Lock()
	for l.tx != nil && txFrom(ctx) != l.tx {
		l.idle.Wait()
	}
}

// Collateral is the collateral token address positions are derived from.
func (l *Ledger) Collateral() common.Address {
	return l.collateral
}

func (l *Ledger) BalanceOf(holder common.Address, id *big.Int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(holder, id))
}

func (l *Ledger) IsApprovedForAll(owner, operator common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.approvals[owner][operator]
}

func (l *Ledger) SetApprovalForAll(owner, operator common.Address, approved bool) {
	l.lockFor(context.Background())
	defer l.mu.Unlock()
	prev := l.approvals[owner][operator]
	l.setApproval(owner, operator, approved)
	l.record(func() { l.setApproval(owner, operator, prev) })
}

// Mint credits collateral to holder.
func (l *Ledger) Mint(holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.lockFor(context.Background())
	defer l.mu.Unlock()
	l.credit(holder, CollateralID, amount)
	return nil
}

// Transfer moves amount of asset id from from to to. spender must be from or
// an approved operator of from.
func (l *Ledger) Transfer(ctx context.Context, spender, from, to common.Address, id, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	l.lockFor(ctx)
	defer l.mu.Unlock()
	if spender != from && !l.approvals[from][spender] {
		return fmt.Errorf("transfer from %s by %s: %w", from.Hex(), spender.Hex(), ErrNotApproved)
	}
	if err := l.debit(from, id, amount); err != nil {
		return fmt.Errorf("transfer asset %s: %w", id.String(), err)
	}
	l.credit(to, id, amount)
	return nil
}

func (l *Ledger) PrepareCondition(oracle common.Address, questionID common.Hash, outcomeSlotCount int) (common.Hash, error) {
	if outcomeSlotCount < 2 || outcomeSlotCount > MaxOutcomeSlots {
		return common.Hash{}, ErrInvalidSlotCount
	}
	id := ConditionID(oracle, questionID, outcomeSlotCount)
	l.lockFor(context.Background())
	defer l.mu.Unlock()
	if _, ok := l.conditions[id]; ok {
		return id, ErrConditionExists
	}
	l.conditions[id] = &Condition{
		ID:               id,
		Oracle:           oracle,
		QuestionID:       questionID,
		OutcomeSlotCount: outcomeSlotCount,
	}
	l.record(func() { delete(l.conditions, id) })
	l.log.Debug("condition prepared", "condition_id", id.Hex(), "oracle", oracle.Hex(), "slots", outcomeSlotCount)
	return id, nil
}

func (l *Ledger) GetCondition(conditionID common.Hash) (Condition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conditions[conditionID]
	if !ok {
		return Condition{}, false
	}
	out := *c
	out.Payouts = cloneInts(c.Payouts)
	if c.Denominator != nil {
		out.Denominator = new(big.Int).Set(c.Denominator)
	}
	return out, true
}

// PayoutDenominator is zero until payouts have been reported.
func (l *Ledger) PayoutDenominator(conditionID common.Hash) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conditions[conditionID]
	if !ok || c.Denominator == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.Denominator)
}

// Split converts amount of the partition's parent into one unit of every
// position in partition, acting on caller's balances. A partition covering
// the full index set consumes collateral.
func (l *Ledger) Split(ctx context.Context, caller common.Address, conditionID common.Hash, partition []uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.lockFor(ctx)
	defer l.mu.Unlock()
	cond, ok := l.conditions[conditionID]
	if !ok {
		return ErrConditionNotFound
	}
	union, err := checkPartition(partition, cond.OutcomeSlotCount)
	if err != nil {
		return err
	}
	parent := CollateralID
	if union != fullIndexSet(cond.OutcomeSlotCount) {
		parent = PositionIDFor(l.collateral, conditionID, union)
	}
	if err := l.debit(caller, parent, amount); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	for _, indexSet := range partition {
		l.credit(caller, PositionIDFor(l.collateral, conditionID, indexSet), amount)
	}
	return nil
}

// Merge is the inverse of Split.
func (l *Ledger) Merge(ctx context.Context, caller common.Address, conditionID common.Hash, partition []uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.lockFor(ctx)
	defer l.mu.Unlock()
	cond, ok := l.conditions[conditionID]
	if !ok {
		return ErrConditionNotFound
	}
	union, err := checkPartition(partition, cond.OutcomeSlotCount)
	if err != nil {
		return err
	}
	for _, indexSet := range partition {
		id := PositionIDFor(l.collateral, conditionID, indexSet)
		if l.balance(caller, id).Cmp(amount) < 0 {
			return fmt.Errorf("merge: %w", ErrInsufficientBalance)
		}
	}
	for _, indexSet := range partition {
		_ = l.debit(caller, PositionIDFor(l.collateral, conditionID, indexSet), amount)
	}
	parent := CollateralID
	if union != fullIndexSet(cond.OutcomeSlotCount) {
		parent = PositionIDFor(l.collateral, conditionID, union)
	}
	l.credit(caller, parent, amount)
	return nil
}

// ReportPayouts resolves the condition owned by oracle for questionID. It has
// effect once; later calls fail with ErrConditionResolved.
func (l *Ledger) ReportPayouts(ctx context.Context, oracle common.Address, questionID common.Hash, payouts []*big.Int) error {
	id := ConditionID(oracle, questionID, len(payouts))
	l.lockFor(ctx)
	defer l.mu.Unlock()
	cond, ok := l.conditions[id]
	if !ok {
		return ErrConditionNotFound
	}
	if cond.Resolved() {
		return ErrConditionResolved
	}
	den := new(big.Int)
	for _, p := range payouts {
		if p == nil || p.Sign() < 0 {
			return ErrInvalidPayouts
		}
		den.Add(den, p)
	}
	if den.Sign() == 0 {
		return ErrInvalidPayouts
	}
	cond.Payouts = cloneInts(payouts)
	cond.Denominator = den
	l.record(func() {
		cond.Payouts = nil
		cond.Denominator = nil
	})
	l.log.Info("payouts reported", "condition_id", id.Hex(), "question_id", questionID.Hex(), "payouts", fmtInts(payouts))
	return nil
}

// RedeemPositions burns caller's positions in indexSets and pays collateral
// pro rata to the reported payout numerators.
func (l *Ledger) RedeemPositions(ctx context.Context, caller common.Address, conditionID common.Hash, indexSets []uint64) (*big.Int, error) {
	l.lockFor(ctx)
	defer l.mu.Unlock()
	cond, ok := l.conditions[conditionID]
	if !ok {
		return nil, ErrConditionNotFound
	}
	if !cond.Resolved() {
		return nil, ErrConditionUnresolved
	}
	full := fullIndexSet(cond.OutcomeSlotCount)
	total := new(big.Int)
	for _, indexSet := range indexSets {
		if indexSet == 0 || indexSet&^full != 0 {
			return nil, ErrInvalidPartition
		}
		num := new(big.Int)
		for j := 0; j < cond.OutcomeSlotCount; j++ {
			if indexSet&(1<<uint(j)) != 0 {
				num.Add(num, cond.Payouts[j])
			}
		}
		id := PositionIDFor(l.collateral, conditionID, indexSet)
		stake := new(big.Int).Set(l.balance(caller, id))
		if stake.Sign() == 0 {
			continue
		}
		payout := new(big.Int).Mul(stake, num)
		payout.Quo(payout, cond.Denominator)
		_ = l.debit(caller, id, stake)
		total.Add(total, payout)
	}
	if total.Sign() > 0 {
		l.credit(caller, CollateralID, total)
	}
	return total, nil
}

// Snapshot opens a revertible transaction, or nests into the one ctx already
// carries. Writes made under the returned context are journaled; writes under
// any other context block until the outermost scope closes, so a revert only
// ever undoes the transaction's own work. Reads are not blocked.
func (l *Ledger) Snapshot(ctx context.Context) (context.Context, int) {
	l.lockFor(ctx)
	defer l.mu.Unlock()
	if l.tx == nil {
		l.tx = &ledgerTx{}
		ctx = context.WithValue(ctx, txKey{}, l.tx)
	}
	l.tx.depth++
	return ctx, len(l.tx.journal)
}

// RevertToSnapshot undoes every write made in the transaction since id.
func (l *Ledger) RevertToSnapshot(ctx context.Context, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := l.tx
	if tx == nil || txFrom(ctx) != tx {
		return
	}
	for i := len(tx.journal) - 1; i >= id; i-- {
		tx.journal[i]()
	}
	tx.journal = tx.journal[:id]
	l.closeScope()
}

// DiscardSnapshot keeps the writes made since the snapshot.
func (l *Ledger) DiscardSnapshot(ctx context.Context, _ int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx == nil || txFrom(ctx) != l.tx {
		return
	}
	l.closeScope()
}

func (l *Ledger) closeScope() {
	l.tx.depth--
	if l.tx.depth == 0 {
		l.tx = nil
		l.idle.Broadcast()
	}
}

func (l *Ledger) record(undo func()) {
	if l.tx != nil {
		l.tx.journal = append(l.tx.journal, undo)
	}
}

func (l *Ledger) setApproval(owner, operator common.Address, approved bool) {
	m, ok := l.approvals[owner]
	if !ok {
		m = make(map[common.Address]bool)
		l.approvals[owner] = m
	}
	if approved {
		m[operator] = true
	} else {
		delete(m, operator)
	}
}

func (l *Ledger) balance(holder common.Address, id *big.Int) *big.Int {
	if b, ok := l.balances[id.String()][holder]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) setBalance(holder common.Address, id *big.Int, v *big.Int) {
	key := id.String()
	m, ok := l.balances[key]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.balances[key] = m
	}
	if v.Sign() == 0 {
		delete(m, holder)
		return
	}
	m[holder] = v
}

func (l *Ledger) credit(holder common.Address, id, amount *big.Int) {
	prev := new(big.Int).Set(l.balance(holder, id))
	l.setBalance(holder, id, new(big.Int).Add(prev, amount))
	l.record(func() { l.setBalance(holder, id, prev) })
}

func (l *Ledger) debit(holder common.Address, id, amount *big.Int) error {
	prev := new(big.Int).Set(l.balance(holder, id))
	if prev.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setBalance(holder, id, new(big.Int).Sub(prev, amount))
	l.record(func() { l.setBalance(holder, id, prev) })
	return nil
}

func checkPartition(partition []uint64, slots int) (uint64, error) {
	if len(partition) < 2 {
		return 0, ErrInvalidPartition
	}
	full := fullIndexSet(slots)
	var union uint64
	for _, indexSet := range partition {
		if indexSet == 0 || indexSet&^full != 0 || union&indexSet != 0 {
			return 0, ErrInvalidPartition
		}
		union |= indexSet
	}
	return union, nil
}

func cloneInts(in []*big.Int) []*big.Int {
	if in == nil {
		return nil
	}
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
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
