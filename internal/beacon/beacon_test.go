package beacon

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/ctf-exchange/internal/codestore"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/clock"
)

var (
	owner    = common.HexToAddress("0x0a")
	stranger = common.HexToAddress("0xbad")
	implV1   = common.HexToAddress("0x1001")
	implV2   = common.HexToAddress("0x1002")
	implV3   = common.HexToAddress("0x1003")
	nonCode  = common.HexToAddress("0x1004")
)

func noop() codestore.Contract {
	return codestore.ContractFunc(func(context.Context, *codestore.Store, codestore.Frame) ([]byte, error) {
		return nil, nil
	})
}

func setup(t *testing.T) (*Beacon, *clock.Manual, *events.Recorder) {
	store := codestore.New()
	for _, a := range []common.Address{implV1, implV2, implV3} {
		require.NoError(t, store.Deploy(a, noop()))
	}
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	rec := events.NewRecorder()
	b, err := New(Options{
		Address:        common.HexToAddress("0xbeac"),
		Owner:          owner,
		Implementation: implV1,
		Clock:          clk,
		Bus:            events.NewBus(nil, rec),
	}, store)
	require.NoError(t, err)
	return b, clk, rec
}

func TestNewRequiresDeployedImplementation(t *testing.T) {
	_, err := New(Options{Owner: owner, Implementation: nonCode}, codestore.New())
	assert.ErrorIs(t, err, ErrNotContract)
	_, err = New(Options{Implementation: implV1}, codestore.New())
	assert.ErrorIs(t, err, ErrZeroOwner)
}

func TestScheduleAndExecuteUpgrade(t *testing.T) {
	ctx := context.Background()
	b, clk, rec := setup(t)

	require.NoError(t, b.ScheduleUpgrade(ctx, owner, implV2, time.Hour))
	assert.Equal(t, "UpgradeScheduled", b.State().Phase())

	assert.ErrorIs(t, b.ExecuteUpgrade(ctx, owner), ErrTimelockActive)
	clk.Warp(time.Hour - time.Second)
	assert.ErrorIs(t, b.ExecuteUpgrade(ctx, owner), ErrTimelockActive)
	clk.Warp(time.Second)
	require.NoError(t, b.ExecuteUpgrade(ctx, owner))

	impl, err := b.Implementation()
	require.NoError(t, err)
	assert.Equal(t, implV2, impl)
	st := b.State()
	assert.Equal(t, implV1, st.RollbackImpl)
	assert.Equal(t, common.Address{}, st.PendingImpl)
	assert.Equal(t, "Normal", st.Phase())
	assert.Len(t, rec.OfType(events.UpgradeExecuted), 1)
}

func TestSecondScheduleLeavesFirstPending(t *testing.T) {
	ctx := context.Background()
	b, _, _ := setup(t)

	require.NoError(t, b.ScheduleUpgrade(ctx, owner, implV2, time.Hour))
	first := b.State()

	assert.ErrorIs(t, b.ScheduleUpgrade(ctx, owner, implV3, time.Minute), ErrUpgradePending)
	after := b.State()
	assert.Equal(t, first.PendingImpl, after.PendingImpl)
	assert.Equal(t, first.PendingUpgradeTime, after.PendingUpgradeTime)

	require.NoError(t, b.CancelUpgrade(ctx, owner))
	assert.ErrorIs(t, b.CancelUpgrade(ctx, owner), ErrNoPendingUpgrade)
	assert.ErrorIs(t, b.ExecuteUpgrade(ctx, owner), ErrNoPendingUpgrade)
	require.NoError(t, b.ScheduleUpgrade(ctx, owner, implV3, 0))
}

func TestScheduleRejectsNonContract(t *testing.T) {
	b, _, _ := setup(t)
	assert.ErrorIs(t, b.ScheduleUpgrade(context.Background(), owner, nonCode, time.Hour), ErrNotContract)
	assert.ErrorIs(t, b.EmergencyUpgrade(context.Background(), owner, nonCode), ErrNotContract)
}

func TestRollbackIsSingleUse(t *testing.T) {
	ctx := context.Background()
	b, _, _ := setup(t)

	assert.ErrorIs(t, b.Rollback(ctx, owner), ErrNoRollback)
	require.NoError(t, b.ScheduleUpgrade(ctx, owner, implV2, 0))
	require.NoError(t, b.ExecuteUpgrade(ctx, owner))

	require.NoError(t, b.Rollback(ctx, owner))
	impl, _ := b.Implementation()
	assert.Equal(t, implV1, impl)
	assert.ErrorIs(t, b.Rollback(ctx, owner), ErrNoRollback)
}

func TestEmergencyUpgradeBypassesTimelock(t *testing.T) {
	ctx := context.Background()
	b, _, rec := setup(t)

	require.NoError(t, b.ScheduleUpgrade(ctx, owner, implV2, 24*time.Hour))
	require.NoError(t, b.EmergencyUpgrade(ctx, owner, implV3))

	impl, _ := b.Implementation()
	assert.Equal(t, implV3, impl)
	st := b.State()
	assert.Equal(t, common.Address{}, st.PendingImpl)
	assert.True(t, st.PendingUpgradeTime.IsZero())
	assert.Equal(t, implV1, st.RollbackImpl)
	assert.Len(t, rec.OfType(events.EmergencyUpgrade), 1)
}

func TestPauseBlocksImplementationReads(t *testing.T) {
	ctx := context.Background()
	b, _, _ := setup(t)

	require.NoError(t, b.Pause(ctx, owner))
	_, err := b.Implementation()
	assert.ErrorIs(t, err, ErrBeaconPaused)
	assert.Equal(t, "Paused", b.State().Phase())
	assert.ErrorIs(t, b.Pause(ctx, owner), ErrBeaconPaused)

	require.NoError(t, b.Unpause(ctx, owner))
	assert.ErrorIs(t, b.Unpause(ctx, owner), ErrNotPaused)
	impl, err := b.Implementation()
	require.NoError(t, err)
	assert.Equal(t, implV1, impl)
}

func TestOnlyOwner(t *testing.T) {
	ctx := context.Background()
	b, _, rec := setup(t)

	for name, op := range map[string]func() error{
		"schedule":  func() error { return b.ScheduleUpgrade(ctx, stranger, implV2, 0) },
		"execute":   func() error { return b.ExecuteUpgrade(ctx, stranger) },
		"cancel":    func() error { return b.CancelUpgrade(ctx, stranger) },
		"rollback":  func() error { return b.Rollback(ctx, stranger) },
		"emergency": func() error { return b.EmergencyUpgrade(ctx, stranger, implV2) },
		"pause":     func() error { return b.Pause(ctx, stranger) },
		"unpause":   func() error { return b.Unpause(ctx, stranger) },
		"transfer":  func() error { return b.TransferOwnership(ctx, stranger, stranger) },
	} {
		assert.ErrorIs(t, op(), ErrNotOwner, name)
	}
	assert.Empty(t, rec.Events())

	require.NoError(t, b.TransferOwnership(ctx, owner, stranger))
	assert.ErrorIs(t, b.Pause(ctx, owner), ErrNotOwner)
	assert.NoError(t, b.Pause(ctx, stranger))
}

type downSink struct{}

func (downSink) Publish(context.Context, events.Event) error { return errors.New("sink down") }

func TestPublishFailureIsLoggedNotReturned(t *testing.T) {
	store := codestore.New()
	require.NoError(t, store.Deploy(implV1, noop()))
	require.NoError(t, store.Deploy(implV2, noop()))
	var buf bytes.Buffer
	b, err := New(Options{
		Owner:          owner,
		Implementation: implV1,
		Clock:          clock.NewManual(time.Unix(1_700_000_000, 0)),
		Bus:            events.NewBus(nil, downSink{}),
		Logger:         slog.New(slog.NewTextHandler(&buf, nil)),
	}, store)
	require.NoError(t, err)

	require.NoError(t, b.EmergencyUpgrade(context.Background(), owner, implV2))
	assert.Contains(t, buf.String(), "event publish failed")
	assert.Contains(t, buf.String(), "sink down")
}
