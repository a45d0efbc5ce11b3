package posting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian/internal/accounting/journals"
	"github.com/meridian-books/meridian/internal/accounting/periods"
	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
	"github.com/meridian-books/meridian/internal/inventory"
	"github.com/meridian-books/meridian/internal/shared"
)

// memoryState backs all three tx repositories so a fake runner can snapshot
// and restore it, mimicking transaction rollback.
type memoryState struct {
	periods    []periods.Period
	journals   map[int64]journals.Journal
	lines      map[int64][]journals.JournalLine
	layers     map[int64]inventory.Layer
	movements  map[int64]inventory.Movement
	warehouses map[int64]inventory.WarehouseProfile
	nextID     int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		journals:   make(map[int64]journals.Journal),
		lines:      make(map[int64][]journals.JournalLine),
		layers:     make(map[int64]inventory.Layer),
		movements:  make(map[int64]inventory.Movement),
		warehouses: make(map[int64]inventory.WarehouseProfile),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.periods = append(c.periods, s.periods...)
	for k, v := range s.journals {
		c.journals[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]journals.JournalLine(nil), v...)
	}
	for k, v := range s.layers {
		c.layers[k] = v
	}
	for k, v := range s.movements {
		c.movements[k] = v
	}
	for k, v := range s.warehouses {
		c.warehouses[k] = v
	}
	c.nextID = s.nextID
	return c
}

type memoryRunner struct {
	state *memoryState
	store *memoryStore
}

func (r *memoryRunner) WithLedgerTx(ctx context.Context, _ time.Duration, fn func(context.Context, LedgerTx) error) error {
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryLedgerTx{state: r.state, store: r.store}); err != nil {
		*r.state = *snapshot
		return err
	}
	return nil
}

type memoryLedgerTx struct {
	state *memoryState
	store *memoryStore
}

func (t *memoryLedgerTx) Journals() journals.TxRepository   { return (*journalsTx)(t) }
func (t *memoryLedgerTx) Inventory() inventory.TxRepository { return (*inventoryTx)(t) }
func (t *memoryLedgerTx) Periods() periods.TxRepository     { return (*periodsTx)(t) }
func (t *memoryLedgerTx) Records() TxStore                  { return t.store }

type periodsTx memoryLedgerTx

func (t *periodsTx) FindPeriodByDateForUpdate(_ context.Context, orgID int64, date time.Time) (periods.Period, error) {
	for _, p := range t.state.periods {
		if p.OrgID == orgID && p.Covers(date) {
			return p, nil
		}
	}
	return periods.Period{}, shared.ErrNotFound
}

type journalsTx memoryLedgerTx

func (t *journalsTx) InsertJournal(_ context.Context, in journals.PostingInput) (journals.Journal, error) {
	t.state.nextID++
	debit, credit := in.Totals()
	j := journals.Journal{
		ID: t.state.nextID, OrgID: in.OrgID, Number: t.state.nextID,
		JournalDate: in.JournalDate, PostingDate: in.PostingDate,
		SourceModule: in.SourceModule, SourceID: in.SourceID, Memo: in.Memo,
		TotalDebit: debit, TotalCredit: credit,
		Status: journals.JournalStatusActive, ReversalOf: in.ReversalOf, PostedBy: in.PostedBy,
	}
	t.state.journals[j.ID] = j
	return j, nil
}

func (t *journalsTx) InsertJournalLines(_ context.Context, journalID int64, lines []journals.PostingLineInput) error {
	for _, line := range lines {
		t.state.lines[journalID] = append(t.state.lines[journalID], journals.JournalLine{
			JournalID: journalID, AccountID: line.AccountID,
			Debit: line.Debit, Credit: line.Credit, Description: line.Description,
		})
	}
	return nil
}

func (t *journalsTx) GetJournalWithLines(_ context.Context, orgID, journalID int64) (journals.Journal, []journals.JournalLine, error) {
	j, ok := t.state.journals[journalID]
	if !ok || j.OrgID != orgID {
		return journals.Journal{}, nil, accshared.ErrJournalNotFound
	}
	return j, t.state.lines[journalID], nil
}

func (t *journalsTx) UpdateJournalStatus(_ context.Context, orgID, journalID int64, status journals.JournalStatus) error {
	j, ok := t.state.journals[journalID]
	if !ok || j.OrgID != orgID {
		return accshared.ErrJournalNotFound
	}
	j.Status = status
	t.state.journals[journalID] = j
	return nil
}

type inventoryTx memoryLedgerTx

func (t *inventoryTx) InsertLayer(_ context.Context, layer inventory.Layer) (inventory.Layer, error) {
	t.state.nextID++
	layer.ID = t.state.nextID
	if layer.CreatedAt.IsZero() {
		layer.CreatedAt = time.Now().UTC()
	}
	t.state.layers[layer.ID] = layer
	return layer, nil
}

func (t *inventoryTx) GetLayersForConsumption(_ context.Context, orgID, itemID, warehouseID int64, asOf time.Time) ([]inventory.Layer, error) {
	var out []inventory.Layer
	for _, l := range t.state.layers {
		if l.OrgID == orgID && l.ItemID == itemID && l.WarehouseID == warehouseID &&
			l.QtyRemaining > 0 && !l.CreatedAt.After(asOf) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *inventoryTx) GetLayer(_ context.Context, orgID, layerID int64) (inventory.Layer, error) {
	l, ok := t.state.layers[layerID]
	if !ok || l.OrgID != orgID {
		return inventory.Layer{}, accshared.ErrLayerNotFound
	}
	return l, nil
}

func (t *inventoryTx) DecrementLayer(_ context.Context, layerID int64, qty float64) error {
	l, ok := t.state.layers[layerID]
	if !ok {
		return accshared.ErrLayerNotFound
	}
	if l.QtyRemaining < qty {
		return accshared.ErrLayerInsufficientQty
	}
	l.QtyRemaining -= qty
	t.state.layers[layerID] = l
	return nil
}

func (t *inventoryTx) IncrementLayer(_ context.Context, layerID int64, qty float64) error {
	l, ok := t.state.layers[layerID]
	if !ok {
		return accshared.ErrLayerNotFound
	}
	l.QtyRemaining += qty
	t.state.layers[layerID] = l
	return nil
}

func (t *inventoryTx) InsertMovement(_ context.Context, m inventory.Movement) (int64, error) {
	t.state.nextID++
	m.ID = t.state.nextID
	t.state.movements[m.ID] = m
	return m.ID, nil
}

func (t *inventoryTx) GetMovement(_ context.Context, orgID, movementID int64) (inventory.Movement, error) {
	m, ok := t.state.movements[movementID]
	if !ok || m.OrgID != orgID {
		return inventory.Movement{}, accshared.ErrMovementNotFound
	}
	return m, nil
}

func (t *inventoryTx) UpdateMovementStatus(_ context.Context, orgID, movementID int64, status inventory.MovementStatus) error {
	m, ok := t.state.movements[movementID]
	if !ok || m.OrgID != orgID {
		return accshared.ErrMovementNotFound
	}
	m.Status = status
	t.state.movements[movementID] = m
	return nil
}

func (t *inventoryTx) GetOnHand(_ context.Context, orgID, itemID, warehouseID int64) (float64, error) {
	var total float64
	for _, l := range t.state.layers {
		if l.OrgID == orgID && l.ItemID == itemID && l.WarehouseID == warehouseID {
			total += l.QtyRemaining
		}
	}
	return total, nil
}

func (t *inventoryTx) GetOnHandValue(_ context.Context, orgID int64) (float64, error) {
	var total float64
	for _, l := range t.state.layers {
		if l.OrgID == orgID {
			total += l.QtyRemaining * l.UnitCost
		}
	}
	return total, nil
}

func (t *inventoryTx) GetWarehouseProfile(_ context.Context, orgID, warehouseID int64) (inventory.WarehouseProfile, error) {
	if p, ok := t.state.warehouses[warehouseID]; ok && p.OrgID == orgID {
		return p, nil
	}
	return inventory.WarehouseProfile{ID: warehouseID, OrgID: orgID}, nil
}

// memoryStore mirrors the storage-enforced idempotency semantics. It doubles
// as the tx-scoped record store the runner hands to the unit of work.
type memoryStore struct {
	records     map[string]*Record
	completeErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*Record)}
}

func storeKey(orgID int64, operation, key string) string {
	return fmt.Sprintf("%d|%s|%s", orgID, operation, key)
}

func (s *memoryStore) Begin(_ context.Context, orgID int64, operation, key string) (Record, bool, error) {
	k := storeKey(orgID, operation, key)
	if rec, ok := s.records[k]; ok {
		switch rec.Status {
		case RecordStatusCompleted:
			return *rec, true, nil
		case RecordStatusFailed:
			rec.Status = RecordStatusPending
			return *rec, false, nil
		default:
			return Record{}, false, accshared.ErrOperationInFlight
		}
	}
	rec := &Record{ID: uuid.New(), OrgID: orgID, Operation: operation, Key: key, Status: RecordStatusPending}
	s.records[k] = rec
	return *rec, false, nil
}

func (s *memoryStore) Complete(_ context.Context, orgID int64, operation, key string, result []byte) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	rec, ok := s.records[storeKey(orgID, operation, key)]
	if !ok || rec.Status != RecordStatusPending {
		return errors.New("record is not pending")
	}
	rec.Status = RecordStatusCompleted
	rec.Result = result
	return nil
}

func (s *memoryStore) Fail(_ context.Context, orgID int64, operation, key string) error {
	k := storeKey(orgID, operation, key)
	if rec, ok := s.records[k]; ok && rec.Status == RecordStatusPending {
		rec.Status = RecordStatusFailed
	}
	return nil
}

func newTestCoordinator(state *memoryState) (*Coordinator, *memoryStore) {
	store := newMemoryStore()
	return NewCoordinator(store, &memoryRunner{state: state, store: store}, nil, nil, 0), store
}

func openDay() time.Time {
	return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
}

func closedDay() time.Time {
	return time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
}

func fixtureState() *memoryState {
	state := newMemoryState()
	state.periods = []periods.Period{
		{ID: 1, OrgID: 1, Code: "2025-01",
			StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			Status:    periods.PeriodStatusClosed},
		{ID: 3, OrgID: 1, Code: "2025-03",
			StartDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
			Status:    periods.PeriodStatusOpen},
	}
	return state
}

func balancedPosting(orgID int64) journals.PostingInput {
	return journals.PostingInput{
		OrgID:        orgID,
		JournalDate:  openDay(),
		PostingDate:  openDay(),
		SourceModule: "AR",
		SourceID:     uuid.New(),
		Lines: []journals.PostingLineInput{
			{AccountID: 10, Debit: 500.00},
			{AccountID: 20, Credit: 500.00},
		},
	}
}

func TestExecuteCommitsExactlyOnce(t *testing.T) {
	state := fixtureState()
	coord, store := newTestCoordinator(state)
	ctx := context.Background()

	calls := 0
	req := Request{
		OrgID: 1, IdempotencyKey: "inv-2025-001", Operation: "invoice.post", PostingDate: openDay(),
		Fn: func(ctx context.Context, ltx LedgerTx) (Result, error) {
			calls++
			entry, err := journals.CreateInTx(ctx, ltx.Journals(), balancedPosting(1))
			if err != nil {
				return Result{}, err
			}
			return Result{JournalIDs: []int64{entry.ID}}, nil
		},
	}

	first, err := coord.Execute(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Replayed)
	require.Len(t, first.JournalIDs, 1)
	require.Equal(t, 1, calls)

	second, err := coord.Execute(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.JournalIDs, second.JournalIDs)
	require.Equal(t, 1, calls)
	require.Len(t, state.journals, 1)
	require.Equal(t, RecordStatusCompleted, store.records[storeKey(1, "invoice.post", "inv-2025-001")].Status)
}

func TestExecuteRecordFlipFailureRollsBackPosting(t *testing.T) {
	state := fixtureState()
	coord, store := newTestCoordinator(state)
	ctx := context.Background()

	req := Request{
		OrgID: 1, IdempotencyKey: "inv-2025-010", Operation: "invoice.post", PostingDate: openDay(),
		Fn: func(ctx context.Context, ltx LedgerTx) (Result, error) {
			entry, err := journals.CreateInTx(ctx, ltx.Journals(), balancedPosting(1))
			if err != nil {
				return Result{}, err
			}
			return Result{JournalIDs: []int64{entry.ID}}, nil
		},
	}

	// The COMPLETED flip shares the transaction with the ledger writes, so
	// when it cannot be recorded nothing commits and the key stays retryable.
	store.completeErr = errors.New("record update lost")
	_, err := coord.Execute(ctx, req)
	require.Error(t, err)
	require.Empty(t, state.journals)
	require.Equal(t, RecordStatusFailed, store.records[storeKey(1, "invoice.post", "inv-2025-010")].Status)

	store.completeErr = nil
	result, err := coord.Execute(ctx, req)
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Len(t, state.journals, 1)
}

func TestExecuteRollsBackAndAllowsRetry(t *testing.T) {
	state := fixtureState()
	coord, _ := newTestCoordinator(state)
	ctx := context.Background()

	boom := errors.New("downstream failure")
	failing := true
	req := Request{
		OrgID: 1, IdempotencyKey: "inv-2025-002", Operation: "invoice.post", PostingDate: openDay(),
		Fn: func(ctx context.Context, ltx LedgerTx) (Result, error) {
			entry, err := journals.CreateInTx(ctx, ltx.Journals(), balancedPosting(1))
			if err != nil {
				return Result{}, err
			}
			if failing {
				return Result{}, boom
			}
			return Result{JournalIDs: []int64{entry.ID}}, nil
		},
	}

	_, err := coord.Execute(ctx, req)
	require.ErrorIs(t, err, boom)
	require.Empty(t, state.journals)

	// The failed record is reclaimed, not replayed.
	failing = false
	result, err := coord.Execute(ctx, req)
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Len(t, state.journals, 1)
}

func TestExecutePendingKeyRejected(t *testing.T) {
	coord, store := newTestCoordinator(fixtureState())
	_, _, err := store.Begin(context.Background(), 1, "invoice.post", "inv-2025-003")
	require.NoError(t, err)

	_, err = coord.Execute(context.Background(), Request{
		OrgID: 1, IdempotencyKey: "inv-2025-003", Operation: "invoice.post", PostingDate: openDay(),
		Fn: func(context.Context, LedgerTx) (Result, error) { return Result{}, nil },
	})
	require.ErrorIs(t, err, accshared.ErrOperationInFlight)
}

func TestExecuteRejectsUnbalancedWrites(t *testing.T) {
	state := fixtureState()
	coord, _ := newTestCoordinator(state)

	_, err := coord.Execute(context.Background(), Request{
		OrgID: 1, IdempotencyKey: "inv-2025-004", Operation: "invoice.post", PostingDate: openDay(),
		Fn: func(ctx context.Context, ltx LedgerTx) (Result, error) {
			// Write lines that disagree with each other behind validation's back.
			entry, err := ltx.Journals().InsertJournal(ctx, balancedPosting(1))
			if err != nil {
				return Result{}, err
			}
			err = ltx.Journals().InsertJournalLines(ctx, entry.ID, []journals.PostingLineInput{
				{AccountID: 10, Debit: 500.00},
				{AccountID: 20, Credit: 300.00},
			})
			if err != nil {
				return Result{}, err
			}
			return Result{JournalIDs: []int64{entry.ID}}, nil
		},
	})
	var ub *accshared.UnbalancedJournalError
	require.ErrorAs(t, err, &ub)
	require.Empty(t, state.journals)
}

func TestExecuteClosedPeriod(t *testing.T) {
	state := fixtureState()
	coord, _ := newTestCoordinator(state)
	ctx := context.Background()

	fn := func(ctx context.Context, ltx LedgerTx) (Result, error) {
		in := balancedPosting(1)
		in.JournalDate = closedDay()
		in.PostingDate = closedDay()
		entry, err := journals.CreateInTx(ctx, ltx.Journals(), in)
		if err != nil {
			return Result{}, err
		}
		return Result{JournalIDs: []int64{entry.ID}}, nil
	}

	_, err := coord.Execute(ctx, Request{
		OrgID: 1, IdempotencyKey: "inv-2025-005", Operation: "invoice.post", PostingDate: closedDay(), Fn: fn,
	})
	var closed *accshared.PeriodClosedError
	require.ErrorAs(t, err, &closed)
	require.Empty(t, state.journals)

	// Reversal-flagged work may post into the closed period.
	_, err = coord.Execute(ctx, Request{
		OrgID: 1, IdempotencyKey: "inv-2025-006", Operation: "invoice.reverse", PostingDate: closedDay(),
		AllowReversal: true, Fn: fn,
	})
	require.NoError(t, err)
}

func TestExecuteVetoesNegativeInventory(t *testing.T) {
	state := fixtureState()
	state.layers[900] = inventory.Layer{ID: 900, OrgID: 1, ItemID: 5, WarehouseID: 2, QtyRemaining: -3, UnitCost: 10}
	coord, _ := newTestCoordinator(state)

	req := Request{
		OrgID: 1, IdempotencyKey: "adj-2025-001", Operation: "adjustment.post", PostingDate: openDay(),
		Fn: func(context.Context, LedgerTx) (Result, error) {
			return Result{InventoryChanges: []InventoryChange{{ItemID: 5, WarehouseID: 2}}}, nil
		},
	}
	_, err := coord.Execute(context.Background(), req)
	var negative *accshared.NegativeInventoryError
	require.ErrorAs(t, err, &negative)
	require.Equal(t, int64(5), negative.ItemID)

	// The same state passes once the warehouse tolerates negative stock.
	state.warehouses[2] = inventory.WarehouseProfile{ID: 2, OrgID: 1, AllowNegative: true}
	req.IdempotencyKey = "adj-2025-002"
	_, err = coord.Execute(context.Background(), req)
	require.NoError(t, err)
}

func TestVoidDocument(t *testing.T) {
	state := fixtureState()
	coord, _ := newTestCoordinator(state)
	ctx := context.Background()

	var journalID int64
	var movementID int64
	_, err := coord.Execute(ctx, Request{
		OrgID: 1, IdempotencyKey: "bill-2025-001", Operation: "bill.post", PostingDate: openDay(),
		Fn: func(ctx context.Context, ltx LedgerTx) (Result, error) {
			entry, err := journals.CreateInTx(ctx, ltx.Journals(), balancedPosting(1))
			if err != nil {
				return Result{}, err
			}
			journalID = entry.ID
			_, movement, err := inventory.ProcessInbound(ctx, ltx.Inventory(), inventory.InboundInput{
				OrgID: 1, ItemID: 5, WarehouseID: 2, Qty: 10, UnitCost: 50,
				SourceType: inventory.LayerSourcePurchase, SourceID: "bill-1", PostingDate: openDay(),
			})
			if err != nil {
				return Result{}, err
			}
			movementID = movement.ID
			return Result{JournalIDs: []int64{entry.ID}, MovementIDs: []int64{movement.ID}}, nil
		},
	})
	require.NoError(t, err)

	result, err := coord.VoidDocument(ctx, nil, VoidRequest{
		OrgID: 1, DocType: "bill", DocID: 1, IdempotencyKey: "void-bill-1",
		ReversalDate: openDay(), ActorID: 7, Reason: "entered twice",
		JournalIDs:  []int64{journalID},
		MovementIDs: []int64{movementID},
	})
	require.NoError(t, err)
	require.Len(t, result.JournalIDs, 1)
	require.Len(t, result.MovementIDs, 1)

	require.Equal(t, journals.JournalStatusReversed, state.journals[journalID].Status)
	require.Equal(t, inventory.MovementStatusReversed, state.movements[movementID].Status)

	// Document references stay free-form text all the way into storage.
	require.Equal(t, "bill:1:void", state.movements[result.MovementIDs[0]].SourceID)

	onHand := 0.0
	for _, l := range state.layers {
		if l.ItemID == 5 && l.WarehouseID == 2 {
			onHand += l.QtyRemaining
		}
	}
	require.InDelta(t, 0, onHand, 0.0001)
}

type blockingChecker struct{}

func (blockingChecker) HasIrreversibleDependents(context.Context, int64, string, int64) (bool, error) {
	return true, nil
}

func TestVoidDocumentBlockedByDependents(t *testing.T) {
	coord, _ := newTestCoordinator(fixtureState())
	_, err := coord.VoidDocument(context.Background(), blockingChecker{}, VoidRequest{
		OrgID: 1, DocType: "invoice", DocID: 9, IdempotencyKey: "void-inv-9", ReversalDate: openDay(),
	})
	require.ErrorIs(t, err, accshared.ErrDocumentHasDependents)
}
