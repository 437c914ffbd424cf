package receiving

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocklight/stocklight/internal/ledger"
	"github.com/stocklight/stocklight/internal/shared"
)

type memStore struct {
	po           PurchaseOrder
	items        map[int64]POItem
	stocks       map[string]int64
	known        map[string]bool
	receipts     []Receipt
	receiptItems []ReceiptItem
	movements    []ledger.Movement
	nextID       int64
}

func newMemStore() *memStore {
	return &memStore{
		items:  make(map[int64]POItem),
		stocks: make(map[string]int64),
		known:  make(map[string]bool),
		nextID: 1000,
	}
}

func (s *memStore) registerStock(productID, variantID, stock int64) {
	key := stockKey(productID, variantID)
	s.known[key] = true
	s.stocks[key] = stock
}

func stockKey(productID, variantID int64) string {
	return fmt.Sprintf("%d:%d", productID, variantID)
}

type memTx struct {
	store        *memStore
	po           PurchaseOrder
	items        map[int64]POItem
	stocks       map[string]int64
	receipts     []Receipt
	receiptItems []ReceiptItem
	movements    []ledger.Movement
}

// WithTx stages every write and swaps it in only when fn succeeds, so a
// failing line aborts the whole receipt like a rolled back transaction.
func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memTx{
		store:  s,
		po:     s.po,
		items:  make(map[int64]POItem, len(s.items)),
		stocks: make(map[string]int64, len(s.stocks)),
	}
	for k, v := range s.items {
		tx.items[k] = v
	}
	for k, v := range s.stocks {
		tx.stocks[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.po = tx.po
	s.items = tx.items
	s.stocks = tx.stocks
	s.receipts = append(s.receipts, tx.receipts...)
	s.receiptItems = append(s.receiptItems, tx.receiptItems...)
	s.movements = append(s.movements, tx.movements...)
	return nil
}

func (s *memStore) GetPurchaseOrder(ctx context.Context, poID int64) (PurchaseOrder, []POItem, error) {
	if s.po.ID != poID {
		return PurchaseOrder{}, nil, shared.ErrNotFound
	}
	items := []POItem{}
	for _, item := range s.items {
		items = append(items, item)
	}
	return s.po, items, nil
}

func (tx *memTx) GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error) {
	if tx.po.ID != poID {
		return PurchaseOrder{}, shared.ErrNotFound
	}
	return tx.po, nil
}

func (tx *memTx) ListItems(ctx context.Context, poID int64) ([]POItem, error) {
	items := []POItem{}
	for _, item := range tx.items {
		if item.POID == poID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (tx *memTx) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	tx.store.nextID++
	receipt.ID = tx.store.nextID
	tx.receipts = append(tx.receipts, receipt)
	return receipt.ID, nil
}

func (tx *memTx) InsertReceiptItem(ctx context.Context, item ReceiptItem) error {
	tx.receiptItems = append(tx.receiptItems, item)
	return nil
}

func (tx *memTx) AddReceivedQuantity(ctx context.Context, poItemID, poID, quantity int64) (POItem, error) {
	item, ok := tx.items[poItemID]
	if !ok || item.POID != poID {
		return POItem{}, shared.ErrNotFound
	}
	item.QuantityReceived += quantity
	tx.items[poItemID] = item
	return item, nil
}

func (tx *memTx) UpdateStatus(ctx context.Context, poID int64, status Status, receivedDate *time.Time) error {
	tx.po.Status = status
	if receivedDate != nil {
		tx.po.ReceivedDate = receivedDate
	}
	return nil
}

func (tx *memTx) Ledger() ledger.TxRepository {
	return &memLedgerTx{tx: tx}
}

type memLedgerTx struct {
	tx *memTx
}

func (l *memLedgerTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	l.tx.store.nextID++
	m.ID = l.tx.store.nextID
	l.tx.movements = append(l.tx.movements, m)
	return m.ID, nil
}

func (l *memLedgerTx) ApplyDelta(ctx context.Context, productID, variantID, delta int64, clamp bool) (int64, bool, error) {
	key := stockKey(productID, variantID)
	if !l.tx.store.known[key] {
		return 0, false, shared.ErrNotFound
	}
	next := l.tx.stocks[key] + delta
	clamped := false
	if next < 0 {
		if !clamp {
			return 0, false, shared.ErrInsufficientStock
		}
		next = 0
		clamped = true
	}
	l.tx.stocks[key] = next
	return next, clamped, nil
}

type fakeIdemStore struct {
	keys    map[string]bool
	deleted []string
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{keys: make(map[string]bool)}
}

func (f *fakeIdemStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdemStore) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func newReceiveFixture(policy string) (*memStore, *Service) {
	return newReceiveFixtureWithIdempotency(policy, nil)
}

func newReceiveFixtureWithIdempotency(policy string, idem IdempotencyPort) (*memStore, *Service) {
	store := newMemStore()
	store.po = PurchaseOrder{ID: 1, PONumber: "PO-2026-001", SupplierID: 3, Status: StatusSent}
	store.items[1] = POItem{ID: 1, POID: 1, ProductID: 100, QuantityOrdered: 10, UnitCost: 2.5}
	store.items[2] = POItem{ID: 2, POID: 1, ProductID: 200, QuantityOrdered: 5, UnitCost: 4}
	store.registerStock(100, 0, 0)
	store.registerStock(200, 0, 0)

	ledgerSvc := ledger.NewService(nil, nil, nil, nil, nil, ledger.ServiceConfig{Policy: ledger.PolicyStrict}, nil)
	svc := NewService(store, ledgerSvc, idem, nil, nil, nil, nil, ServiceConfig{OverReceiptPolicy: policy}, nil)
	return store, svc
}

func TestReceivePartialThenComplete(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)
	ctx := context.Background()

	result, err := svc.Receive(ctx, ReceiveInput{
		POID:       1,
		ReceivedBy: 7,
		Lines: []ReceiveLine{
			{POItemID: 1, ProductID: 100, Quantity: 6, UnitCost: 2.5},
			{POItemID: 2, ProductID: 200, Quantity: 5, UnitCost: 4},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, result.POStatus)
	require.NotEmpty(t, result.ReceiptNumber)
	require.Empty(t, result.OverReceived)

	require.Equal(t, StatusPartial, store.po.Status)
	require.Nil(t, store.po.ReceivedDate)
	require.Equal(t, int64(6), store.stocks[stockKey(100, 0)])
	require.Equal(t, int64(5), store.stocks[stockKey(200, 0)])
	require.Len(t, store.receipts, 1)
	require.Len(t, store.receiptItems, 2)
	require.Len(t, store.movements, 2)
	for _, m := range store.movements {
		require.Equal(t, ledger.MovementReceipt, m.Type)
		require.Equal(t, "po_receipt", m.ReferenceType)
	}

	result, err = svc.Receive(ctx, ReceiveInput{
		POID:       1,
		ReceivedBy: 7,
		Lines:      []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 4, UnitCost: 2.5}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, result.POStatus)
	require.Equal(t, StatusReceived, store.po.Status)
	require.NotNil(t, store.po.ReceivedDate)
	require.Equal(t, int64(10), store.items[1].QuantityReceived)
	require.Equal(t, int64(10), store.stocks[stockKey(100, 0)])
}

func TestReceiveAbortsWholeReceiptOnBadLine(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)

	_, err := svc.Receive(context.Background(), ReceiveInput{
		POID:       1,
		ReceivedBy: 7,
		Lines: []ReceiveLine{
			{POItemID: 1, ProductID: 100, Quantity: 6},
			{POItemID: 99, ProductID: 100, Quantity: 1},
		},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	// The valid first line must not survive the failed second one.
	require.Empty(t, store.receipts)
	require.Empty(t, store.receiptItems)
	require.Empty(t, store.movements)
	require.Zero(t, store.stocks[stockKey(100, 0)])
	require.Zero(t, store.items[1].QuantityReceived)
	require.Equal(t, StatusSent, store.po.Status)
}

func TestReceiveRejectsCancelledPO(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)
	store.po.Status = StatusCancelled

	_, err := svc.Receive(context.Background(), ReceiveInput{
		POID:       1,
		ReceivedBy: 7,
		Lines:      []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Empty(t, store.receipts)
}

func TestReceiveOverReceiptReject(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptReject)

	_, err := svc.Receive(context.Background(), ReceiveInput{
		POID:       1,
		ReceivedBy: 7,
		Lines:      []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 12}},
	})
	require.ErrorIs(t, err, shared.ErrOverReceipt)
	require.Empty(t, store.receipts)
	require.Zero(t, store.items[1].QuantityReceived)
	require.Zero(t, store.stocks[stockKey(100, 0)])
}

func TestReceiveOverReceiptFlag(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)

	result, err := svc.Receive(context.Background(), ReceiveInput{
		POID:       1,
		ReceivedBy: 7,
		Lines: []ReceiveLine{
			{POItemID: 1, ProductID: 100, Quantity: 12},
			{POItemID: 2, ProductID: 200, Quantity: 5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, result.OverReceived)
	require.Equal(t, StatusReceived, result.POStatus)
	require.Equal(t, int64(12), store.items[1].QuantityReceived)
	require.Equal(t, int64(12), store.stocks[stockKey(100, 0)])
}

func TestReceiveProductMismatch(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)

	_, err := svc.Receive(context.Background(), ReceiveInput{
		POID:       1,
		ReceivedBy: 7,
		Lines:      []ReceiveLine{{POItemID: 1, ProductID: 200, Quantity: 3}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, store.receipts)
}

func TestReceiveValidation(t *testing.T) {
	_, svc := newReceiveFixture(OverReceiptFlag)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{POID: 1, ReceivedBy: 7})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Receive(ctx, ReceiveInput{
		POID:  1,
		Lines: []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 0}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Receive(ctx, ReceiveInput{
		POID:  1,
		Lines: []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 2, UnitCost: -1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Receive(ctx, ReceiveInput{
		Lines: []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 2}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiveDuplicateIdempotencyKey(t *testing.T) {
	idem := newFakeIdemStore()
	store, svc := newReceiveFixtureWithIdempotency(OverReceiptFlag, idem)
	ctx := context.Background()

	input := ReceiveInput{
		POID:           1,
		ReceivedBy:     7,
		IdempotencyKey: "rcv-001",
		Lines:          []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 6}},
	}
	_, err := svc.Receive(ctx, input)
	require.NoError(t, err)
	require.True(t, idem.keys["rcv-001"])

	_, err = svc.Receive(ctx, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	// The resubmission applied nothing.
	require.Len(t, store.receipts, 1)
	require.Len(t, store.movements, 1)
	require.Equal(t, int64(6), store.items[1].QuantityReceived)
	require.Equal(t, int64(6), store.stocks[stockKey(100, 0)])
}

func TestReceiveFailureReleasesIdempotencyKey(t *testing.T) {
	idem := newFakeIdemStore()
	store, svc := newReceiveFixtureWithIdempotency(OverReceiptFlag, idem)
	ctx := context.Background()

	input := ReceiveInput{
		POID:           1,
		ReceivedBy:     7,
		IdempotencyKey: "rcv-002",
		Lines:          []ReceiveLine{{POItemID: 99, ProductID: 100, Quantity: 1}},
	}
	_, err := svc.Receive(ctx, input)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.False(t, idem.keys["rcv-002"])
	require.Equal(t, []string{"rcv-002"}, idem.deleted)
	require.Empty(t, store.receipts)

	// A corrected retry may reuse the released key.
	input.Lines[0].POItemID = 1
	_, err = svc.Receive(ctx, input)
	require.NoError(t, err)
	require.Len(t, store.receipts, 1)
}

func TestReceiveDisjointLinesKeepBothUpdates(t *testing.T) {
	// Sequential stand-in for two receipts against disjoint PO items; the
	// per-PO FOR UPDATE lock serializes the real transactions the same way,
	// and the truly concurrent variant needs the database-backed path.
	store, svc := newReceiveFixture(OverReceiptFlag)
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{
		POID:       1,
		ReceivedBy: 7,
		Lines:      []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 4}},
	})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{
		POID:       1,
		ReceivedBy: 8,
		Lines:      []ReceiveLine{{POItemID: 2, ProductID: 200, Quantity: 3}},
	})
	require.NoError(t, err)

	require.Equal(t, int64(4), store.items[1].QuantityReceived)
	require.Equal(t, int64(3), store.items[2].QuantityReceived)
	var totalReceived int64
	for _, item := range store.items {
		totalReceived += item.QuantityReceived
	}
	require.Equal(t, int64(7), totalReceived)
	require.Equal(t, StatusPartial, store.po.Status)
}

func TestReceiveSequentialReceiptsAccumulate(t *testing.T) {
	store, svc := newReceiveFixture(OverReceiptFlag)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Receive(ctx, ReceiveInput{
			POID:       1,
			ReceivedBy: 7,
			Lines:      []ReceiveLine{{POItemID: 1, ProductID: 100, Quantity: 2}},
		})
		require.NoError(t, err)
	}
	require.Equal(t, int64(6), store.items[1].QuantityReceived)
	require.Equal(t, int64(6), store.stocks[stockKey(100, 0)])
	require.Len(t, store.receipts, 3)
	require.Equal(t, StatusPartial, store.po.Status)
}

func TestSetStatusTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		to      Status
		wantErr error
	}{
		{"draft to sent", StatusDraft, StatusSent, nil},
		{"sent back to draft", StatusSent, StatusDraft, nil},
		{"draft cancelled", StatusDraft, StatusCancelled, nil},
		{"partial cancelled", StatusPartial, StatusCancelled, nil},
		{"received cannot cancel", StatusReceived, StatusCancelled, shared.ErrInvalidState},
		{"cancelled stays cancelled", StatusCancelled, StatusCancelled, shared.ErrInvalidState},
		{"draft cannot skip to draft", StatusDraft, StatusDraft, shared.ErrInvalidState},
		{"partial is resolver owned", StatusSent, StatusPartial, shared.ErrValidation},
		{"received is resolver owned", StatusSent, StatusReceived, shared.ErrValidation},
		{"unknown status", StatusSent, Status("shipped"), shared.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, svc := newReceiveFixture(OverReceiptFlag)
			store.po.Status = tc.from

			updated, err := svc.SetStatus(context.Background(), 1, tc.to, 9, "test")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Equal(t, tc.from, store.po.Status)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.to, updated.Status)
			require.Equal(t, tc.to, store.po.Status)
		})
	}
}

func TestGetPurchaseOrder(t *testing.T) {
	_, svc := newReceiveFixture(OverReceiptFlag)
	ctx := context.Background()

	po, items, err := svc.GetPurchaseOrder(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "PO-2026-001", po.PONumber)
	require.Len(t, items, 2)

	_, _, err = svc.GetPurchaseOrder(ctx, 0)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.GetPurchaseOrder(ctx, 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
