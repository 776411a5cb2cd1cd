package idempotency

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/pkg/db/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.MessageConsumption{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return conn
}

func TestEnsureFirstSeenIsNew(t *testing.T) {
	ledger, err := NewLedger(newTestDB(t))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	ctx := context.Background()

	isNew, err := ledger.Ensure(ctx, "audit-log", "outbox-1")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !isNew {
		t.Fatalf("first sighting must be new")
	}

	isNew, err = ledger.Ensure(ctx, "audit-log", "outbox-1")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if isNew {
		t.Fatalf("second sighting must be a duplicate")
	}
}

func TestEnsureIsScopedPerConsumer(t *testing.T) {
	ledger, err := NewLedger(newTestDB(t))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	ctx := context.Background()

	if isNew, _ := ledger.Ensure(ctx, "audit-log", "outbox-7"); !isNew {
		t.Fatalf("audit-log should see outbox-7 as new")
	}
	if isNew, _ := ledger.Ensure(ctx, "notifications", "outbox-7"); !isNew {
		t.Fatalf("a different consumer sees the same message as new")
	}
	if isNew, _ := ledger.Ensure(ctx, "notifications", "outbox-7"); isNew {
		t.Fatalf("replay to the same consumer must be a duplicate")
	}
}

func TestEnsureEmptyMessageIDAlwaysNew(t *testing.T) {
	ledger, err := NewLedger(newTestDB(t))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		isNew, err := ledger.Ensure(ctx, "audit-log", "")
		if err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		if !isNew {
			t.Fatalf("messages without an id cannot be deduplicated")
		}
	}
}

func TestEnsureRequiresConsumer(t *testing.T) {
	ledger, err := NewLedger(newTestDB(t))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	if _, err := ledger.Ensure(context.Background(), "", "outbox-1"); err == nil {
		t.Fatalf("expected error for empty consumer name")
	}
}

func TestEnsureRepeatedDeliveriesExactlyOneWins(t *testing.T) {
	ledger, err := NewLedger(newTestDB(t))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	ctx := context.Background()

	winners := 0
	for i := 0; i < 8; i++ {
		isNew, err := ledger.Ensure(ctx, "audit-log", "outbox-99")
		if err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		if isNew {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestEnsureTxRollsBackWithConsumerEffects(t *testing.T) {
	conn := newTestDB(t)
	ledger, err := NewLedger(conn)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	boom := fmt.Errorf("handler failed")
	err = conn.Transaction(func(tx *gorm.DB) error {
		isNew, err := ledger.EnsureTx(tx, "audit-log", "outbox-5")
		if err != nil {
			return err
		}
		if !isNew {
			t.Fatalf("expected new message inside tx")
		}
		return boom
	})
	if err != boom {
		t.Fatalf("expected handler error, got %v", err)
	}

	// the rollback must erase the dedup record so redelivery processes again
	isNew, err := ledger.Ensure(context.Background(), "audit-log", "outbox-5")
	if err != nil {
		t.Fatalf("Ensure after rollback: %v", err)
	}
	if !isNew {
		t.Fatalf("rolled back consumption must not count as processed")
	}
}
