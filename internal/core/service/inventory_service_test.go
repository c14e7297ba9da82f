package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

func newStockedInventory(t *testing.T, sku string, stock int64, opts ...envOption) *testEnv {
	t.Helper()
	env := newTestEnv(t, opts...)
	env.addItem(t, domain.Item{SKU: sku, BinLocation: "R1-S1"})
	if stock > 0 {
		env.receive(t, sku, stock)
	}
	return env
}

func TestPick_Success(t *testing.T) {
	env := newStockedInventory(t, "item-1", 10)

	result, err := env.inventory.Pick(context.Background(), PickRequest{
		Payload: "item-1", Quantity: 1, Actor: "user-1", RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if q := env.quantity(t, "item-1"); q != 9 {
		t.Errorf("expected stock 9, got %d", q)
	}
	if result.Event.Delta != -1 {
		t.Errorf("expected delta -1, got %d", result.Event.Delta)
	}
	if result.Event.Reference != "bin:R1-S1" {
		t.Errorf("expected reference bin:R1-S1, got %q", result.Event.Reference)
	}
}

func TestPick_InsufficientStock(t *testing.T) {
	env := newStockedInventory(t, "item-1", 0)

	_, err := env.inventory.Pick(context.Background(), PickRequest{
		Payload: "item-1", Quantity: 1, Actor: "user-1", RequestID: "req-1",
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got: %v", err)
	}
}

func TestPick_DuplicateRequest(t *testing.T) {
	env := newStockedInventory(t, "item-1", 10)
	req := PickRequest{Payload: "item-1", Quantity: 1, Actor: "user-1", RequestID: "req-1"}

	first, err := env.inventory.Pick(context.Background(), req)
	if err != nil {
		t.Fatalf("first pick failed: %v", err)
	}

	// Retry with the same request ID
	second, err := env.inventory.Pick(context.Background(), req)
	if err != nil {
		t.Fatalf("retried pick failed: %v", err)
	}
	if second.Event.ID != first.Event.ID {
		t.Errorf("expected event %d on retry, got %d", first.Event.ID, second.Event.ID)
	}

	// Stock should only be decremented once
	if q := env.quantity(t, "item-1"); q != 9 {
		t.Errorf("expected stock 9, got %d", q)
	}
}

func TestPick_Concurrent(t *testing.T) {
	initialStock := int64(20)
	totalRequests := 50

	env := newStockedInventory(t, "item", initialStock)

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := env.inventory.Pick(context.Background(), PickRequest{
				Payload:   "item",
				Quantity:  1,
				Actor:     "user",
				RequestID: fmt.Sprintf("req-%d", id),
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				failCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if failCount.Load() != int32(totalRequests)-int32(initialStock) {
		t.Errorf("expected %d failures, got %d", int32(totalRequests)-int32(initialStock), failCount.Load())
	}
	if q := env.quantity(t, "item"); q != 0 {
		t.Errorf("expected stock 0, got %d", q)
	}
}

func TestPick_EventQueued(t *testing.T) {
	queue := NewPublishQueue(1, 100)
	env := newStockedInventory(t, "item-1", 10, withPublisher(queue))
	<-queue.Queues()[0] // the receive

	_, err := env.inventory.Pick(context.Background(), PickRequest{
		Payload: "item-1@R9", Quantity: 2, Actor: "user-1", RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("pick failed: %v", err)
	}

	ev := <-queue.Queues()[0]

	if ev.SKU != "item-1" {
		t.Errorf("expected item-1, got %s", ev.SKU)
	}
	if ev.Delta != -2 {
		t.Errorf("expected delta -2, got %d", ev.Delta)
	}
	if ev.Type != domain.EventPick {
		t.Errorf("expected pick event, got %s", ev.Type)
	}
	if ev.Reference != "bin:R9" {
		t.Errorf("expected reference bin:R9, got %q", ev.Reference)
	}
	if ev.ID == 0 {
		t.Error("expected non-zero event ID")
	}

	queue.Close()
}

func TestPick_BadLabel(t *testing.T) {
	env := newStockedInventory(t, "item-1", 10)

	result, err := env.inventory.Pick(context.Background(), PickRequest{Payload: "item-1@", Quantity: 1, Actor: "user-1"})
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got: %v", err)
	}
	if result.Resolution.Kind != domain.Malformed {
		t.Errorf("expected malformed resolution, got %s", result.Resolution.Kind)
	}

	result, err = env.inventory.Pick(context.Background(), PickRequest{Payload: "item-2", Quantity: 1, Actor: "user-1"})
	if !errors.Is(err, domain.ErrUnknownSKU) {
		t.Errorf("expected ErrUnknownSKU, got: %v", err)
	}
	if result.Resolution.Kind != domain.Unknown {
		t.Errorf("expected unknown resolution, got %s", result.Resolution.Kind)
	}

	if q := env.quantity(t, "item-1"); q != 10 {
		t.Errorf("expected stock 10, got %d", q)
	}
}

func TestReceive_CreatesItem(t *testing.T) {
	env := newTestEnv(t)

	ev, err := env.inventory.Receive(context.Background(), ReceiveRequest{
		Quantity:  4,
		Actor:     "dock",
		RequestID: "po-7",
		Item:      &domain.Item{Description: "hinge", ReorderThreshold: 5},
	})
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if len(ev.SKU) != 12 {
		t.Errorf("expected a generated 12 character sku, got %q", ev.SKU)
	}

	item, err := env.catalog.Get(context.Background(), ev.SKU)
	if err != nil {
		t.Fatalf("generated item not in catalog: %v", err)
	}
	if item.Description != "hinge" {
		t.Errorf("expected description hinge, got %q", item.Description)
	}

	// Same request again books nothing new.
	again, err := env.inventory.Receive(context.Background(), ReceiveRequest{
		SKU: ev.SKU, Quantity: 4, Actor: "dock", RequestID: "po-7",
	})
	if err != nil {
		t.Fatalf("retried receive failed: %v", err)
	}
	if again.ID != ev.ID {
		t.Errorf("expected event %d on retry, got %d", ev.ID, again.ID)
	}
	if q := env.quantity(t, ev.SKU); q != 4 {
		t.Errorf("expected stock 4, got %d", q)
	}

	lines, err := env.inventory.ReorderReport(context.Background())
	if err != nil {
		t.Fatalf("reorder report failed: %v", err)
	}
	if len(lines) != 1 || lines[0].SKU != ev.SKU || lines[0].Quantity != 4 {
		t.Errorf("expected %s on the reorder report, got %+v", ev.SKU, lines)
	}
}
