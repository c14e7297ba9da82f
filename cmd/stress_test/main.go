package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rl1809/warehouse-ledger/internal/adapter/handler"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC address of the warehouse server")
	initialStock := flag.Int64("stock", 20, "units received before the picks start")
	totalRequests := flag.Int("requests", 50, "concurrent single-unit picks")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	client := handler.NewInventoryClient(conn)

	// A fresh SKU per run keeps results independent of earlier runs.
	sku := "STRESS-" + strings.ToUpper(uuid.NewString()[:8])
	_, err = client.Receive(ctx, &handler.ReceiveRequest{
		RequestID: uuid.NewString(),
		SKU:       sku,
		Quantity:  *initialStock,
		Actor:     "stress-test",
		Item:      &handler.ItemJSON{SKU: sku, Description: "stress test item"},
	})
	if err != nil {
		log.Fatalf("failed to receive stock: %v", err)
	}

	var successCount, rejectedCount, errorCount atomic.Int32

	var g errgroup.Group
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		g.Go(func() error {
			_, err := client.Pick(ctx, &handler.PickRequest{
				RequestID: uuid.NewString(),
				Payload:   sku,
				Quantity:  1,
				Actor:     fmt.Sprintf("picker-%d", i),
			})
			switch status.Code(err) {
			case codes.OK:
				successCount.Add(1)
			case codes.FailedPrecondition:
				rejectedCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("pick %d: %v", i, err)
			}
			return nil
		})
	}

	g.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	rejected := rejectedCount.Load()
	wantRejected := int32(*totalRequests) - int32(*initialStock)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("SKU:              %s\n", sku)
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Picks:      %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejected)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(*initialStock) && rejected == wantRejected {
		fmt.Printf("PASS: Exactly %d picks succeeded, %d rejected\n", success, rejected)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d\n",
			*initialStock, wantRejected, success, rejected)
	}

	q, err := client.Quantity(ctx, &handler.QuantityRequest{SKU: sku})
	if err != nil {
		log.Fatalf("failed to read quantity: %v", err)
	}
	fmt.Printf("Final Quantity:   %d\n", q.Quantity)

	if q.Quantity == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", q.Quantity)
	}
}
