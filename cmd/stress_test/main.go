package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	baseURL       = flag.String("addr", "http://localhost:8080", "storefront HTTP base URL")
	productID     = flag.Int64("product", 1, "product id to buy")
	customerID    = flag.Int64("customer", 9001, "customer id to act as")
	totalRequests = flag.Int("n", 50, "concurrent deliveries of the same event")
	webhookSecret = flag.String("secret", "", "webhook signing secret; empty sends unsigned payloads")
)

type orderView struct {
	ID       int64  `json:"id"`
	PublicID string `json:"public_id"`
	Status   string `json:"status"`
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type intentView struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func main() {
	flag.Parse()
	client := &http.Client{Timeout: 10 * time.Second}

	// Set up one order with a payment intent
	if _, err := call(client, http.MethodPost, "/api/cart/items", map[string]any{"product_id": *productID, "qty": 1}, nil, nil); err != nil {
		log.Fatalf("add to cart: %v", err)
	}

	var order orderView
	key := map[string]string{"Idempotency-Key": uuid.NewString()}
	if _, err := call(client, http.MethodPost, "/api/checkout/create-order", nil, key, &order); err != nil {
		log.Fatalf("create order: %v", err)
	}

	var intent intentView
	if _, err := call(client, http.MethodPost, "/api/payments/create-intent", map[string]any{"order_id": order.ID}, nil, &intent); err != nil {
		log.Fatalf("create intent: %v", err)
	}
	log.Printf("order %d (%s %s) intent %s", order.ID, order.Total, order.Currency, intent.PaymentIntentID)

	payload := successEvent(order, intent.PaymentIntentID)

	var (
		applied    atomic.Int32
		duplicates atomic.Int32
		failed     atomic.Int32
	)

	// Deliver the same event concurrently
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			status, err := deliver(client, payload)
			switch {
			case err != nil:
				failed.Add(1)
			case status == "ok":
				applied.Add(1)
			case status == "ignored":
				duplicates.Add(1)
			default:
				failed.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	var final orderView
	if _, err := call(client, http.MethodGet, "/api/orders/"+strconv.FormatInt(order.ID, 10), nil, nil, &final); err != nil {
		log.Fatalf("get order: %v", err)
	}

	fmt.Println("========== WEBHOOK REPLAY RESULTS ==========")
	fmt.Printf("Deliveries:       %d\n", *totalRequests)
	fmt.Printf("Applied:          %d\n", applied.Load())
	fmt.Printf("Duplicates:       %d\n", duplicates.Load())
	fmt.Printf("Errors:           %d\n", failed.Load())
	fmt.Printf("Order Status:     %s\n", final.Status)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("============================================")

	if applied.Load() == 1 && duplicates.Load() == int32(*totalRequests-1) {
		fmt.Println("PASS: event applied exactly once")
	} else {
		fmt.Printf("FAIL: expected 1 applied/%d duplicates, got %d/%d\n",
			*totalRequests-1, applied.Load(), duplicates.Load())
	}

	if final.Status == "paid" {
		fmt.Println("PASS: order paid")
	} else {
		fmt.Printf("FAIL: expected order paid, got %s\n", final.Status)
	}
}

func successEvent(order orderView, handleID string) []byte {
	amount, _ := strconv.ParseFloat(order.Total, 64)
	ev := map[string]any{
		"id":          "evt_stress_" + uuid.NewString(),
		"object":      "event",
		"type":        "payment_intent.succeeded",
		"api_version": "2023-10-16",
		"data": map[string]any{
			"object": map[string]any{
				"id":       handleID,
				"object":   "payment_intent",
				"amount":   int64(amount*100 + 0.5),
				"currency": "usd",
				"metadata": map[string]string{
					"order_id":  strconv.FormatInt(order.ID, 10),
					"public_id": order.PublicID,
				},
			},
		},
	}
	b, _ := json.Marshal(ev)
	return b
}

func deliver(client *http.Client, payload []byte) (string, error) {
	headers := map[string]string{}
	if *webhookSecret != "" {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: *webhookSecret})
		headers["Stripe-Signature"] = signed.Header
	}

	var out struct {
		Status string `json:"status"`
	}
	if _, err := call(client, http.MethodPost, "/api/payments/webhook", json.RawMessage(payload), headers, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func call(client *http.Client, method, path string, body any, headers map[string]string, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, *baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Customer-ID", strconv.FormatInt(*customerID, 10))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
