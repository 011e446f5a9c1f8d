//go:build ignore
// +build ignore

// Package main provides a manual concurrency stress test for the checkout API.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <library_id> <item_id> <user1_id> [user2_id ...]
//
// Or use the convenience environment variables:
//
//	LIBRARY_ID=<uuid> ITEM_ID=<uuid> USER_IDS=<uuid1>,<uuid2>,... go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Fires N goroutines (one per user) all attempting to check out the same
//     item simultaneously.
//  2. Prints how many got a loan vs. a conflict carrying the winner's loan.
//  3. Exactly one checkout must succeed; every other caller must receive
//     HTTP 409. Anything else means the one-open-loan invariant is broken.
//
// Prerequisites:
//   - Server must be running and the item must be available.
//   - The library, item and users must exist.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type checkoutResult struct {
	UserID     string
	StatusCode int
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	libraryID := os.Getenv("LIBRARY_ID")
	itemID := os.Getenv("ITEM_ID")
	userIDsEnv := os.Getenv("USER_IDS")

	var userIDs []string
	if userIDsEnv != "" {
		userIDs = strings.Split(userIDsEnv, ",")
	}

	// Support positional args: script <library_id> <item_id> [user_ids...]
	args := os.Args[1:]
	if len(args) >= 1 {
		libraryID = args[0]
	}
	if len(args) >= 2 {
		itemID = args[1]
	}
	if len(args) >= 3 {
		userIDs = args[2:]
	}

	if libraryID == "" || itemID == "" {
		log.Fatal("Usage: LIBRARY_ID=<uuid> ITEM_ID=<uuid> USER_IDS=<u1,u2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <library_id> <item_id> <user1_id> [user2_id ...]")
	}
	if len(userIDs) == 0 {
		log.Fatal("At least one user ID must be provided via USER_IDS env or positional args")
	}

	fmt.Printf("=== Checkout Concurrency Test ===\n")
	fmt.Printf("Server  : %s\n", serverAddr)
	fmt.Printf("Library : %s\n", libraryID)
	fmt.Printf("Item    : %s\n", itemID)
	fmt.Printf("Users   : %d\n\n", len(userIDs))

	results := make([]checkoutResult, len(userIDs))
	var wg sync.WaitGroup

	// Fire all goroutines simultaneously using a barrier.
	start := make(chan struct{})

	for i, uid := range userIDs {
		wg.Add(1)
		go func(idx int, userID string) {
			defer wg.Done()
			<-start // wait for the barrier
			results[idx] = attemptCheckout(serverAddr, libraryID, itemID, strings.TrimSpace(userID))
		}(i, uid)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)

	wg.Wait()
	fmt.Println("All requests completed.")
	fmt.Println()

	var created, conflicts, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] user=%-38s err=%v\n", r.UserID, r.Err)
		case r.StatusCode == http.StatusCreated:
			created++
			fmt.Printf("  [LOAN] user=%-38s status=%d\n", r.UserID, r.StatusCode)
		case r.StatusCode == http.StatusConflict:
			conflicts++
			fmt.Printf("  [CONF] user=%-38s status=%d\n", r.UserID, r.StatusCode)
		default:
			failures++
			fmt.Printf("  [FAIL] user=%-38s status=%d unexpected response\n", r.UserID, r.StatusCode)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Loans created : %d\n", created)
	fmt.Printf("Conflicts     : %d\n", conflicts)
	fmt.Printf("Failures      : %d\n", failures)
	fmt.Printf("Total         : %d\n\n", len(userIDs))

	fmt.Println("--- Invariant Check ---")
	fmt.Println("The item row is locked FOR UPDATE before the open-loan check, so at most")
	fmt.Println("one of these requests can create an open loan.")
	if created != 1 {
		fmt.Printf("[FAILURE] expected exactly 1 created loan, got %d\n", created)
		os.Exit(1)
	}
	if failures > 0 {
		fmt.Printf("[WARNING] %d request(s) failed — check server logs for details.\n", failures)
		os.Exit(1)
	}
	fmt.Println("OK: exactly one checkout won, everyone else got a conflict.")
}

// attemptCheckout sends POST /loans for the given user and reports the status.
func attemptCheckout(serverAddr, libraryID, itemID, userID string) checkoutResult {
	body, _ := json.Marshal(map[string]string{
		"item_id": itemID,
		"user_id": userID,
	})

	req, err := http.NewRequest(http.MethodPost, serverAddr+"/loans", bytes.NewReader(body))
	if err != nil {
		return checkoutResult{UserID: userID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Library-ID", libraryID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return checkoutResult{UserID: userID, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return checkoutResult{UserID: userID, StatusCode: resp.StatusCode}
}
