// Command reconcile_audit cross-checks the reconciled approval snapshot served
// by the API against the raw legacy request-list feed for a set of documents.
// It is an operator tool for the legacy cutover: a drift between the two
// sources that the reconciler does not explain is a bug in one of them.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type snapshot struct {
	DocumentID      string `json:"document_id"`
	FinalStatus     string `json:"final_status"`
	CurrentLevel    int    `json:"current_level"`
	LevelsCompleted int    `json:"levels_completed"`
	PendingRequests []struct {
		ID string `json:"id"`
	} `json:"pending_requests"`
	History []struct {
		ID string `json:"id"`
	} `json:"history"`
}

type legacyRow struct {
	RequestID    string      `json:"RequestID"`
	Status       *string     `json:"Status"`
	IsCancelled  interface{} `json:"IsCancelled"`
	ApprovalDate *string     `json:"ApprovalDate"`
}

type report struct {
	documentID    string
	apiPending    int
	apiDecided    int
	legacyPending int
	legacyDecided int
	err           error
}

func main() {
	var (
		apiBase    string
		legacyBase string
		token      string
		docsArg    string
		timeout    time.Duration
	)

	flag.StringVar(&apiBase, "api-base", "http://localhost:8080", "DMS API base URL")
	flag.StringVar(&legacyBase, "legacy-base", "http://localhost:3000", "Legacy API base URL")
	flag.StringVar(&token, "token", "", "Bearer token for the DMS API")
	flag.StringVar(&docsArg, "docs", "", "Comma-separated document IDs to audit")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	docIDs := splitDocs(docsArg)
	if len(docIDs) == 0 {
		log.Fatal("no document ids given, use -docs doc-1,doc-2")
	}

	client := &http.Client{Timeout: timeout}
	drift := 0
	for _, docID := range docIDs {
		rep := auditDocument(client, apiBase, legacyBase, token, docID)
		printReport(rep)
		if rep.err != nil || rep.apiPending > rep.legacyPending+rep.legacyDecided {
			drift++
		}
	}

	fmt.Printf("Documents audited: %d, drift suspects: %d\n", len(docIDs), drift)
	if drift > 0 {
		os.Exit(1)
	}
}

func splitDocs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func auditDocument(client *http.Client, apiBase, legacyBase, token, docID string) report {
	rep := report{documentID: docID}

	snap, err := fetchSnapshot(client, apiBase, token, docID)
	if err != nil {
		rep.err = fmt.Errorf("api snapshot: %w", err)
		return rep
	}
	rep.apiPending = len(snap.PendingRequests)
	rep.apiDecided = len(snap.History)

	rows, err := fetchLegacy(client, legacyBase, docID)
	if err != nil {
		rep.err = fmt.Errorf("legacy feed: %w", err)
		return rep
	}
	for _, row := range rows {
		if cancelled(row.IsCancelled) {
			continue
		}
		if decided(row) {
			rep.legacyDecided++
		} else {
			rep.legacyPending++
		}
	}
	return rep
}

func fetchSnapshot(client *http.Client, base, token, docID string) (*snapshot, error) {
	endpoint := fmt.Sprintf("%s/api/v1/documents/%s/approvals", strings.TrimRight(base, "/"), url.PathEscape(docID))
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var envelope struct {
		Data snapshot `json:"data"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

func fetchLegacy(client *http.Client, base, docID string) ([]legacyRow, error) {
	endpoint := fmt.Sprintf("%s/api/approval-requests?documentId=%s", strings.TrimRight(base, "/"), url.QueryEscape(docID))
	resp, err := client.Get(endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var rows []legacyRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// cancelled tolerates the legacy flag arriving as bool, number, or string.
func cancelled(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "true", "yes", "y":
			return true
		}
	}
	return false
}

func decided(row legacyRow) bool {
	if row.ApprovalDate != nil {
		raw := strings.TrimSpace(*row.ApprovalDate)
		if raw != "" && !strings.EqualFold(raw, "null") {
			return true
		}
	}
	if row.Status == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(*row.Status)) {
	case "approved", "1", "rejected", "0":
		return true
	}
	return false
}

func printReport(rep report) {
	if rep.err != nil {
		fmt.Printf("%-20s ERROR %v\n", rep.documentID, rep.err)
		return
	}
	fmt.Printf("%-20s api pending=%d decided=%d | legacy pending=%d decided=%d\n",
		rep.documentID, rep.apiPending, rep.apiDecided, rep.legacyPending, rep.legacyDecided)
}
