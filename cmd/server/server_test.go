//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liamcoop/interventions/internal/config"
	"github.com/liamcoop/interventions/internal/testdb"
)

// TestEndToEnd_MonitoringCycle tests the complete workflow against postgres:
// 1. Create intervention, message group, rule and participant
// 2. Schedule and dispatch the question
// 3. Answer it through the loopback endpoint
// 4. Check the answer was stored as a participant variable
func TestEndToEnd_MonitoringCycle(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)

	server, err := newServer(config.Default(), db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(server)
	defer ts.Close()

	baseURL := ts.URL + "/api/v1"

	// Step 1: Create intervention
	t.Log("Step 1: Creating intervention...")
	ivResp := makeRequest(t, "POST", baseURL+"/interventions", map[string]interface{}{
		"name":             "Sleep",
		"active":           true,
		"monitoringActive": true,
	})
	ivID := ivResp["id"].(string)
	t.Logf("Created intervention: %s", ivID)

	makeRequest(t, "POST", baseURL+"/interventions/"+ivID+"/message-groups", map[string]interface{}{
		"id":                   "question",
		"expectsAnswer":        true,
		"validationExpression": `^(\d+)( hours)?$`,
		"messages": []map[string]interface{}{{
			"textWithPlaceholders":         "Hours slept, $participantName?",
			"storeValueToVariableWithName": "$sleep",
		}},
	})

	makeRequest(t, "POST", baseURL+"/interventions/"+ivID+"/rules", map[string]interface{}{
		"id":                    "ask",
		"ruleWithPlaceholders":  "1",
		"equationSign":          "CALCULATE_VALUE_BUT_RESULT_IS_ALWAYS_TRUE",
		"sendMessageIfTrue":     true,
		"relatedMessageGroupId": "question",
		"hourToSendMessage":     0,
	})

	makeRequest(t, "POST", baseURL+"/interventions/"+ivID+"/participants", map[string]interface{}{
		"id":               "p1",
		"nickname":         "Sam",
		"dialogOption":     map[string]string{"type": "SMS", "data": "+4100"},
		"monitoringActive": true,
		"screeningDone":    true,
		"dataAvailable":    true,
	})

	// Step 2: Schedule and dispatch
	t.Log("Step 2: Scheduling and dispatching...")
	if err := server.manager.LoadAll(ctx); err != nil {
		t.Fatalf("Failed to load rule sets: %v", err)
	}
	if err := server.coordinator.ScheduleMessages(ctx); err != nil {
		t.Fatalf("Failed to schedule messages: %v", err)
	}
	if err := server.coordinator.DispatchOutgoing(ctx); err != nil {
		t.Fatalf("Failed to dispatch messages: %v", err)
	}

	out := server.loopback.Outbox()
	if len(out) != 1 || out[0].Text != "Hours slept, Sam?" {
		t.Fatalf("Expected one question in the outbox, got %+v", out)
	}

	// Step 3: Answer
	t.Log("Step 3: Answering...")
	makeRequest(t, "POST", baseURL+"/loopback/received", map[string]interface{}{
		"sender":  "+4100",
		"message": " 7 Hours ",
	})
	if err := server.coordinator.ReceiveMessages(ctx); err != nil {
		t.Fatalf("Failed to receive messages: %v", err)
	}
	if err := server.coordinator.ReactOnAnsweredMessages(ctx); err != nil {
		t.Fatalf("Failed to react on answers: %v", err)
	}

	// Step 4: Verify
	t.Log("Step 4: Verifying stored answer...")
	varsResp := makeRequestNoBody(t, "GET", baseURL+"/participants/p1/variables")
	found := false
	for _, v := range varsResp["variables"].([]interface{}) {
		entry := v.(map[string]interface{})
		if entry["name"] == "$sleep" && entry["value"] == "7" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected $sleep = 7, got %v", varsResp["variables"])
	}

	msgsResp := makeRequestNoBody(t, "GET", baseURL+"/participants/p1/messages")
	msgs := msgsResp["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 dialog message, got %d", len(msgs))
	}
	if status := msgs[0].(map[string]interface{})["status"]; status != "SENT_AND_ANSWERED_AND_PROCESSED" {
		t.Errorf("Expected status SENT_AND_ANSWERED_AND_PROCESSED, got %v", status)
	}

	t.Log("✅ End-to-end test passed!")
}

// TestEndToEnd_RulesSurviveRestart checks that a second server on the same
// database serves the rules created through the first one
func TestEndToEnd_RulesSurviveRestart(t *testing.T) {
	db := testdb.New(t)

	first, err := newServer(config.Default(), db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(first)
	ivResp := makeRequest(t, "POST", ts.URL+"/api/v1/interventions", map[string]interface{}{"name": "Steps"})
	ivID := ivResp["id"].(string)
	makeRequest(t, "POST", ts.URL+"/api/v1/interventions/"+ivID+"/rules", map[string]interface{}{
		"id":                   "r1",
		"ruleWithPlaceholders": "$steps",
		"equationSign":         "CALCULATED_VALUE_IS_BIGGER_THAN",
		"comparisonTermWithPlaceholders": "1000",
	})
	ts.Close()

	second, err := newServer(config.Default(), db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts = httptest.NewServer(second)
	defer ts.Close()

	rulesResp := makeRequestNoBody(t, "GET", ts.URL+"/api/v1/interventions/"+ivID+"/rules")
	if n := len(rulesResp["rules"].([]interface{})); n != 1 {
		t.Errorf("Expected 1 rule after restart, got %d", n)
	}
}

// TestEndToEnd_RuleConflict tests creating the same rule twice
func TestEndToEnd_RuleConflict(t *testing.T) {
	db := testdb.New(t)

	server, err := newServer(config.Default(), db)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(server)
	defer ts.Close()

	ivResp := makeRequest(t, "POST", ts.URL+"/api/v1/interventions", map[string]interface{}{"name": "Mood"})
	url := ts.URL + "/api/v1/interventions/" + ivResp["id"].(string) + "/rules"
	rule := map[string]interface{}{
		"id":                   "r1",
		"ruleWithPlaceholders": "$mood",
		"equationSign":         "TEXT_VALUE_EQUALS",
		"comparisonTermWithPlaceholders": "good",
	}
	makeRequest(t, "POST", url, rule)

	resp, err := makeHTTPRequest("POST", url, rule)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", resp.StatusCode)
	}
}

// Helper function to make HTTP requests
func makeRequest(t *testing.T, method, url string, body interface{}) map[string]interface{} {
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// Helper function to make HTTP requests without body
func makeRequestNoBody(t *testing.T, method, url string) map[string]interface{} {
	return makeRequest(t, method, url, nil)
}

func makeHTTPRequest(method, url string, body interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}
