package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Smoke test against a running rhombus-api: mints a token, creates a
// document, reads it back, and checks the permission listing.
func main() {
	base := os.Getenv("RHOMBUS_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	token := obtainToken(client, base)

	doc := postJSON(client, base+"/v1/documents", token, map[string]any{
		"title":      "smoke",
		"visibility": "team",
	}, http.StatusCreated)

	id, _ := doc["id"].(string)
	if id == "" {
		log.Fatalf("create document: missing id in %v", doc)
	}

	got := getJSON(client, base+"/v1/documents/"+id, token, http.StatusOK)
	if got["title"] != "smoke" {
		log.Fatalf("get document: unexpected title %v", got["title"])
	}

	params := url.Values{}
	params.Set("ids", id)
	params.Set("actions", "document.view")
	listing := getJSON(client, base+"/v1/documents/permissions?"+params.Encode(), token, http.StatusOK)
	data, _ := listing["data"].(map[string]any)
	if _, ok := data[id]; !ok {
		log.Fatalf("permission listing missing entry for %s: %v", id, listing)
	}

	fmt.Printf("✅ rhombus-api smoke test passed: document=%s\n", id)
}

func obtainToken(client *http.Client, base string) string {
	resp := postJSON(client, base+"/v1/auth/token", "", map[string]any{
		"user": "smoke-user",
		"team": "smoke-team",
	}, http.StatusOK)
	token, _ := resp["token"].(string)
	if token == "" {
		log.Fatalf("token endpoint returned no token: %v", resp)
	}
	return token
}

func postJSON(client *http.Client, url, token string, body map[string]any, wantStatus int) map[string]any {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doJSON(client, req, wantStatus)
}

func getJSON(client *http.Client, url, token string, wantStatus int) map[string]any {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doJSON(client, req, wantStatus)
}

func doJSON(client *http.Client, req *http.Request, wantStatus int) map[string]any {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, want %d", req.Method, req.URL, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("%s %s: decode response: %v", req.Method, req.URL, err)
	}
	return out
}
