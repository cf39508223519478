package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"rmcerp.io/internal/ids"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func main() {
	base := os.Getenv("RMCERP_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	user, pass := os.Getenv("RMCERP_SMOKE_USER"), os.Getenv("RMCERP_SMOKE_PASSWORD")
	if user == "" {
		user, pass = "admin", "admin123"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	var login struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/auth/login", map[string]string{"username": user, "password": pass}, http.StatusOK, &login); err != nil {
		log.Fatalf("login: %v", err)
	}
	c.token = login.Token

	name := "smoke-" + ids.New()
	var created struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/customers", map[string]string{"customer_name": name}, http.StatusCreated, &created); err != nil {
		log.Fatalf("create customer: %v", err)
	}

	var customer map[string]any
	path := fmt.Sprintf("/customers/%d", created.ID)
	if err := c.call(ctx, http.MethodGet, path, nil, http.StatusOK, &customer); err != nil {
		log.Fatalf("get customer: %v", err)
	}
	if customer["customer_name"] != name || customer["is_active"] != float64(1) {
		log.Fatalf("unexpected customer: %v", customer)
	}

	if err := c.call(ctx, http.MethodDelete, path, nil, http.StatusOK, nil); err != nil {
		log.Fatalf("delete customer: %v", err)
	}

	fmt.Printf("smoke test passed: customer %d\n", created.ID)
}

func (c *client) call(ctx context.Context, method, path string, body any, want int, dst any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", ids.New())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != want || !env.Success {
		return fmt.Errorf("status %d: %s", resp.StatusCode, env.Message)
	}
	if dst == nil {
		return nil
	}
	return json.Unmarshal(env.Data, dst)
}
