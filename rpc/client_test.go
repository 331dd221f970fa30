package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallContextDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "getBlockCommitment" {
			t.Errorf("want method getBlockCommitment, got %q", req.Method)
		}
		resp := jsonrpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"commitment":[1,2,3],"totalStake":100}`),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := Dial(srv.URL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	res, err := c.GetBlockCommitment(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetBlockCommitment: %v", err)
	}
	if res.TotalStake != 100 || len(res.Commitment) != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCallContextPropagatesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := jsonrpcResponse{
			JSONRPC: "2.0",
			Error:   &jsonrpcError{Code: -32000, Message: "slot not found"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := Dial(srv.URL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := c.GetBlockCommitment(context.Background(), 1); err == nil {
		t.Fatalf("want an error surfaced from the JSON-RPC error field")
	}
}

func TestDialRejectsEmptyURL(t *testing.T) {
	if _, err := Dial(""); err == nil {
		t.Errorf("want an error dialing an empty url")
	}
}

func TestCallContextAssignsIncreasingIDs(t *testing.T) {
	var seen []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		seen = append(seen, req.ID)
		json.NewEncoder(w).Encode(jsonrpcResponse{JSONRPC: "2.0", ID: req.ID})
	}))
	defer srv.Close()

	c, err := Dial(srv.URL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.CallContext(context.Background(), nil, "noop"); err != nil {
			t.Fatalf("CallContext: %v", err)
		}
	}
	if len(seen) != 3 || seen[0] >= seen[1] || seen[1] >= seen[2] {
		t.Errorf("want 3 distinct, increasing request IDs, got %v", seen)
	}
}
