package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cinegrid/internal/api"
	"cinegrid/internal/cine"
)

func TestClientAssignSendsTokenAndBody(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	var gotBody api.AssignRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotAuth = r.Method, r.URL.Path, r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(api.SlotResponse{Slot: api.Slot{ID: 5, Phase: "mjpeg-loading"}})
	}))
	defer srv.Close()

	client := api.NewClient(strings.TrimPrefix(srv.URL, "http://"), "tok", nil)
	slot, err := client.Assign(context.Background(), 5, api.AssignRequest{Instance: cine.Instance{ID: "x", NumberOfFrames: 4}})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/slots/5" || gotAuth != "Bearer tok" {
		t.Fatalf("unexpected request %s %s auth=%q", gotMethod, gotPath, gotAuth)
	}
	if gotBody.Instance.ID != "x" || gotBody.Instance.NumberOfFrames != 4 {
		t.Fatalf("unexpected body %+v", gotBody)
	}
	if slot.ID != 5 || slot.Phase != "mjpeg-loading" {
		t.Fatalf("unexpected slot %+v", slot)
	}
}

func TestClientDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "slot 9 is outside the 2x2 grid", Kind: "invalid_reassignment"})
	}))
	defer srv.Close()

	err := api.NewClient(srv.URL, "", nil).Unassign(context.Background(), 9)
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Kind != "invalid_reassignment" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestClientPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := api.NewClient(srv.URL, "", nil).Cache(context.Background())
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Message != "gateway down" {
		t.Fatalf("expected plain text message, got %v", err)
	}
}

func TestClientRequiresAddress(t *testing.T) {
	if _, err := api.NewClient("", "", nil).Status(context.Background()); err == nil {
		t.Fatal("expected error without address")
	}
}
