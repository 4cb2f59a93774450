// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package webclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/inkwell/services/pipeline/resilience"
)

func TestCMSClient_PublishArticle(t *testing.T) {
	var gotAuth string
	var gotArticle Article
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/articles" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotArticle); err != nil {
			t.Fatalf("failed to decode article: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(PublishResult{ID: "42", URL: "https://site/a/42"})
	}))
	defer server.Close()

	client, err := NewCMSClient(server.URL, "secret-token", time.Second)
	if err != nil {
		t.Fatalf("NewCMSClient failed: %v", err)
	}

	result, err := client.PublishArticle(context.Background(), Article{
		Title: "Title", Body: "Body", HeroImageURL: "http://img/a",
	})
	if err != nil {
		t.Fatalf("PublishArticle failed: %v", err)
	}
	if result.URL != "https://site/a/42" {
		t.Errorf("wrong URL: %s", result.URL)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("wrong auth header: %q", gotAuth)
	}
	if gotArticle.HeroImageURL != "http://img/a" {
		t.Errorf("hero image not sent: %+v", gotArticle)
	}
}

func TestCMSClient_ValidatesArticle(t *testing.T) {
	client, _ := NewCMSClient("http://localhost:1", "", time.Second)
	if _, err := client.PublishArticle(context.Background(), Article{Title: "no body"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCMSClient_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := NewCMSClient(server.URL, "", time.Second)
	_, err := client.PublishArticle(context.Background(), Article{Title: "T", Body: "B"})
	if err == nil {
		t.Fatal("expected error")
	}
	if resilience.Classify(err) != resilience.FaultTransient {
		t.Errorf("5xx should classify transient, got %s", resilience.Classify(err))
	}
}

func TestCMSClient_RateLimitIsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := NewCMSClient(server.URL, "", time.Second)
	_, err := client.PublishArticle(context.Background(), Article{Title: "T", Body: "B"})
	if !errors.Is(err, resilience.ErrRateLimited) {
		t.Errorf("429 should wrap ErrRateLimited, got %v", err)
	}
}

func TestImageClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "database sharding" {
			t.Errorf("wrong query: %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "api-key" {
			t.Errorf("wrong auth: %q", got)
		}
		w.Write([]byte(`{"photos":[
			{"url":"http://img/page","photographer":"Ada","alt":"racks","width":2400,
			 "src":{"large":"http://img/large"}},
			{"url":"","photographer":"skip me","alt":"","width":100,"src":{"large":""}}
		]}`))
	}))
	defer server.Close()

	client, err := NewImageClient(server.URL, "api-key", "pexels", time.Second)
	if err != nil {
		t.Fatalf("NewImageClient failed: %v", err)
	}

	assets, err := client.Search(context.Background(), "database sharding", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected 1 usable asset, got %d", len(assets))
	}
	if assets[0].URL != "http://img/large" {
		t.Errorf("should prefer the large src URL, got %s", assets[0].URL)
	}
	if assets[0].Credit != "Ada" || assets[0].WidthPixels != 2400 || assets[0].Provider != "pexels" {
		t.Errorf("asset fields wrong: %+v", assets[0])
	}
}

func TestImageClient_EmptyQueryIsError(t *testing.T) {
	client, _ := NewImageClient("http://localhost:1", "k", "", time.Second)
	if _, err := client.Search(context.Background(), "", 5); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestImageClient_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := NewImageClient(server.URL, "k", "", time.Second)
	_, err := client.Search(context.Background(), "q", 5)
	if resilience.Classify(err) != resilience.FaultTransient {
		t.Errorf("5xx should classify transient, got %v", err)
	}
}
