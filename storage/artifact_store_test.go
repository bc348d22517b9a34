package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"splat-orchestrator/core/models"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Endpoint: "s3.amazonaws.com", Bucket: "splats"}, false},
		{"missing endpoint", Config{Bucket: "splats"}, true},
		{"scheme in endpoint", Config{Endpoint: "https://s3.amazonaws.com", Bucket: "splats"}, true},
		{"missing bucket", Config{Endpoint: "s3.amazonaws.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	key := models.JobKey{UserID: "u1", ProjectName: "garden"}
	tests := []struct{ got, want string }{
		{DatasetPrefix(key), "u1/garden"},
		{DatasetArchiveKey(key), "u1/garden/garden.zip"},
		{MeshPrefix(key), "u1/garden/garden-mesh"},
		{SplatKey(key), "u1/garden/garden-mesh/point_cloud.splat"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPresignGetIsOffline(t *testing.T) {
	// With a region configured the client signs locally without a location lookup.
	store, err := NewArtifactStore(Config{
		Endpoint:   "127.0.0.1:9",
		AccessKey:  "AKIDEXAMPLE",
		SecretKey:  "secret",
		Region:     "us-east-1",
		Bucket:     "splats",
		PresignTTL: 2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewArtifactStore() err=%v", err)
	}

	raw, err := store.PresignGet(context.Background(), "u1/garden/garden-mesh/point_cloud.splat")
	if err != nil {
		t.Fatalf("PresignGet() err=%v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	if !strings.HasSuffix(u.Path, "/splats/u1/garden/garden-mesh/point_cloud.splat") {
		t.Errorf("path = %s", u.Path)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "120" {
		t.Errorf("X-Amz-Expires = %s, want 120", got)
	}
	if got := store.URI("/u1/garden"); got != "s3://splats/u1/garden" {
		t.Errorf("URI() = %s", got)
	}
}
