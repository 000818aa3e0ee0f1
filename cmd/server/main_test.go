package main

import "testing"

func TestResolveObjectEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		ssl     bool
		wantErr bool
	}{
		{raw: "minio.local:9000", want: "minio.local:9000", ssl: true},
		{raw: "http://minio.local:9000/", want: "minio.local:9000", ssl: false},
		{raw: "https://s3.example.com/base/", want: "s3.example.com/base", ssl: true},
		{raw: "ftp://files.example.com", wantErr: true},
		{raw: "http://", wantErr: true},
	}
	for _, tt := range tests {
		got, ssl, err := resolveObjectEndpoint(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("resolveObjectEndpoint(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("resolveObjectEndpoint(%q): %v", tt.raw, err)
		}
		if got != tt.want || ssl != tt.ssl {
			t.Fatalf("resolveObjectEndpoint(%q) = %q, %v; want %q, %v", tt.raw, got, ssl, tt.want, tt.ssl)
		}
	}
}

func TestStoreOptionsFromEnv(t *testing.T) {
	t.Setenv("PGSTORE_DSN", "postgres://localhost/wearsync")
	t.Setenv("PGSTORE_SCHEMA", "health")
	t.Setenv("GITSTORE_GIT_URL", "https://git.example/records.git")
	t.Setenv("OBJECTSTORE_ENDPOINT", "")

	opts, err := storeOptionsFromEnv()
	if err != nil {
		t.Fatalf("storeOptionsFromEnv: %v", err)
	}
	if opts.Postgres == nil || opts.Postgres.Schema != "health" {
		t.Fatalf("unexpected postgres options %+v", opts.Postgres)
	}
	if !opts.UseGitStore || opts.GitRemote != "https://git.example/records.git" {
		t.Fatalf("git store not enabled: %+v", opts)
	}
	if opts.Object != nil {
		t.Fatalf("object store should stay disabled for an empty endpoint")
	}
}
