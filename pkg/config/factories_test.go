package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/metrics/journal"
)

func TestCreateCredentialStore_Inline(t *testing.T) {
	store, err := createCredentialStore(CredentialsConfig{
		Users: map[string]auth.Credential{"alice": {SHA256: auth.HashPassword("secret")}},
	})
	if err != nil {
		t.Fatalf("Failed to create credential store: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 user, got %d", store.Len())
	}
}

func TestCreateCredentialStore_FileMergedWithInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	err := auth.WriteFile(path, map[string]auth.Credential{
		"alice": {SHA256: auth.HashPassword("from-file")},
		"bob":   {SHA256: auth.HashPassword("bob")},
	})
	if err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}

	store, err := createCredentialStore(CredentialsConfig{
		File:  path,
		Users: map[string]auth.Credential{"alice": {SHA256: auth.HashPassword("inline")}},
	})
	if err != nil {
		t.Fatalf("Failed to create credential store: %v", err)
	}

	if store.Len() != 2 {
		t.Errorf("Expected 2 users, got %d", store.Len())
	}
	a := auth.New(store)
	if !a.Authenticate("alice", auth.HashPassword("inline")) {
		t.Error("Expected inline credential to win over the file")
	}
	if !a.Authenticate("bob", auth.HashPassword("bob")) {
		t.Error("Expected file user to authenticate")
	}
}

func TestCreateCredentialStore_MissingFile(t *testing.T) {
	_, err := createCredentialStore(CredentialsConfig{File: filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil {
		t.Fatal("Expected error for missing credentials file")
	}
}

func TestCreateJournal_Memory(t *testing.T) {
	j, err := CreateJournal(context.Background(), &JournalConfig{Type: "memory"}, false)
	if err != nil {
		t.Fatalf("Failed to create memory journal: %v", err)
	}
	defer func() { _ = j.Close() }()

	j.RecordAction(metrics.ActionDir, "", 0, time.Millisecond, "c1", metrics.StatusSuccess)
	records, err := j.Events(context.Background(), journal.Query{})
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(records))
	}
}

func TestCreateJournal_Badger(t *testing.T) {
	cfg := &JournalConfig{
		Type:   "badger",
		Path:   filepath.Join(t.TempDir(), "journal"),
		Badger: map[string]any{"sync_writes": true},
	}

	j, err := CreateJournal(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("Failed to create badger journal: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(cfg.Path); err != nil {
		t.Errorf("Expected journal directory at %s: %v", cfg.Path, err)
	}
}

func TestCreateJournal_BadgerOptionPathWins(t *testing.T) {
	optionPath := filepath.Join(t.TempDir(), "from-options")
	cfg := &JournalConfig{
		Type:   "badger",
		Path:   filepath.Join(t.TempDir(), "from-section"),
		Badger: map[string]any{"path": optionPath},
	}

	j, err := CreateJournal(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("Failed to create badger journal: %v", err)
	}
	_ = j.Close()

	if _, err := os.Stat(optionPath); err != nil {
		t.Errorf("Expected journal at option path: %v", err)
	}
}

func TestCreateJournal_BadgerMissingPath(t *testing.T) {
	_, err := CreateJournal(context.Background(), &JournalConfig{Type: "badger"}, false)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateJournal_BadOptions(t *testing.T) {
	cfg := &JournalConfig{
		Type:   "badger",
		Path:   t.TempDir(),
		Badger: map[string]any{"sync_writes": []string{"not", "a", "bool"}},
	}
	if _, err := CreateJournal(context.Background(), cfg, false); err == nil {
		t.Fatal("Expected error for undecodable options")
	}
}

func TestCreateJournal_UnknownType(t *testing.T) {
	_, err := CreateJournal(context.Background(), &JournalConfig{Type: "postgres"}, false)
	if err == nil {
		t.Fatal("Expected error for unknown journal type")
	}
	if !strings.Contains(err.Error(), "unknown journal type") {
		t.Errorf("Expected 'unknown journal type' error, got: %v", err)
	}
}

func TestCreateSink(t *testing.T) {
	t.Run("NothingConfigured", func(t *testing.T) {
		sink, async := CreateSink(GetDefaultConfig(), nil, nil)
		if async != nil {
			t.Error("Expected no async sink without a journal")
		}
		// Noop sinks must accept events.
		sink.RecordAction(metrics.ActionDir, "", 0, 0, "c", metrics.StatusSuccess)
	})

	t.Run("JournalBehindQueue", func(t *testing.T) {
		j, err := CreateJournal(context.Background(), &JournalConfig{Type: "memory"}, false)
		if err != nil {
			t.Fatalf("Failed to create journal: %v", err)
		}
		defer func() { _ = j.Close() }()

		cfg := GetDefaultConfig()
		cfg.Server.LogEvents = true
		sink, async := CreateSink(cfg, nil, j)
		if async == nil {
			t.Fatal("Expected an async sink in front of the journal")
		}

		sink.RecordConnection("c1", metrics.EventConnect, 0)
		sink.RecordAction(metrics.ActionUpload, "a.txt", 10, time.Second, "c1", metrics.StatusSuccess)
		async.Close()

		records, err := j.Events(context.Background(), journal.Query{})
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		if len(records) != 2 {
			t.Errorf("Expected 2 journaled records, got %d", len(records))
		}
	})
}

func TestCreateExportDestination(t *testing.T) {
	ctx := context.Background()

	t.Run("DirFromArgument", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "reports")
		dst, err := CreateExportDestination(ctx, &ReportsConfig{}, ExportDir, dir)
		if err != nil {
			t.Fatalf("Failed to create dir destination: %v", err)
		}
		where, err := dst.Put(ctx, "r.txt", []byte("hi"))
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if filepath.Dir(where) != dir {
			t.Errorf("Expected artifact in %s, got %s", dir, where)
		}
	})

	t.Run("DirFromConfig", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "Analysis Reports")
		if _, err := CreateExportDestination(ctx, &ReportsConfig{ExportDir: dir}, "", ""); err != nil {
			t.Fatalf("Failed to create dir destination: %v", err)
		}
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("Expected export dir to be created: %v", err)
		}
	})

	t.Run("S3RequiresBucket", func(t *testing.T) {
		_, err := CreateExportDestination(ctx, &ReportsConfig{}, ExportS3, "")
		if err == nil {
			t.Fatal("Expected error for S3 without a bucket")
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := CreateExportDestination(ctx, &ReportsConfig{}, "ftp", "")
		if err == nil {
			t.Fatal("Expected error for unknown destination")
		}
	})
}

func TestInitializeBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := GetDefaultConfig()
	cfg.Storage.Root = filepath.Join(dir, "data")
	cfg.Journal.Type = "memory"
	cfg.Credentials.Users = map[string]auth.Credential{
		"alice": {SHA256: auth.HashPassword("secret")},
	}

	rt, err := InitializeBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("InitializeBackend failed: %v", err)
	}

	b := rt.Backend
	if b.Root == nil || b.Auth == nil || b.Locks == nil || b.Sink == nil {
		t.Fatalf("Backend not fully assembled: %+v", b)
	}
	if _, err := os.Stat(cfg.Storage.Root); err != nil {
		t.Errorf("Expected storage root to be created: %v", err)
	}
	if !b.Auth.Authenticate("alice", auth.HashPassword("secret")) {
		t.Error("Expected configured user to authenticate")
	}
	if rt.Journal == nil {
		t.Fatal("Expected journal to be opened")
	}

	b.Sink.RecordConnection("c1", metrics.EventAuthSuccess, time.Millisecond)
	rt.async.Close()

	records, err := rt.Journal.Events(context.Background(), journal.Query{})
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 journaled record, got %d", len(records))
	}

	if err := rt.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestInitializeBackend_JournalDisabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Root = filepath.Join(t.TempDir(), "data")
	cfg.Journal.Enabled = false

	rt, err := InitializeBackend(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("InitializeBackend failed: %v", err)
	}
	if rt.Journal != nil {
		t.Error("Expected no journal when disabled")
	}
	if err := rt.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateAdapters(t *testing.T) {
	cfg := GetDefaultConfig()

	adapters, err := CreateAdapters(cfg, nil)
	if err != nil {
		t.Fatalf("CreateAdapters failed: %v", err)
	}
	if len(adapters) != 1 {
		t.Fatalf("Expected 1 adapter, got %d", len(adapters))
	}
	if adapters[0].Protocol() != "FILESRV" {
		t.Errorf("Expected FILESRV adapter, got %q", adapters[0].Protocol())
	}
	if adapters[0].Port() != 4450 {
		t.Errorf("Expected port 4450, got %d", adapters[0].Port())
	}

	cfg.Adapters.FileServer.Enabled = false
	if _, err := CreateAdapters(cfg, nil); err == nil {
		t.Fatal("Expected error when no adapters are enabled")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig())

	if result.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if result.ServerMetrics == nil || result.Sink == nil {
		t.Error("Expected noop metrics when disabled")
	}
}
