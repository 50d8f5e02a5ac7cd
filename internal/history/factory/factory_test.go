package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/mcpanel/internal/history"
	"github.com/loykin/mcpanel/internal/history/opensearch"
	"github.com/loykin/mcpanel/internal/history/sqlite"
)

func TestFactoryDSNTypes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "h.db")
	tests := []struct {
		name        string
		dsn         string
		expectError bool
		kind        string
	}{
		{"Empty DSN", "", true, ""},
		{"Invalid scheme", "invalid://test", true, ""},
		{"OpenSearch DSN", "opensearch://localhost:9200/server-status", false, "opensearch"},
		{"OpenSearch without host", "opensearch:///idx", true, ""},
		{"SQLite file DSN", "sqlite://" + dbPath, false, "sqlite"},
		{"SQLite memory DSN", "sqlite://:memory:", false, "sqlite"},
		{"SQLite bare path", filepath.Join(t.TempDir(), "bare.db"), false, "sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for DSN %q, got nil", tt.dsn)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for DSN %q: %v", tt.dsn, err)
			}
			if got := history.Kind(sink); got != tt.kind {
				t.Errorf("kind = %s, want %s", got, tt.kind)
			}
			if closer, ok := sink.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		})
	}
}

func TestFactoryReturnsConcreteSinks(t *testing.T) {
	s, err := NewSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.(*sqlite.Sink).Close() }()
	if _, ok := s.(history.Reader); !ok {
		t.Fatal("sqlite sink should implement Reader")
	}

	o, err := NewSinkFromDSN("opensearchs://search.local/idx")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := o.(*opensearch.Sink); !ok {
		t.Fatalf("unexpected sink type %T", o)
	}
}

func TestParseClickHouseDSN(t *testing.T) {
	tests := []struct {
		dsn       string
		wantAddr  string
		wantTable string
	}{
		{"clickhouse://localhost:9000?table=events", "clickhouse://localhost:9000", "events"},
		{"clickhouse://u:p@db:9000/stats?table=t&dial_timeout=2s", "clickhouse://u:p@db:9000/stats?dial_timeout=2s", "t"},
		{"clickhouse://db:9000", "clickhouse://db:9000", history.Table},
		{"clickhouse:///x", "clickhouse://localhost:9000/x", history.Table},
	}
	for _, tt := range tests {
		addr, table, err := parseClickHouseDSN(tt.dsn)
		if err != nil {
			t.Fatalf("%s: %v", tt.dsn, err)
		}
		if addr != tt.wantAddr || table != tt.wantTable {
			t.Errorf("%s: got (%s, %s), want (%s, %s)", tt.dsn, addr, table, tt.wantAddr, tt.wantTable)
		}
	}
}

func TestParseOpenSearchDSN(t *testing.T) {
	tests := []struct {
		dsn       string
		wantBase  string
		wantIndex string
	}{
		{"opensearch://localhost:9200/logs", "http://localhost:9200", "logs"},
		{"opensearchs://search.example.com/mc", "https://search.example.com", "mc"},
		{"elasticsearch://es:9200", "http://es:9200", "status-history"},
		{"opensearch://admin:pw@os:9200/a", "http://admin:pw@os:9200", "a"},
	}
	for _, tt := range tests {
		base, index, err := parseOpenSearchDSN(tt.dsn)
		if err != nil {
			t.Fatalf("%s: %v", tt.dsn, err)
		}
		if base != tt.wantBase || index != tt.wantIndex {
			t.Errorf("%s: got (%s, %s), want (%s, %s)", tt.dsn, base, index, tt.wantBase, tt.wantIndex)
		}
	}
}
