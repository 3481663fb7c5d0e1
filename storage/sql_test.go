package storage

import "testing"

func TestRebind(t *testing.T) {
	query := `UPDATE orders SET status = ? WHERE id = ? AND status = ?`

	if got := rebind(SQLite, query); got != query {
		t.Errorf("Expected sqlite query unchanged, got %s", got)
	}

	expected := `UPDATE orders SET status = $1 WHERE id = $2 AND status = $3`
	if got := rebind(Postgres, query); got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		dialect     Dialect
		dsnPrefix   string
		expectError bool
	}{
		{"relative sqlite", "sqlite3://data/store.db", SQLite, "file:data/store.db?", false},
		{"absolute sqlite", "sqlite3:///var/lib/store.db", SQLite, "file:/var/lib/store.db?", false},
		{"sqlite drops query", "sqlite3://store.db?x-no-tx-wrap=true", SQLite, "file:store.db?_busy", false},
		{"postgres", "postgres://u:p@localhost/store?sslmode=disable", Postgres, "postgres://", false},
		{"postgresql", "postgresql://localhost/store", Postgres, "postgresql://", false},
		{"empty sqlite path", "sqlite3://", SQLite, "", true},
		{"mysql", "mysql://localhost/store", SQLite, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialect, dsn, err := parseDatabaseURL(tt.url)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error for %s", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if dialect != tt.dialect {
				t.Errorf("Expected dialect %s, got %s", tt.dialect, dialect)
			}
			if len(dsn) < len(tt.dsnPrefix) || dsn[:len(tt.dsnPrefix)] != tt.dsnPrefix {
				t.Errorf("Expected dsn starting with %s, got %s", tt.dsnPrefix, dsn)
			}
		})
	}
}

func TestScopeClause(t *testing.T) {
	where, args := scopeClause(VariantStock("p1", "v1"))
	if where != `product_id = ? AND variant_id = ?` || len(args) != 2 {
		t.Errorf("Unexpected variant clause %q %v", where, args)
	}
	where, args = scopeClause(ProductStock("p1"))
	if where != `product_id = ? AND variant_id IS NULL` || len(args) != 1 {
		t.Errorf("Unexpected product clause %q %v", where, args)
	}
	where, args = scopeClause(GeneralStock())
	if where != `product_id IS NULL AND variant_id IS NULL` || len(args) != 0 {
		t.Errorf("Unexpected general clause %q %v", where, args)
	}
}

func TestClaimRetries(t *testing.T) {
	if !claimRetries(SQLite) {
		t.Error("Expected sqlite claims to retry a lost race")
	}
	if claimRetries(Postgres) {
		t.Error("Expected postgres claims to treat locked stock as taken")
	}
}
