package postgres

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/swynix/mes-go/internal/domain"
	"github.com/swynix/mes-go/internal/repo"
)

func TestNullableHelpers(t *testing.T) {
	if got := nullableTime(time.Time{}); got != nil {
		t.Fatalf("nullableTime(zero)=%v, want nil", got)
	}
	when := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if got := nullableTime(when); got != when {
		t.Fatalf("nullableTime()=%v, want %v", got, when)
	}

	if got := nullableText("  "); got != nil {
		t.Fatalf("nullableText(blank)=%v, want nil", got)
	}
	if got := nullableText(" batch-1 "); got != "batch-1" {
		t.Fatalf("nullableText()=%v, want batch-1", got)
	}
}

func TestEncodeDecodeJSON(t *testing.T) {
	raw, err := encodeJSON([]domain.RawMaterialRow{{Item: "ingot", WeightKG: 100}})
	if err != nil {
		t.Fatalf("encodeJSON() err=%v", err)
	}
	var rows []domain.RawMaterialRow
	if err := decodeJSON(raw, &rows); err != nil {
		t.Fatalf("decodeJSON() err=%v", err)
	}
	if len(rows) != 1 || rows[0].Item != "ingot" {
		t.Fatalf("rows=%v, want one ingot row", rows)
	}

	if got, err := encodeJSON(nil); err != nil || string(got) != "null" {
		t.Fatalf("encodeJSON(nil)=%q err=%v, want null", got, err)
	}
	if err := decodeJSON([]byte("null"), &rows); err != nil {
		t.Fatalf("decodeJSON(null) err=%v", err)
	}
	if err := decodeJSON(nil, &rows); err != nil {
		t.Fatalf("decodeJSON(empty) err=%v", err)
	}
}

func TestHandleNotFound(t *testing.T) {
	if got := handleNotFound(sql.ErrNoRows); !errors.Is(got, repo.ErrNotFound) {
		t.Fatalf("handleNotFound(ErrNoRows)=%v, want ErrNotFound", got)
	}
	other := errors.New("connection reset")
	if got := handleNotFound(other); !errors.Is(got, other) {
		t.Fatalf("handleNotFound()=%v, want passthrough", got)
	}
}
