package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/warden-labs/warden/pkg/contracts"
)

var hexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

func record(agent, tool string) *contracts.AuditEvent {
	return &contracts.AuditEvent{
		TraceID:    "4bf92f3577b34da6a3ce929d0e0e4736",
		Timestamp:  "2026-08-24T10:00:00Z",
		AgentID:    agent,
		Tool:       tool,
		Result:     contracts.ResultAllowed,
		DurationMS: 3,
	}
}

// chain links n records the way the store does on write.
func chain(t *testing.T, n int) []*contracts.AuditEvent {
	t.Helper()
	records := make([]*contracts.AuditEvent, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		rec := record("agent-1", "file_read")
		rec.ID = int64(i + 1)
		rec.PreviousHash = prev
		hash, err := ComputeHash(rec, prev)
		if err != nil {
			t.Fatalf("ComputeHash: %v", err)
		}
		rec.Hash = hash
		records = append(records, rec)
		prev = hash
	}
	return records
}

func TestComputeHash_Shape(t *testing.T) {
	h, err := ComputeHash(record("a", "t"), "")
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if !hexRe.MatchString(h) {
		t.Errorf("hash %q is not 64 lower-hex chars", h)
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	rec := record("a", "t")
	rec.Parameters = map[string]any{"zebra": 1, "apple": map[string]any{"y": 2, "x": 1}}
	h1, _ := ComputeHash(rec, "")
	h2, _ := ComputeHash(rec, "")
	if h1 != h2 {
		t.Error("same record and previous-hash must hash identically")
	}

	other := record("a", "t")
	other.Parameters = map[string]any{"apple": map[string]any{"x": 1, "y": 2}, "zebra": 1}
	h3, _ := ComputeHash(other, "")
	if h1 != h3 {
		t.Error("parameter key order must not influence the hash")
	}
}

func TestComputeHash_SensitiveToContentAndPredecessor(t *testing.T) {
	base := record("a", "t")
	h, _ := ComputeHash(base, "")

	changed := record("a", "t")
	changed.Reason = "different"
	hc, _ := ComputeHash(changed, "")
	if h == hc {
		t.Error("reason change must change the hash")
	}

	hp, _ := ComputeHash(base, strings.Repeat("ab", 32))
	if h == hp {
		t.Error("previous-hash must be bound into the hash")
	}
}

func TestGenesisMarker_Distinguishable(t *testing.T) {
	// A forged previous-hash equal to the sentinel text must not collide
	// with a true genesis record.
	if hexRe.MatchString(GenesisMarker) {
		t.Error("sentinel must not be a legal hash value")
	}
}

func TestVerifyRecord(t *testing.T) {
	records := chain(t, 1)
	rec := records[0]
	if !VerifyRecord(rec) {
		t.Fatal("untampered record must verify")
	}

	rec.Reason = "edited after the fact"
	if VerifyRecord(rec) {
		t.Error("content tampering must fail verification")
	}

	records = chain(t, 1)
	records[0].Hash = records[0].Hash[:32]
	if VerifyRecord(records[0]) {
		t.Error("length mismatch must short-circuit to false")
	}
}

func TestVerifyChain_CleanPass(t *testing.T) {
	for _, n := range []int{0, 1, 5, 32} {
		records := chain(t, n)
		res := VerifyChain(records)
		if !res.Valid || res.TotalEvents != int64(n) || res.VerifiedEvents != int64(n) {
			t.Errorf("n=%d: got %+v", n, res)
		}
	}
}

func TestVerifyChain_BreakLocalization(t *testing.T) {
	records := chain(t, 3)
	records[1].Hash = strings.Repeat("deadbeef", 8)

	res := VerifyChain(records)
	if res.Valid {
		t.Fatal("tampered chain must not verify")
	}
	if res.BrokenAt != 2 {
		t.Errorf("brokenAt = %d, want 2", res.BrokenAt)
	}
	if res.TotalEvents != 3 || res.VerifiedEvents != 1 {
		t.Errorf("totals = %d/%d, want 3/1", res.TotalEvents, res.VerifiedEvents)
	}
}

func TestVerifyChain_BreakAtEveryPosition(t *testing.T) {
	for k := 0; k < 4; k++ {
		records := chain(t, 4)
		records[k].Hash = strings.Repeat("0123abcd", 8)
		res := VerifyChain(records)
		if res.Valid || res.BrokenAt != records[k].ID || res.VerifiedEvents != int64(k) {
			t.Errorf("k=%d: got %+v", k, res)
		}
	}
}

func TestVerifyChain_LinkTampering(t *testing.T) {
	records := chain(t, 3)
	records[2].PreviousHash = strings.Repeat("ff", 32)
	res := VerifyChain(records)
	if res.Valid || res.BrokenAt != 3 {
		t.Errorf("expected break at 3, got %+v", res)
	}
}

func TestExportNDJSON(t *testing.T) {
	records := chain(t, 3)
	records[0].Parameters = map[string]any{"path": "/tmp/x"}

	var buf bytes.Buffer
	if err := ExportNDJSON(&buf, records); err != nil {
		t.Fatalf("export: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	count := 0
	for scanner.Scan() {
		var decoded contracts.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", count, err)
		}
		if decoded.Hash != records[count].Hash || decoded.PreviousHash != records[count].PreviousHash {
			t.Errorf("line %d: hashes not preserved", count)
		}
		count++
	}
	if count != 3 {
		t.Errorf("expected 3 lines, got %d", count)
	}
}
