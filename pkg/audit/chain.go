// Package audit implements the tamper-evident hash chain over audit
// records: canonical hashing, per-record verification, the full chain
// walk, and the newline-delimited JSON export format.
package audit

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/warden-labs/warden/pkg/canonicalize"
	"github.com/warden-labs/warden/pkg/contracts"
)

// GenesisMarker is the previous-hash sentinel of the very first record.
// It is structurally distinguishable from any legal 64-hex hash value.
const GenesisMarker = "GENESIS_NULL"

const chainPrefix = "CHAIN:"

// ComputeHash returns the SHA-256 hex digest of the canonical form of a
// record chained to previousHash. The canonical form is the JSON
// serialization of an ordered field list; parameters are serialized with
// object keys sorted, absent parameters serialize to the empty string.
func ComputeHash(rec *contracts.AuditEvent, previousHash string) (string, error) {
	marker := GenesisMarker
	if previousHash != "" {
		marker = chainPrefix + previousHash
	}

	params := ""
	if rec.Parameters != nil {
		canonical, err := canonicalize.JCSString(rec.Parameters)
		if err != nil {
			return "", fmt.Errorf("audit: parameter canonicalization failed: %w", err)
		}
		params = canonical
	}

	fields := []string{
		marker,
		rec.TraceID,
		rec.Timestamp,
		rec.AgentID,
		rec.Tool,
		params,
		string(rec.Result),
		rec.Reason,
		strconv.FormatInt(rec.DurationMS, 10),
		string(rec.FailureCategory),
	}
	input, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("audit: hash input serialization failed: %w", err)
	}
	return canonicalize.HashBytes(input), nil
}

// VerifyRecord recomputes the expected hash of rec from its content and
// stored previous-hash and compares it to the stored hash in constant
// time. Unequal lengths short-circuit to false.
func VerifyRecord(rec *contracts.AuditEvent) bool {
	expected, err := ComputeHash(rec, rec.PreviousHash)
	if err != nil {
		return false
	}
	if len(expected) != len(rec.Hash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(rec.Hash)) == 1
}

// VerifyChain walks records in ascending id order, maintaining a running
// previous-hash (initially the null sentinel), and reports the first
// break: a stored previous-hash that does not match the running value, or
// a record whose stored hash does not match its content.
func VerifyChain(records []*contracts.AuditEvent) *contracts.ChainVerification {
	result := &contracts.ChainVerification{
		Valid:       true,
		TotalEvents: int64(len(records)),
	}

	running := ""
	for _, rec := range records {
		if rec.PreviousHash != running || !VerifyRecord(rec) {
			result.Valid = false
			result.BrokenAt = rec.ID
			return result
		}
		running = rec.Hash
		result.VerifiedEvents++
	}
	return result
}
