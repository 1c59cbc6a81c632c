package domain

import "time"

// LedgerRecord — полезная нагрузка записи леджера.
// Ровно одно из двух полей non-nil: либо решение, либо исход эскалации.
type LedgerRecord struct {
	Decision *Decision          `json:"decision,omitempty"`
	Outcome  *EscalationOutcome `json:"outcome,omitempty"`
}

// AgentID достает владельца записи независимо от её вида
func (r LedgerRecord) AgentID() string {
	if r.Decision != nil {
		return r.Decision.Request.AgentID
	}
	if r.Outcome != nil {
		return r.Outcome.AgentID
	}
	return ""
}

// Timestamp — момент события записи (решение либо разрешение эскалации)
func (r LedgerRecord) Timestamp() time.Time {
	if r.Decision != nil {
		return r.Decision.DecidedAt
	}
	if r.Outcome != nil {
		return r.Outcome.ResolvedAt
	}
	return time.Time{}
}

// LedgerEntry — append-only запись hash-цепочки.
// EntryHash считается по (sequence_number ‖ record ‖ prev_hash);
// entry_hash записи N обязан совпадать с prev_hash записи N+1.
// Разрыв цепочки — свидетельство вмешательства, молча не чинится.
type LedgerEntry struct {
	SequenceNumber uint64       `json:"sequence_number"`
	Record         LedgerRecord `json:"record"`
	PrevHash       string       `json:"prev_hash"`
	EntryHash      string       `json:"entry_hash"`
}
