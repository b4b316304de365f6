package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// LegacyApprovalRow mirrors one row of the legacy request-list API. The feed
// predates the canonical status API and its field types are loose: statuses
// arrive in several spellings or as numeric codes, and flags arrive as 0/1,
// booleans, or strings. Decoding must never fail on those variations.
type LegacyApprovalRow struct {
	RequestID       string     `json:"RequestID"`
	DocumentID      string     `json:"DocumentID"`
	ApproverID      string     `json:"ApproverID"`
	ApproverName    string     `json:"ApproverName"`
	SequenceLevel   int        `json:"SequenceLevel"`
	Status          *string    `json:"Status"`
	IsCancelled     LegacyFlag `json:"IsCancelled"`
	ApprovalDate    *string    `json:"ApprovalDate"`
	Comments        string     `json:"Comments"`
	RejectionReason string     `json:"RejectionReason"`
}

// LegacyFlag unmarshals the legacy API's boolean-ish values: 0/1 numbers,
// true/false booleans, and string renditions of either.
type LegacyFlag bool

func (f *LegacyFlag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}

	switch {
	case bytes.Equal(data, []byte("true")):
		*f = true
		return nil
	case bytes.Equal(data, []byte("false")):
		*f = false
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "y":
			*f = true
		default:
			*f = false
		}
		return nil
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		// Unrecognised payloads read as not-cancelled rather than failing
		// the whole feed.
		*f = false
		return nil
	}
	*f = n != 0
	return nil
}

// Bool returns the flag as a plain bool.
func (f LegacyFlag) Bool() bool {
	return bool(f)
}
