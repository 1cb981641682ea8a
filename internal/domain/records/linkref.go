package records

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LinkRef is the nullable link reference on either side of a match.
//
// The ledger serializes it inconsistently: null, a bare id, a list of ids
// or a list of objects with an id. Only the first id is kept.
type LinkRef struct {
	ID    int64
	valid bool
}

// LinkTo returns a populated link reference.
func LinkTo(id int64) LinkRef { return LinkRef{ID: id, valid: true} }

// LinkPending marks a record as linked to a counterpart whose id is not
// known yet, such as a fee record about to be created.
func LinkPending() LinkRef { return LinkRef{valid: true} }

// Set reports whether the link is populated.
func (l LinkRef) Set() bool { return l.valid }

// MarshalJSON writes null or the bare id.
func (l LinkRef) MarshalJSON() ([]byte, error) {
	if !l.valid {
		return []byte("null"), nil
	}
	return json.Marshal(l.ID)
}

// UnmarshalJSON accepts every shape the ledger emits.
func (l *LinkRef) UnmarshalJSON(data []byte) error {
	*l = LinkRef{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("link reference: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		return l.UnmarshalJSON(items[0])
	case '{':
		var obj struct {
			ID json.Number `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("link reference: %w", err)
		}
		if obj.ID == "" {
			return nil
		}
		return l.setNumber(obj.ID)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("link reference: %w", err)
		}
		if s == "" {
			return nil
		}
		return l.setNumber(json.Number(s))
	default:
		return l.setNumber(json.Number(data))
	}
}

func (l *LinkRef) setNumber(n json.Number) error {
	id, err := n.Int64()
	if err != nil {
		return fmt.Errorf("link reference %q: %w", n, err)
	}
	if id == 0 {
		return nil
	}
	*l = LinkTo(id)
	return nil
}
