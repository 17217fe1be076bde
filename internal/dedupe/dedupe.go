package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// volatileFields are payload fields excluded from content hashing so two
// deliveries of logically identical content (differing only by timestamp)
// hash identically.
var volatileFields = map[string]struct{}{
	"updated_at":    {},
	"modified_at":   {},
	"last_modified": {},
}

// IdempotencyKey derives the deterministic identifier for one logical
// operation. A second delivery of the same operation produces the same key
// and is rejected as a duplicate.
func IdempotencyKey(sourceType, entityType, entityID, operation string) string {
	return fmt.Sprintf("%s:%s:%s:%s", sourceType, entityType, entityID, operation)
}

// ContentHash computes a SHA-256 over the payload with volatile timestamp
// fields stripped at every nesting level. Map keys are marshaled in sorted
// order, so the hash is stable across key orderings of the same content.
func ContentHash(payload json.RawMessage) (string, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("parsing payload for hashing: %w", err)
	}

	canonical, err := json.Marshal(stripVolatile(doc))
	if err != nil {
		return "", fmt.Errorf("canonicalizing payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func stripVolatile(doc any) any {
	switch v := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if _, volatile := volatileFields[key]; volatile {
				continue
			}
			out[key] = stripVolatile(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = stripVolatile(val)
		}
		return out
	default:
		return v
	}
}
