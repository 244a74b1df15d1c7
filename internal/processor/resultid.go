package processor

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// computeResultID derives a deterministic resultId from a query id and the
// contributing entity ids, in pattern order. Per spec this must never be a
// random value — idempotent replay (scenario S6) depends on the same
// input producing the same resultId every time.
func computeResultID(queryID string, entityIDs ...any) string {
	h := xxhash.New()
	_, _ = h.Write([]byte(queryID))
	for _, id := range entityIDs {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(fmt.Sprintf("%v", id)))
	}
	return fmt.Sprintf("%s:%016x", queryID, h.Sum64())
}
