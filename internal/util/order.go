package util

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewClientOrderID returns an exchange-safe client order id (max 36 chars)
func NewClientOrderID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id[:32]
	}
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s-%s", prefix, id[:min(len(id), 35-len(prefix))])
}

// AveragingThreshold returns the loss ROI that arms add-on number count, false when exhausted
func AveragingThreshold(count int) (float64, bool) {
	if count < 0 || count >= MaxAveragingCount {
		return 0, false
	}
	return AveragingSchedule[count], true
}
