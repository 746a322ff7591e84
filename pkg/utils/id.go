package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// Counter for sequential IDs
	idCounter uint64
)

// GenerateID generates a process-unique ID from a timestamp and a counter
func GenerateID() string {
	count := atomic.AddUint64(&idCounter, 1)
	timestamp := time.Now().UnixNano()
	return fmt.Sprintf("%x-%x", timestamp, count)
}

// GenerateCampaignID generates a campaign ID with a timestamp prefix
func GenerateCampaignID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("cmp-%s-%s", timestamp, GenerateID())
	}
	return fmt.Sprintf("cmp-%s-%s", timestamp, id.String()[:8])
}
