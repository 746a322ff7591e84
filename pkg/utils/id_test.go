package utils

import (
	"strings"
	"sync"
	"testing"
)

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := GenerateID()
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("Duplicate ID generated: %s", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()
}

func TestGenerateCampaignID(t *testing.T) {
	id := GenerateCampaignID()
	if !strings.HasPrefix(id, "cmp-") {
		t.Errorf("Expected campaign ID to start with 'cmp-', got %s", id)
	}
	if len(id) != len("cmp-20060102-150405-")+8 {
		t.Errorf("Unexpected campaign ID length: %s", id)
	}
	if GenerateCampaignID() == id {
		t.Error("Expected distinct campaign IDs")
	}
}
