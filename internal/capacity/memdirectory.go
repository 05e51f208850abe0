package capacity

import (
	"context"
	"sort"
	"sync"
)

// MemDirectory is an in-memory BotDirectory for tests and for running
// without a database.
type MemDirectory struct {
	mu   sync.RWMutex
	bots map[string]memBot // botID -> placement
}

type memBot struct {
	userID       string
	credentialID string
}

// NewMemDirectory creates an empty directory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{bots: make(map[string]memBot)}
}

// Add records a bot's placement, replacing any previous one.
func (d *MemDirectory) Add(botID, userID, credentialID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bots[botID] = memBot{userID: userID, credentialID: credentialID}
}

// Remove forgets a bot.
func (d *MemDirectory) Remove(botID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bots, botID)
}

func (d *MemDirectory) ActiveBotCount(ctx context.Context, credentialID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, b := range d.bots {
		if b.credentialID == credentialID {
			count++
		}
	}
	return count, nil
}

func (d *MemDirectory) UserCredentials(ctx context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, b := range d.bots {
		if b.userID == userID && !seen[b.credentialID] {
			seen[b.credentialID] = true
			out = append(out, b.credentialID)
		}
	}
	sort.Strings(out)
	return out, nil
}
