package agents

// CorruptSealed damages the sealed payload of a message queued for agentID.
func (b *Bus) CorruptSealed(agentID, messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.queues[agentID] {
		if m.ID != messageID || m.Sealed == "" {
			continue
		}
		raw := []byte(m.Sealed)
		if raw[0] == 'A' {
			raw[0] = 'B'
		} else {
			raw[0] = 'A'
		}
		m.Sealed = string(raw)
	}
}
