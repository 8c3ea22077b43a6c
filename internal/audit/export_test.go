package audit

// Tamper applies fn to the stored entry at index without rehashing.
func (c *MemoryChain) Tamper(index int, fn func(*Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.entries[index])
}
