package ledger

// TamperEntry applies fn to the stored ledger entry at index without
// rehashing.
func (s *MemoryStore) TamperEntry(index int, fn func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.entries[index])
}
