package chunkidx

// Close detaches every chunk and releases the manager's caches. Chunks
// still borrowed by readers are closed when released. Close is idempotent.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	var firstErr error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.reg.Close()
		m.enum.Purge()
		if m.blocks != nil {
			if err := m.blocks.Close(); err != nil {
				firstErr = err
			}
		}
		m.logger.Debug("chunk manager closed")
	})
	return firstErr
}
