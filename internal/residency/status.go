package residency

// HandleStatus is a read-only view of one resident model.
type HandleStatus struct {
	Task        string
	Device      int
	State       string // loading, idle, in_use
	LoadedAt    int64
	LastUsed    int64
	FootprintMB int
}

// Status is a read-only view of the residency table.
type Status struct {
	Device         int
	MaxResident    int
	BudgetMB       int
	MarginMB       int
	UsedMB         int
	Handles        []HandleStatus
	LoadsTotal     uint64
	EvictionsTotal uint64
}

// Status snapshots the table for status reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Device:         m.cfg.Device,
		MaxResident:    m.cfg.MaxResident,
		BudgetMB:       m.cfg.BudgetMB,
		MarginMB:       m.cfg.MarginMB,
		UsedMB:         m.usedMB,
		LoadsTotal:     m.loadsTotal,
		EvictionsTotal: m.evictionsTotal,
	}
	st.Handles = make([]HandleStatus, 0, len(m.handles))
	for _, h := range m.handles {
		state := "idle"
		switch {
		case h.loading:
			state = "loading"
		case h.inUse:
			state = "in_use"
		}
		st.Handles = append(st.Handles, HandleStatus{
			Task:        string(h.Task),
			Device:      h.Device,
			State:       state,
			LoadedAt:    h.LoadedAt.Unix(),
			LastUsed:    h.lastUsed.Unix(),
			FootprintMB: h.FootprintMB,
		})
	}
	return st
}
