package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	now := s.now()
	entries := s.store.list()
	jobs := make([]JobInfo, 0, len(entries))
	for _, e := range entries {
		info := JobInfo{Job: e.job}
		ce := s.c.Entry(e.entryID)
		if ce.Valid() {
			info.Next = ce.Next
			info.Prev = ce.Prev
			// Before Start cron has not computed Next yet.
			if info.Next.IsZero() && ce.Schedule != nil {
				info.Next = ce.Schedule.Next(now)
			}
		}
		jobs = append(jobs, info)
	}
	return Snapshot{Running: running, Timezone: s.Location().String(), Jobs: jobs}
}

// JobsFor returns the jobs addressed to destination, sorted by id.
func (s *Service) JobsFor(destination int64) []JobInfo {
	all := s.Snapshot().Jobs
	out := all[:0]
	for _, j := range all {
		if j.Destination == destination {
			out = append(out, j)
		}
	}
	return out
}
