package engine

import "time"

// TenantStats counts one tenant's sweep. Eligible counts files classified
// for deletion; Removed counts files actually deleted.
type TenantStats struct {
	TenantID        int64
	Scanned         int
	Eligible        int
	Removed         int
	SessionScanned  int
	SessionEligible int
	SessionRemoved  int
	Abandoned       int
	Err             error
}

func (t TenantStats) TotalScanned() int { return t.Scanned + t.SessionScanned }
func (t TenantStats) TotalRemoved() int { return t.Removed + t.SessionRemoved }

// SweepStats summarises one sweep.
type SweepStats struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration"`
	DryRun         bool          `json:"dry_run"`
	Tenants        int           `json:"tenants"`
	TenantFailures int           `json:"tenant_failures"`
	FilesScanned   int           `json:"files_scanned"`
	FilesEligible  int           `json:"files_eligible"`
	FilesRemoved   int           `json:"files_removed"`
	PagesAbandoned int           `json:"pages_abandoned"`
	Cancelled      bool          `json:"cancelled"`
}

func (s *SweepStats) add(t TenantStats) {
	s.Tenants++
	if t.Err != nil {
		s.TenantFailures++
	}
	s.FilesScanned += t.TotalScanned()
	s.FilesEligible += t.Eligible + t.SessionEligible
	s.FilesRemoved += t.TotalRemoved()
	s.PagesAbandoned += t.Abandoned
}
