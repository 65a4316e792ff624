package ledger

import (
	"sort"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// Drift is a cached balance that disagrees with the log.
type Drift struct {
	StudentID string `json:"student_id"`
	Bimester  int    `json:"bimester"`
	Cached    int    `json:"cached"`
	Projected int    `json:"projected"`
}

// Project sums the amounts of txs owned by studentID in bimester.
func Project(txs []models.Transaction, studentID string, bimester int) int {
	total := 0
	for _, t := range txs {
		if t.StudentID == studentID && t.Bimester == bimester {
			total += t.Amount
		}
	}
	return total
}

// ProjectAll computes every (student, bimester) balance present in txs in one pass.
func ProjectAll(txs []models.Transaction) map[string]models.Balances {
	out := make(map[string]models.Balances)
	for _, t := range txs {
		b := out[t.StudentID]
		if b == nil {
			b = make(models.Balances)
			out[t.StudentID] = b
		}
		b[t.Bimester] += t.Amount
	}
	return out
}

// Verify compares cached student balances against the projection of txs. Transactions
// of unknown students are ignored.
func Verify(students []models.Student, txs []models.Transaction) []Drift {
	projected := ProjectAll(txs)
	var drifts []Drift
	for _, st := range students {
		want := projected[st.ID]
		for b := models.MinBimester; b <= models.MaxBimester; b++ {
			cached, exp := st.LXCTotal.Get(b), want.Get(b)
			if cached != exp {
				drifts = append(drifts, Drift{StudentID: st.ID, Bimester: b, Cached: cached, Projected: exp})
			}
		}
	}
	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].StudentID == drifts[j].StudentID {
			return drifts[i].Bimester < drifts[j].Bimester
		}
		return drifts[i].StudentID < drifts[j].StudentID
	})
	return drifts
}

// Rebuild returns copies of students whose balances are re-derived from txs and whose
// badge sets include every badge granted by a BADGE transaction. Transactions referencing
// unknown students are returned as orphans.
func Rebuild(students []models.Student, txs []models.Transaction) ([]models.Student, []models.Transaction) {
	known := make(map[string]struct{}, len(students))
	for _, st := range students {
		known[st.ID] = struct{}{}
	}
	live := make([]models.Transaction, 0, len(txs))
	var orphans []models.Transaction
	for _, t := range txs {
		if _, ok := known[t.StudentID]; !ok {
			orphans = append(orphans, t)
			continue
		}
		live = append(live, t)
	}
	projected := ProjectAll(live)
	out := make([]models.Student, 0, len(students))
	for _, st := range students {
		cp := st.Clone()
		cp.LXCTotal = make(models.Balances)
		for b := models.MinBimester; b <= models.MaxBimester; b++ {
			cp.LXCTotal[b] = projected[st.ID].Get(b)
		}
		out = append(out, cp)
	}
	idx := make(map[string]int, len(out))
	for i, st := range out {
		idx[st.ID] = i
	}
	for _, t := range live {
		if badgeID := t.OwnedBadgeID(); badgeID != "" {
			out[idx[t.StudentID]].AddBadge(badgeID)
		}
	}
	return out, orphans
}
