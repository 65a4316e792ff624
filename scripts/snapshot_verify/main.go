package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

type balanceDiff struct {
	StudentID string
	Bimester  int
	Left      int
	Right     int
}

func main() {
	var (
		snapshotPath string
		againstPath  string
	)

	flag.StringVar(&snapshotPath, "snapshot", "", "Path to an exported snapshot")
	flag.StringVar(&againstPath, "against", "", "Optional second snapshot whose projected balances must match")
	flag.Parse()

	if snapshotPath == "" {
		log.Fatal("-snapshot is required")
	}

	snap, err := loadSnapshot(snapshotPath)
	if err != nil {
		log.Fatalf("failed to load snapshot: %v", err)
	}

	_, _, students := snap.Flatten()
	drifts := ledger.Verify(students, snap.Transactions)
	_, orphans := ledger.Rebuild(students, snap.Transactions)

	var diffs []balanceDiff
	if againstPath != "" {
		other, err := loadSnapshot(againstPath)
		if err != nil {
			log.Fatalf("failed to load %s: %v", againstPath, err)
		}
		diffs = compareProjections(snap.Transactions, other.Transactions)
	}

	printReport(snapshotPath, len(students), len(snap.Transactions), drifts, orphans, diffs)

	if len(drifts) > 0 || len(orphans) > 0 || len(diffs) > 0 {
		os.Exit(1)
	}
}

// loadSnapshot accepts both the raw download and the API envelope around it.
func loadSnapshot(path string) (models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Snapshot{}, err
	}
	var wrapped struct {
		Data *models.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Data != nil {
		return *wrapped.Data, nil
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

func compareProjections(left, right []models.Transaction) []balanceDiff {
	a, b := ledger.ProjectAll(left), ledger.ProjectAll(right)
	ids := make(map[string]struct{}, len(a)+len(b))
	for id := range a {
		ids[id] = struct{}{}
	}
	for id := range b {
		ids[id] = struct{}{}
	}

	var diffs []balanceDiff
	for id := range ids {
		for bim := models.MinBimester; bim <= models.MaxBimester; bim++ {
			l, r := a[id].Get(bim), b[id].Get(bim)
			if l != r {
				diffs = append(diffs, balanceDiff{StudentID: id, Bimester: bim, Left: l, Right: r})
			}
		}
	}
	sort.Slice(diffs, func(i, j int) bool {
		if diffs[i].StudentID == diffs[j].StudentID {
			return diffs[i].Bimester < diffs[j].Bimester
		}
		return diffs[i].StudentID < diffs[j].StudentID
	})
	return diffs
}

func printReport(path string, students, txs int, drifts []ledger.Drift, orphans []models.Transaction, diffs []balanceDiff) {
	fmt.Println("Snapshot Verify Report")
	fmt.Println("======================")
	fmt.Printf("%s: %d students, %d transactions\n", path, students, txs)
	for _, d := range drifts {
		fmt.Printf("[DRIFT] student=%s bimester=%d cached=%d projected=%d\n", d.StudentID, d.Bimester, d.Cached, d.Projected)
	}
	for _, o := range orphans {
		fmt.Printf("[ORPHAN] transaction=%s student=%s amount=%d\n", o.ID, o.StudentID, o.Amount)
	}
	for _, d := range diffs {
		fmt.Printf("[DIFF] student=%s bimester=%d left=%d right=%d\n", d.StudentID, d.Bimester, d.Left, d.Right)
	}
	fmt.Printf("Drifts: %d, Orphans: %d, Projection diffs: %d\n", len(drifts), len(orphans), len(diffs))
}
