package dto

import (
	"strings"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/pkg/storage"
)

// TransactionQuery captures transaction listing query parameters. Types is a comma
// separated list of transaction types.
type TransactionQuery struct {
	StudentID string `form:"student_id"`
	ClassID   string `form:"class_id"`
	Bimester  int    `form:"bimester"`
	Types     string `form:"type"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// Filter converts the query into a repository filter.
func (q TransactionQuery) Filter() models.TransactionFilter {
	filter := models.TransactionFilter{
		StudentID: strings.TrimSpace(q.StudentID),
		ClassID:   strings.TrimSpace(q.ClassID),
		Bimester:  q.Bimester,
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
	for _, raw := range strings.Split(q.Types, ",") {
		if t := strings.ToUpper(strings.TrimSpace(raw)); t != "" {
			filter.Types = append(filter.Types, models.TransactionType(t))
		}
	}
	return filter
}

// StudentQuery captures student listing query parameters.
type StudentQuery struct {
	SchoolID string `form:"school_id"`
	ClassID  string `form:"class_id"`
	Search   string `form:"search"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// Filter converts the query into a store filter.
func (q StudentQuery) Filter() models.StudentFilter {
	return models.StudentFilter{
		SchoolID: strings.TrimSpace(q.SchoolID),
		ClassID:  strings.TrimSpace(q.ClassID),
		Search:   strings.TrimSpace(q.Search),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
}

// RankingQuery selects the bimester of a class ranking.
type RankingQuery struct {
	Bimester int `form:"bimester" binding:"omitempty,min=1,max=4"`
}

// UnlockRequest re-runs badge evaluation for one bimester.
type UnlockRequest struct {
	Bimester int `json:"bimester" binding:"omitempty,min=1,max=4"`
}

// BackupItem lists a stored backup with a freshly signed link.
type BackupItem struct {
	storage.FileInfo
	DownloadURL string `json:"download_url"`
}

// ReloadResponse reports the size of the state loaded from the database.
type ReloadResponse struct {
	Schools      int `json:"schools"`
	Classes      int `json:"classes"`
	Students     int `json:"students"`
	Transactions int `json:"transactions"`
}

// NewReloadResponse summarises state.
func NewReloadResponse(state models.State) ReloadResponse {
	return ReloadResponse{
		Schools:      len(state.Schools),
		Classes:      len(state.Classes),
		Students:     len(state.Students),
		Transactions: len(state.Transactions),
	}
}
