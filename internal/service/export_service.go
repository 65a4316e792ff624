package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/export"
)

type transactionLister interface {
	ListTransactions(actor *models.JWTClaims, filter models.TransactionFilter) ([]models.Transaction, *models.Pagination, error)
	Progress(actor *models.JWTClaims, studentID string) (*models.StudentProgress, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Statement) ([]byte, error)
}

const exportPageSize = 500

// ExportFile is a rendered document ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

var transactionHeaders = []string{"Date", "Student", "Type", "Description", "Amount", "Bimester", "Teacher", "Note"}

// ExportService renders transaction histories to CSV and student statements to PDF.
type ExportService struct {
	ledger transactionLister
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(ledger transactionLister, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{ledger: ledger, csv: csv, pdf: pdf, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// TransactionsCSV renders every transaction matching filter, oldest first.
func (s *ExportService) TransactionsCSV(actor *models.JWTClaims, filter models.TransactionFilter) (*ExportFile, error) {
	txs, err := s.collect(actor, filter)
	if err != nil {
		return nil, err
	}
	payload, err := s.csv.Render(transactionDataset(txs, true))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	scope := filter.ClassID
	if filter.StudentID != "" {
		scope = filter.StudentID
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("transactions_%s_%s.csv", sanitizeFilename(scope), s.now().Format("20060102_150405")),
		ContentType: "text/csv",
		Data:        payload,
	}, nil
}

// StudentStatement renders a PDF with the student's standing per bimester and history.
func (s *ExportService) StudentStatement(actor *models.JWTClaims, studentID string) (*ExportFile, error) {
	progress, err := s.ledger.Progress(actor, studentID)
	if err != nil {
		return nil, err
	}
	txs, err := s.collect(actor, models.TransactionFilter{StudentID: studentID})
	if err != nil {
		return nil, err
	}

	summary := make([][2]string, 0, len(progress.Bimesters)+2)
	for _, p := range progress.Bimesters {
		line := fmt.Sprintf("%d LXC, %s", p.Points, p.Tier.Title)
		if p.Next != nil {
			line += fmt.Sprintf(" (%d to %s)", p.Next.PointsNeeded, p.Next.Title)
		}
		summary = append(summary, [2]string{"Bimester " + strconv.Itoa(p.Bimester), line})
	}
	summary = append(summary,
		[2]string{"Total", strconv.Itoa(progress.Total) + " LXC"},
		[2]string{"Badges", strconv.Itoa(len(progress.Student.Badges))})

	payload, err := s.pdf.Render(export.Statement{
		Title:    "LXC Statement",
		Subtitle: fmt.Sprintf("%s - generated %s", progress.Student.FullName, s.now().Format("2006-01-02 15:04")),
		Summary:  summary,
		Table:    transactionDataset(txs, false),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
	}
	s.logger.Debug("statement rendered", zap.String("student_id", studentID), zap.Int("transactions", len(txs)))
	return &ExportFile{
		Filename:    fmt.Sprintf("statement_%s_%s.pdf", sanitizeFilename(progress.Student.FullName), s.now().Format("20060102")),
		ContentType: "application/pdf",
		Data:        payload,
	}, nil
}

func (s *ExportService) collect(actor *models.JWTClaims, filter models.TransactionFilter) ([]models.Transaction, error) {
	var all []models.Transaction
	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		txs, pagination, err := s.ledger.ListTransactions(actor, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, txs...)
		if len(txs) == 0 || len(all) >= pagination.TotalCount {
			break
		}
	}
	// listings are newest first; statements read top to bottom
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func transactionDataset(txs []models.Transaction, withStudent bool) export.Dataset {
	headers := transactionHeaders
	if !withStudent {
		headers = []string{"Date", "Type", "Description", "Amount", "Bimester", "Teacher"}
	}
	rows := make([]map[string]string, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, map[string]string{
			"Date":        t.Date.Format("2006-01-02"),
			"Student":     t.StudentID,
			"Type":        string(t.Type),
			"Description": t.Description,
			"Amount":      strconv.Itoa(t.Amount),
			"Bimester":    strconv.Itoa(t.Bimester),
			"Teacher":     t.TeacherName,
			"Note":        t.Note,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "all"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
