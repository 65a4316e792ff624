package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/internal/service"
)

type studentServiceMock struct {
	filter   models.StudentFilter
	created  service.CreateStudentRequest
	imported string
	classID  string
	err      error
}

func (m *studentServiceMock) List(actor *models.JWTClaims, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	m.filter = filter
	return []models.Student{{ID: "s1", FullName: "Ana"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, m.err
}

func (m *studentServiceMock) Get(actor *models.JWTClaims, id string) (*models.Student, error) {
	return &models.Student{ID: id}, m.err
}

func (m *studentServiceMock) Create(ctx context.Context, actor *models.JWTClaims, req service.CreateStudentRequest) (*models.Student, error) {
	m.created = req
	return &models.Student{ID: "new-1", ClassID: req.ClassID, FullName: req.FullName}, m.err
}

func (m *studentServiceMock) Update(ctx context.Context, actor *models.JWTClaims, id string, req service.UpdateStudentRequest) (*models.Student, error) {
	return &models.Student{ID: id, FullName: req.FullName}, m.err
}

func (m *studentServiceMock) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	return m.err
}

func (m *studentServiceMock) Import(ctx context.Context, actor *models.JWTClaims, classID string, r io.Reader) (*service.ImportResult, error) {
	data, _ := io.ReadAll(r)
	m.imported = string(data)
	m.classID = classID
	return &service.ImportResult{Created: []models.Student{{ID: "new-1", FullName: "Carla"}}}, m.err
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestStudentHandlerListBindsQuery(t *testing.T) {
	mock := &studentServiceMock{}
	h := NewStudentHandler(mock)

	c, w := newGinContext(http.MethodGet, "/students?class_id=c1&search=%20an%20&page_size=5", nil)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", mock.filter.ClassID)
	assert.Equal(t, "an", mock.filter.Search)
	assert.Equal(t, 5, mock.filter.PageSize)
}

func TestStudentHandlerCreate(t *testing.T) {
	mock := &studentServiceMock{}
	h := NewStudentHandler(mock)

	c, w := newGinContext(http.MethodPost, "/students", []byte(`{"class_id":"c1","full_name":"Ana"}`))
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Ana", mock.created.FullName)
}

func TestStudentHandlerImportCSV(t *testing.T) {
	mock := &studentServiceMock{}
	h := NewStudentHandler(mock)

	body, contentType := multipartBody(t, "file", "roster.CSV", "full_name\nCarla\n")
	c, w := newGinContext(http.MethodPost, "/classes/c1/students/import", body.Bytes())
	c.Request.Header.Set("Content-Type", contentType)
	c.Params = gin.Params{{Key: "id", Value: "c1"}}
	h.Import(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "c1", mock.classID)
	assert.Equal(t, "full_name\nCarla\n", mock.imported)
}

func TestStudentHandlerImportRejectsMissingOrForeignFile(t *testing.T) {
	h := NewStudentHandler(&studentServiceMock{})

	c, w := newGinContext(http.MethodPost, "/classes/c1/students/import", nil)
	h.Import(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, contentType := multipartBody(t, "file", "roster.xlsx", "binary")
	c, w = newGinContext(http.MethodPost, "/classes/c1/students/import", body.Bytes())
	c.Request.Header.Set("Content-Type", contentType)
	h.Import(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
