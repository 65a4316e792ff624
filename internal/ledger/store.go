package ledger

import "github.com/noah-isme/lxc-ledger-api/internal/models"

// Reader exposes consistent reads over students and their transactions.
// Returned values are copies.
type Reader interface {
	Student(id string) (models.Student, bool)
	Transaction(id string) (models.Transaction, bool)
	StudentTransactions(studentID string) []models.Transaction
}

// Writer stages changes inside an Update call.
type Writer interface {
	Reader
	PutStudent(student models.Student)
	PutTransaction(tx models.Transaction)
	DeleteTransaction(id string)
}

// Store persists the (transaction log, student aggregate) pair. Update applies every
// staged write or none of them; no reader observes a partially applied update.
type Store interface {
	View(fn func(r Reader) error) error
	Update(fn func(w Writer) error) error
}
