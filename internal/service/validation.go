package service

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// registerLedgerValidations adds the scoring tags used by request payloads.
func registerLedgerValidations(v *validator.Validate) {
	_ = v.RegisterValidation("bimester", func(fl validator.FieldLevel) bool {
		return models.ValidBimester(int(fl.Field().Int()))
	})
	_ = v.RegisterValidation("tx_type", func(fl validator.FieldLevel) bool {
		return models.TransactionType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("task_category", func(fl validator.FieldLevel) bool {
		_, ok := TaskRange(models.TaskCategory(fl.Field().String()))
		return ok
	})
}
