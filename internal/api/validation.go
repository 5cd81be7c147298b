package api

import (
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const maxQRLength = 64

var validationOnce sync.Once

// registerValidations installs the qrcode rule on gin's binding engine.
// Scanned identifiers longer than a real QR payload are junk scans and
// get rejected at the binding layer.
func registerValidations() {
	validationOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("qrcode", func(fl validator.FieldLevel) bool {
				code := strings.TrimSpace(fl.Field().String())
				return code != "" && len(code) <= maxQRLength
			})
		}
	})
}
