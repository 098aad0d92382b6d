// Package validation はフォーム入力の検証を提供する。
// go-playground/validatorのインスタンスを1つだけ生成し、独自タグを登録して使う。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/bloodlink/internal/model"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError は1フィールド分の検証エラー。
type FieldError struct {
	Field   string // JSON上のフィールド名
	Tag     string
	Message string
}

// Errors はフォーム全体の検証エラー。
type Errors []FieldError

// Error はerrorインターフェースを実装する。
func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, " ")
}

// ByField はフィールド名をキーにしたメッセージを返す。テンプレートでの表示用。
func (e Errors) ByField() map[string]string {
	m := make(map[string]string, len(e))
	for _, fe := range e {
		if _, ok := m[fe.Field]; !ok {
			m[fe.Field] = fe.Message
		}
	}
	return m
}

// Validator は共有の検証器を返す。
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		mustRegister(v, "district", func(fl validator.FieldLevel) bool {
			return model.IsDistrict(fl.Field().String())
		})
		mustRegister(v, "bloodgroup", func(fl validator.FieldLevel) bool {
			return model.IsBloodGroup(fl.Field().String())
		})
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// Struct は構造体を検証する。問題がなければnil、あれば Errors を返す。
func Struct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	out := make(Errors, len(verrs))
	for i, fe := range verrs {
		out[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: message(fe),
		}
	}
	return out
}

// labels は画面表示用のフィールド名。
var labels = map[string]string{
	"name":              "Name",
	"avatar":            "Avatar URL",
	"bloodGroup":        "Blood group",
	"district":          "District",
	"upazila":           "Upazila",
	"recipientName":     "Recipient name",
	"recipientDistrict": "Recipient district",
	"recipientUpazila":  "Recipient upazila",
	"hospitalName":      "Hospital name",
	"fullAddress":       "Full address",
	"donationDate":      "Donation date",
	"donationTime":      "Donation time",
	"requestMessage":    "Request message",
}

func message(fe validator.FieldError) string {
	label, ok := labels[fe.Field()]
	if !ok {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return label + " is required."
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
	case "url":
		return label + " must be a valid URL."
	case "district":
		return label + " must be a district of Bangladesh."
	case "bloodgroup":
		return label + " must be one of " + strings.Join(model.BloodGroups, ", ") + "."
	case "datetime":
		if fe.Param() == "15:04" {
			return label + " must be a time like 14:30."
		}
		return label + " must be a date like 2025-01-31."
	default:
		return label + " is invalid."
	}
}
