package user

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/feedback360/core"
)

var (
	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("a senha deve conter pelo menos %d caracteres", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "a senha não pode conter espaços"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "a senha não pode ser inteiramente numérica"

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = "a senha deve conter pelo menos 1 letra maiúscula, 1 letra minúscula, 1 dígito e 1 caractere especial"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "a senha não pode ser parecida com os dados do usuário"

	studentFieldsTag  = "studentfields"
	studentFieldsText = "este campo é obrigatório para alunos"
)

// InitValidators registers the user struct validations and their messages.
func InitValidators(v *core.Validator) {
	validate, translator := v.Engine(), v.Translator()

	validate.RegisterStructValidation(userStructValidation, NewUser{}, ChangePassword{}, ResetUserPassword{})

	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdComplexityTag, pwdComplexityText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, translator, studentFieldsTag, studentFieldsText)
}

// userStructValidation does struct level validation on NewUser, ChangePassword and ResetUserPassword.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		if usr.Role == RoleStudent {
			if usr.EnrollmentNumber == "" {
				sl.ReportError(usr.EnrollmentNumber, "enrollment_number", "EnrollmentNumber", studentFieldsTag, "")
			}
			if usr.CourseID == 0 {
				sl.ReportError(usr.CourseID, "course_id", "CourseID", studentFieldsTag, "")
			}
		}
		if !usr.skipPasswordPolicy {
			validatePassword(usr.Password, usr.Name, usr.Email, sl)
		}
	case ChangePassword:
		validatePassword(usr.Password, usr.name, usr.email, sl)
	case ResetUserPassword:
		validatePassword(usr.Password, usr.name, usr.email, sl)
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
func validatePassword(pwd, name, email string, sl validator.StructLevel) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}

	var (
		digitCount                             int
		hasUpper, hasLower, hasDig, hasSpecial bool
	)

	// - minLen: 8
	chars := []rune(pwd)
	pwdLen := len(chars)
	if pwdLen < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}
	for _, char := range chars {
		// - no whitespace
		if unicode.IsSpace(char) {
			reportErr(pwdNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	// - not all numeric
	if digitCount == pwdLen {
		reportErr(pwdNotAllNumTag)
		return
	}

	// - complexity: 1 upper, 1 lower, 1 digit & 1 special
	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(pwd)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		reportErr(pwdComplexityTag)
		return
	}

	// - no user attrs similarity
	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(strings.ToLower(pass), ""), strings.Split(strings.ToLower(usrAttr), "")).QuickRatio()
	}
	emailLocal := email
	if i := strings.Index(email, "@"); i > 0 {
		emailLocal = email[:i]
	}
	if getRatio(pwd, name) >= pwdMaxSim || getRatio(pwd, emailLocal) >= pwdMaxSim {
		reportErr(pwdAttrSimTag)
		return
	}
}
