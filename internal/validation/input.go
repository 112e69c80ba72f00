package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MinUsernameLength            = 3
	MaxUsernameLength            = 30
	MinProjectTitleLength        = 3
	MaxProjectTitleLength        = 200
	MinProjectDescriptionLength  = 10
	MaxProjectDescriptionLength  = 5000
	MinProposalCoverLetterLength = 10
	MaxProposalCoverLetterLength = 2000
	MaxDisputeReasonLength       = 200
	MaxDisputeDescriptionLength  = 2000
	MinBudget                    = 0.0
	MaxBudget                    = 100000000.0 // 100 миллионов
	MaxProposalsPerProject       = 100
	MaxTimelineDays              = 365
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateEmail проверяет формат email.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email обязателен")
	}

	email = strings.ToLower(strings.TrimSpace(email))

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return fmt.Errorf("некорректный формат email")
	}

	localPart := parts[0]
	domainPart := parts[1]

	if len(localPart) == 0 || len(localPart) > 64 {
		return fmt.Errorf("локальная часть email должна быть от 1 до 64 символов")
	}

	localRegex := regexp.MustCompile(`^[a-z0-9._+-]+$`)
	if !localRegex.MatchString(localPart) {
		return fmt.Errorf("локальная часть email содержит недопустимые символы")
	}

	domainRegex := regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
	if len(domainPart) > 255 || !domainRegex.MatchString(domainPart) {
		return fmt.Errorf("доменная часть email имеет некорректный формат")
	}

	return nil
}

// ValidateUsername проверяет имя пользователя.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("имя пользователя обязательно")
	}

	if err := ValidateLength("имя пользователя", username, MinUsernameLength, MaxUsernameLength); err != nil {
		return err
	}

	usernameRegex := regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("имя пользователя может содержать только буквы, цифры и подчеркивание")
	}

	if unicode.IsDigit(rune(username[0])) {
		return fmt.Errorf("имя пользователя не может начинаться с цифры")
	}

	return nil
}

// ValidateProjectTitle проверяет заголовок проекта.
func ValidateProjectTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("заголовок проекта обязателен")
	}
	return ValidateLength("заголовок проекта", title, MinProjectTitleLength, MaxProjectTitleLength)
}

// ValidateProjectDescription проверяет описание проекта.
func ValidateProjectDescription(description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return fmt.Errorf("описание проекта обязательно")
	}
	return ValidateLength("описание проекта", description, MinProjectDescriptionLength, MaxProjectDescriptionLength)
}

// ValidateProposalCoverLetter проверяет сопроводительное письмо.
func ValidateProposalCoverLetter(coverLetter string) error {
	coverLetter = strings.TrimSpace(coverLetter)
	if coverLetter == "" {
		return fmt.Errorf("сопроводительное письмо обязательно")
	}
	return ValidateLength("сопроводительное письмо", coverLetter, MinProposalCoverLetterLength, MaxProposalCoverLetterLength)
}

// ValidateAmount проверяет денежную сумму.
func ValidateAmount(fieldName string, amount float64) error {
	if amount <= MinBudget {
		return fmt.Errorf("%s должна быть положительной", fieldName)
	}
	if amount > MaxBudget {
		return fmt.Errorf("%s не может превышать %.0f", fieldName, MaxBudget)
	}
	return nil
}
