package domain

import (
	"strings"
	"unicode/utf8"
)

// fence would let a question close the translator prompt's JSON block early.
const fence = "```"

const maxQuestionRunes = 2000

// ValidateQuestion checks a free-text question before it is embedded or
// handed to the translator.
func ValidateQuestion(q string) error {
	text := strings.TrimSpace(q)
	if text == "" {
		return NewInputError("question", q, ErrEmptyText)
	}
	if utf8.RuneCountInString(text) > maxQuestionRunes {
		return NewInputError("question", string([]rune(text)[:64]), ErrQuestionTooLong)
	}
	if strings.Contains(text, fence) {
		return NewInputError("question", text, ErrQueryInjection)
	}
	return nil
}

// ValidateRecord checks that a record can become a document.
func ValidateRecord(index int, source string, r RawRecord) error {
	if r == nil {
		return &RecordError{Index: index, Source: source, Reason: "record is empty"}
	}
	if _, ok := r.Summary(); !ok {
		return &RecordError{Index: index, Source: source, Reason: "missing summary"}
	}
	return nil
}
