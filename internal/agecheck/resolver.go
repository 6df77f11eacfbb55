// Package agecheck reads a birth date out of recognized text, computes the
// holder's age and decides whether the document may proceed.
package agecheck

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// Exactly DD/MM/YYYY. No other separators or field widths.
var datePattern = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)

// FindDate locates the first DD/MM/YYYY substring in text.
func FindDate(text string) model.ExtractionResult {
	res := model.ExtractionResult{Text: text}
	loc := datePattern.FindStringIndex(text)
	if loc == nil {
		return res
	}
	res.Match = &model.DateMatch{Start: loc[0], End: loc[1], Value: text[loc[0]:loc[1]]}
	return res
}

// ParseBirthDate parses DD/MM/YYYY and rejects dates that do not exist on
// the calendar, such as 31/04/2000.
func ParseBirthDate(value string) (model.BirthDate, error) {
	if !datePattern.MatchString(value) || len(value) != 10 {
		return model.BirthDate{}, fmt.Errorf("%w: %q is not DD/MM/YYYY", model.ErrDateNotFound, value)
	}
	day, _ := strconv.Atoi(value[0:2])
	month, _ := strconv.Atoi(value[3:5])
	year, _ := strconv.Atoi(value[6:10])
	if year < 1 || month < 1 || month > 12 || day < 1 {
		return model.BirthDate{}, fmt.Errorf("%w: %q is not a calendar date", model.ErrDateNotFound, value)
	}
	// time.Date normalizes overflow (31/04 becomes 01/05), so a round trip
	// exposes impossible days.
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month || t.Year() != year {
		return model.BirthDate{}, fmt.Errorf("%w: %q is not a calendar date", model.ErrDateNotFound, value)
	}
	return model.BirthDate{Day: day, Month: month, Year: year}, nil
}

// AgeAt returns the age in whole years on the calendar day of now. The year
// difference drops by one while (month, day) of now is still before the
// birthday.
func AgeAt(birth model.BirthDate, now time.Time) int {
	year, month, day := now.Date()
	age := year - birth.Year
	if int(month) < birth.Month || (int(month) == birth.Month && day < birth.Day) {
		age--
	}
	return age
}

// Resolve finds the birth date in text and evaluates the age as of now.
func Resolve(text string, now time.Time) (model.ExtractionResult, model.AgeVerification, error) {
	res := FindDate(text)
	if res.Match == nil {
		return res, model.AgeVerification{}, fmt.Errorf("%w: no DD/MM/YYYY in recognized text", model.ErrDateNotFound)
	}
	birth, err := ParseBirthDate(res.Match.Value)
	if err != nil {
		return res, model.AgeVerification{}, err
	}
	age := AgeAt(birth, now)
	return res, model.AgeVerification{
		BirthDate:   birth,
		Age:         age,
		IsAdult:     age >= model.AdultAge,
		EvaluatedAt: now,
	}, nil
}
