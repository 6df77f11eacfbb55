package agecheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestFindDateFirstMatch(t *testing.T) {
	res := FindDate("RG 12.345.678-9\nnasc: 15/05/2000 exp 01/01/2030")
	require.NotNil(t, res.Match)
	assert.Equal(t, "15/05/2000", res.Match.Value)
	assert.Equal(t, "15/05/2000", res.Text[res.Match.Start:res.Match.End])
}

func TestFindDateStrictPattern(t *testing.T) {
	for _, text := range []string{
		"",
		"15-05-2000",
		"15.05.2000",
		"5/05/2000",
		"15/5/2000",
		"15/05/00",
		"data de nascimento ilegível",
	} {
		t.Run(text, func(t *testing.T) {
			assert.Nil(t, FindDate(text).Match)
		})
	}
}

func TestResolveExamples(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		now     time.Time
		age     int
		isAdult bool
	}{
		{"day before birthday", "...nasc: 15/05/2000...", day(2025, time.May, 14), 24, true},
		{"on birthday", "...nasc: 15/05/2000...", day(2025, time.May, 15), 25, true},
		{"child", "10/06/2010", day(2025, time.January, 1), 14, false},
		{"exactly eighteen", "01/03/2007", day(2025, time.March, 1), 18, true},
		{"one day short", "02/03/2007", day(2025, time.March, 1), 17, false},
		{"leap day birthday not reached", "29/02/2004", day(2022, time.February, 28), 17, false},
		{"leap day birthday passed", "29/02/2004", day(2022, time.March, 1), 18, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, v, err := Resolve(tt.text, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.age, v.Age)
			assert.Equal(t, tt.isAdult, v.IsAdult)
			assert.Equal(t, v.Age >= model.AdultAge, v.IsAdult)
			assert.Equal(t, tt.now, v.EvaluatedAt)
		})
	}
}

func TestResolveNoDate(t *testing.T) {
	res, _, err := Resolve("REPUBLICA FEDERATIVA DO BRASIL", day(2025, time.January, 1))
	require.ErrorIs(t, err, model.ErrDateNotFound)
	assert.Nil(t, res.Match)
}

func TestResolveImpossibleDate(t *testing.T) {
	for _, text := range []string{"31/04/2000", "29/02/2001", "00/01/2000", "10/13/2000", "10/00/2000", "01/01/0000"} {
		t.Run(text, func(t *testing.T) {
			_, _, err := Resolve(text, day(2025, time.January, 1))
			require.ErrorIs(t, err, model.ErrDateNotFound)
		})
	}
}

func TestBirthDateString(t *testing.T) {
	b, err := ParseBirthDate("05/01/1999")
	require.NoError(t, err)
	assert.Equal(t, "05/01/1999", b.String())
}
