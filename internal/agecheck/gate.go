package agecheck

import (
	"fmt"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// Gate is the only authorization checkpoint in front of storage writes. A nil
// error means the document may be uploaded.
func Gate(v model.AgeVerification) error {
	if v.IsAdult {
		return nil
	}
	return fmt.Errorf("%w: age %d, minimum %d", model.ErrUnderage, v.Age, model.AdultAge)
}
