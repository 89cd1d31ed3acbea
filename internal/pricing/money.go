package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Money is an amount in minor currency units (cents).
type Money int64

// FromFloat rounds a major-unit amount to the nearest cent.
func FromFloat(v float64) Money {
	return Money(math.Round(v * 100)) //nolint:gomnd
}

func (m Money) Float() float64 {
	return float64(m) / 100 //nolint:gomnd
}

func (m Money) String() string {
	sign := ""
	v := int64(m)

	if v < 0 {
		sign = "-"
		v = -v
	}

	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100) //nolint:gomnd
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		s, uerr := strconv.Unquote(string(data))
		if uerr != nil {
			return fmt.Errorf("decode money: %w", err)
		}

		if v, err = strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("decode money %q: %w", s, err)
		}
	}

	*m = FromFloat(v)

	return nil
}
