package sensor

import (
	"fmt"
	"math"
	"strings"
)

// MaxStringLen is the number of visible characters a display string may hold
const MaxStringLen = 9

// percentages maps the truncated reading to its analog output label
var percentages = map[int]string{
	0:   "0 %",
	7:   "5 %",
	25:  "10 %",
	50:  "20 %",
	100: "40 %",
	153: "60 %",
}

// Value holds a single sensor reading together with its display strings.
// A Value is not safe for concurrent use.
type Value struct {
	value      float64
	str        string
	percentage string
}

// New returns a Value initialised to v
func New(v float64) *Value {
	s := &Value{}
	s.SetValue(v)
	return s
}

// NewDefault returns a Value initialised to 0
func NewDefault() *Value {
	return New(0)
}

// Value returns the current reading
func (s *Value) Value() float64 {
	return s.value
}

// SetValue stores v and regenerates the display string
func (s *Value) SetValue(v float64) {
	s.value = v
	s.updateString()
}

func (s *Value) updateString() {
	s.str = truncate(fmt.Sprintf("%.1f", s.value))
}

// String returns the cached display string
func (s *Value) String() string {
	return s.str
}

// SetString overwrites the display string without touching the reading.
// The string ends at the first NUL and is cut to MaxStringLen characters.
// It stays out of sync with Value until the next SetValue.
func (s *Value) SetString(str string) {
	if i := strings.IndexByte(str, 0); i >= 0 {
		str = str[:i]
	}
	s.str = truncate(str)
}

// PercentageString maps the reading, truncated toward zero, to a percentage
// label. Readings missing from the table leave the previous label in place.
func (s *Value) PercentageString() string {
	if math.IsNaN(s.value) || s.value <= math.MinInt32 || s.value >= math.MaxInt32 {
		return s.percentage
	}
	if label, ok := percentages[int(s.value)]; ok {
		s.percentage = label
	}
	return s.percentage
}

func truncate(str string) string {
	r := []rune(str)
	if len(r) <= MaxStringLen {
		return str
	}
	return string(r[:MaxStringLen])
}
