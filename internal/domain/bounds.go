package domain

// Bounds tracks the largest value seen. The zero value is ready to use and
// reports a maximum of 0 until the first observation.
type Bounds struct {
	max  float64
	seen bool
}

// Observe folds v into the running maximum.
func (b *Bounds) Observe(v float64) {
	if !b.seen || v > b.max {
		b.max = v
		b.seen = true
	}
}

// Max returns the largest observed value, or 0 before any observation.
func (b *Bounds) Max() float64 {
	return b.max
}

// Seen reports whether any value was observed.
func (b *Bounds) Seen() bool {
	return b.seen
}

// Percentage returns v as a fraction of yMax, or 0 when yMax is 0.
func Percentage(v, yMax float64) float64 {
	if yMax == 0 {
		return 0
	}
	return v / yMax
}

// ApplyPercentages sets every value's percentage from the chart's YMax.
func (c *Chart) ApplyPercentages() {
	for i := range c.Series {
		for j := range c.Series[i].Datasets {
			values := c.Series[i].Datasets[j].Values
			for k := range values {
				values[k].Percentage = Percentage(values[k].Value, c.YMax)
			}
		}
	}
}
