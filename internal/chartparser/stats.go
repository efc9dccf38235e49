package chartparser

// Stats counts what a parse session did with its input.
type Stats struct {
	BytesFed        int64
	ValuesAccepted  int
	ValuesInvalid   int
	DatesUnparsable int
	SeriesSkipped   int
	RunsCommitted   int
	RunsAbandoned   int

	// NonLeapFeb29Ignored counts 29 February dates of years without one.
	NonLeapFeb29Ignored int
}
