// Command genmock writes synthetic daily chart XML documents for tests and
// local runs against a mock chart source. Each generated document is parsed
// back with the chart parser so the printed stats match real pipeline
// behavior.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -place urn:mock:place:lake-eildon \
//	  -start 2019-07-01 -days 900 \
//	  -gap-every 45 -bad-every 120 \
//	  -out data/mock/lake-eildon.xml
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/water-chart-etl/internal/chartparser"
	"github.com/couchcryptid/water-chart-etl/internal/domain"
	"golang.org/x/text/encoding/charmap"
)

// genConfig describes one synthetic document.
type genConfig struct {
	place    string
	start    time.Time
	days     int
	capacity float64
	gapEvery int // drop one day every n days, 0 for none
	badEvery int // flag one reading as bad every n days, 0 for none
	seed     uint64
	latin1   bool
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	place := flag.String("place", "urn:mock:place:lake-eildon", "place URN written into the document")
	start := flag.String("start", "2019-07-01", "first date (YYYY-MM-DD)")
	days := flag.Int("days", 730, "number of days to generate")
	capacity := flag.Float64("capacity", 3334158, "storage capacity in megalitres")
	gapEvery := flag.Int("gap-every", 0, "omit one day every n days (0 disables)")
	badEvery := flag.Int("bad-every", 0, "mark one reading bad every n days (0 disables)")
	seed := flag.Uint64("seed", 1, "random seed")
	latin1 := flag.Bool("latin1", false, "encode the document as ISO-8859-1")
	out := flag.String("out", "", "output path for the chart XML fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	if *days <= 0 {
		return fmt.Errorf("-days must be positive")
	}

	cfg := genConfig{
		place:    *place,
		start:    startDate,
		days:     *days,
		capacity: *capacity,
		gapEvery: *gapEvery,
		badEvery: *badEvery,
		seed:     *seed,
		latin1:   *latin1,
	}

	var buf bytes.Buffer
	if err := generate(&buf, cfg); err != nil {
		return err
	}

	chart, stats, err := chartparser.Parse(bytes.NewReader(buf.Bytes()), domain.Place{URN: cfg.place})
	if err != nil {
		return fmt.Errorf("generated document does not parse: %w", err)
	}
	if err := chart.Validate(); err != nil {
		return fmt.Errorf("generated chart is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o600); err != nil {
		return err
	}
	log.Printf("wrote %s (%d bytes)", *out, buf.Len())

	printStats(chart, stats)
	return nil
}

// generate writes a seasonal storage curve: a yearly sine around half
// capacity plus a random walk, clamped to [0, capacity].
func generate(w io.Writer, cfg genConfig) error {
	var body strings.Builder
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))

	encoding := "UTF-8"
	if cfg.latin1 {
		encoding = "ISO-8859-1"
	}
	fmt.Fprintf(&body, "<?xml version=\"1.0\" encoding=\"%s\"?>\n", encoding)
	body.WriteString("<chart>\n")
	fmt.Fprintf(&body, "  <place>%s</place>\n", cfg.place)
	body.WriteString("  <title>Synthetic storage, gauged daily (Ml) · Mühlbach</title>\n")

	drift := 0.0
	year := 0
	for i := range cfg.days {
		date := cfg.start.AddDate(0, 0, i)
		if date.Year() != year {
			if year != 0 {
				body.WriteString("    </dataset>\n  </series>\n")
			}
			year = date.Year()
			body.WriteString("  <series>\n    <interval>P1D</interval>\n    <dataset>\n")
		}

		drift += rng.NormFloat64() * cfg.capacity * 0.002
		season := math.Sin(2 * math.Pi * float64(date.YearDay()) / 365.25)
		v := cfg.capacity * (0.5 + 0.3*season)
		v = math.Round(math.Max(0, math.Min(cfg.capacity, v+drift))*10) / 10

		switch {
		case cfg.gapEvery > 0 && i%cfg.gapEvery == cfg.gapEvery-1:
			continue
		case cfg.badEvery > 0 && i%cfg.badEvery == cfg.badEvery-1:
			fmt.Fprintf(&body, "      <value><date>%s</date><number>%g</number><quality>bad</quality></value>\n", date.Format("2006-01-02"), v)
		default:
			fmt.Fprintf(&body, "      <value><date>%s</date><number>%g</number></value>\n", date.Format("2006-01-02"), v)
		}
	}
	body.WriteString("    </dataset>\n  </series>\n</chart>\n")

	if !cfg.latin1 {
		_, err := io.WriteString(w, body.String())
		return err
	}
	encoded, err := charmap.ISO8859_1.NewEncoder().String(body.String())
	if err != nil {
		return fmt.Errorf("encode ISO-8859-1: %w", err)
	}
	_, err = io.WriteString(w, encoded)
	return err
}

func printStats(chart domain.Chart, stats chartparser.Stats) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Place: %s\n", chart.PlaceURN)
	fmt.Printf("year_max: %g\n", chart.YMax)
	fmt.Printf("Values: accepted=%d invalid=%d\n", stats.ValuesAccepted, stats.ValuesInvalid)
	fmt.Printf("Runs committed: %d\n", stats.RunsCommitted)
	for _, s := range chart.Series {
		fmt.Printf("  %d: %d datasets, %d slots", s.Year, len(s.Datasets), s.Len())
		for _, ds := range s.Datasets {
			fmt.Printf(" [%d,%d)", ds.StartDayIndex, ds.End())
		}
		fmt.Println()
	}
}
