//go:build ignore
// +build ignore

// Customer CSV Generator for import load testing.
// Produces a file with the same 12-column layout as the production export,
// sized to order. Output is deterministic for a given seed, so a resume test
// can regenerate the exact same file.
//
// Usage:
//   go run scripts/generate_customers.go \
//     --rows=2000000 \
//     --out=data/customers.csv \
//     --seed=42 \
//     --dupe-rate=0.01
//
// --dupe-rate injects repeated Customer Ids to exercise the importer's
// upsert path; 0 disables it.

package main

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// DATA POOLS
// =============================================================================

var firstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael",
	"Linda", "David", "Elizabeth", "William", "Barbara", "Richard", "Susan",
	"Joseph", "Jessica", "Thomas", "Sarah", "Carlos", "Yuki", "Amara",
	"Lars", "Ingrid", "Mateo", "Priya", "Chen", "Fatima", "Oliver",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller",
	"Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez",
	"Wilson", "Anderson", "Nguyen", "Kim", "Patel", "Tanaka", "Larsen",
	"Okafor", "Novak", "Silva", "Kowalski", "Haddad", "Berg",
}

var companies = []string{
	"Acme Corp", "Globex", "Initech", "Umbrella Group", "Stark Industries",
	"Wayne Enterprises", "Hooli", "Vandelay Industries", "Wonka Co",
	"Tyrell Systems", "Cyberdyne Labs", "Soylent LLC", "Aperture Works",
}

var cities = []string{
	"Amsterdam", "Rotterdam", "Berlin", "Munich", "Paris", "Lyon", "Madrid",
	"Barcelona", "Lisbon", "Porto", "Vienna", "Prague", "Warsaw", "Dublin",
	"London", "Manchester", "Oslo", "Stockholm", "Copenhagen", "Helsinki",
}

var countries = []string{
	"Netherlands", "Germany", "France", "Spain", "Portugal", "Austria",
	"Czech Republic", "Poland", "Ireland", "United Kingdom", "Norway",
	"Sweden", "Denmark", "Finland",
}

var tlds = []string{"com", "net", "org", "io", "co"}

// =============================================================================
// GENERATION
// =============================================================================

func main() {
	rows := flag.Int64("rows", 2_000_000, "number of data rows to generate")
	out := flag.String("out", "data/customers.csv", "output file path")
	seed := flag.Int64("seed", 42, "PRNG seed (same seed, same file)")
	dupeRate := flag.Float64("dupe-rate", 0, "fraction of rows repeating an earlier Customer Id")
	flag.Parse()

	if *rows <= 0 {
		log.Fatal("--rows must be positive")
	}
	if *dupeRate < 0 || *dupeRate >= 1 {
		log.Fatal("--dupe-rate must be in [0, 1)")
	}

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create output dir: %v", err)
		}
	}
	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)
	w := csv.NewWriter(bw)

	header := []string{
		"Index", "Customer Id", "First Name", "Last Name", "Company", "City",
		"Country", "Phone 1", "Phone 2", "Email", "Subscription Date", "Website",
	}
	if err := w.Write(header); err != nil {
		log.Fatalf("write header: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	start := time.Now()

	log.Printf("Generating %d rows into %s (seed=%d, dupe-rate=%.3f)", *rows, *out, *seed, *dupeRate)

	for i := int64(1); i <= *rows; i++ {
		id := customerID(i)
		if *dupeRate > 0 && i > 1 && rng.Float64() < *dupeRate {
			// Repeat an earlier id; the importer should update, not insert.
			id = customerID(1 + rng.Int63n(i-1))
		}

		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		company := companies[rng.Intn(len(companies))]
		city := cities[rng.Intn(len(cities))]
		country := countries[rng.Intn(len(countries))]
		subDate := epoch.AddDate(0, 0, rng.Intn(5*365)).Format("2006-01-02")
		email := fmt.Sprintf("%s.%s%d@example.%s",
			strings.ToLower(first), strings.ToLower(last), i, tlds[rng.Intn(len(tlds))])
		site := fmt.Sprintf("https://www.%s%d.example.%s",
			strings.ToLower(strings.ReplaceAll(company, " ", "")), i%997, tlds[rng.Intn(len(tlds))])

		record := []string{
			strconv.FormatInt(i, 10),
			id,
			first,
			last,
			company,
			city,
			country,
			phone(rng),
			phone(rng),
			email,
			subDate,
			site,
		}
		if err := w.Write(record); err != nil {
			log.Fatalf("write row %d: %v", i, err)
		}

		if i%100_000 == 0 {
			w.Flush()
			log.Printf("  %d rows (%.0f rows/sec)", i, float64(i)/time.Since(start).Seconds())
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("flush csv: %v", err)
	}
	if err := bw.Flush(); err != nil {
		log.Fatalf("flush buffer: %v", err)
	}

	info, err := f.Stat()
	if err != nil {
		log.Fatalf("stat output: %v", err)
	}
	log.Printf("Done: %d rows, %.1f MiB in %s (%.0f rows/sec)",
		*rows, float64(info.Size())/(1<<20), time.Since(start).Round(time.Second),
		float64(*rows)/time.Since(start).Seconds())
}

// customerID renders a stable 15-character id for row n, mimicking the
// production export format. Row n always maps to the same id so duplicate
// injection reproduces an earlier row's key exactly.
func customerID(n int64) string {
	const alphabet = "0123456789ABCDEFabcdef"
	h := n*2654435761 + 0x9E3779B9
	var sb strings.Builder
	sb.Grow(15)
	for i := 0; i < 15; i++ {
		h = h*6364136223846793005 + 1442695040888963407
		sb.WriteByte(alphabet[uint64(h)%uint64(len(alphabet))])
	}
	return sb.String()
}

func phone(rng *rand.Rand) string {
	return fmt.Sprintf("+%d-%03d-%03d-%04d",
		1+rng.Intn(48), rng.Intn(1000), rng.Intn(1000), rng.Intn(10000))
}
