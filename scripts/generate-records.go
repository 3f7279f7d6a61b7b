//go:build ignore

// Package main generates synthetic embedding records as JSONL for
// benchmarking ingest and search.
// Usage: go run scripts/generate-records.go -packages 20 -records 50 > testdata/bench.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
)

var (
	numPackages = flag.Int("packages", 20, "Number of packages to generate")
	numRecords  = flag.Int("records", 50, "Records per package")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

type packageKind struct {
	kind     string
	name     string
	sources  []string
	subjects []string
	verbs    []string
}

var kinds = []packageKind{
	{
		kind:     "health",
		name:     "Wearable Export",
		sources:  []string{"watch", "band", "phone"},
		subjects: []string{"resting heart rate", "sleep duration", "step count", "blood oxygen", "heart rate variability"},
		verbs:    []string{"rose", "dropped", "held steady", "peaked", "averaged"},
	},
	{
		kind:     "finance",
		name:     "Budget Ledger",
		sources:  []string{"bank", "card", "manual"},
		subjects: []string{"grocery spending", "rent payment", "savings balance", "subscription costs", "travel expenses"},
		verbs:    []string{"increased", "decreased", "stayed flat", "doubled", "averaged"},
	},
	{
		kind:     "location",
		name:     "Location History",
		sources:  []string{"gps", "wifi"},
		subjects: []string{"commute time", "time at home", "weekend trips", "gym visits", "distance travelled"},
		verbs:    []string{"grew", "shrank", "varied", "stabilised", "spiked"},
	},
}

var periods = []string{"this week", "last week", "this month", "over the quarter", "since January"}

type line struct {
	PackageID     string         `json:"package_id"`
	PackageName   string         `json:"package_name,omitempty"`
	PackageType   string         `json:"package_type,omitempty"`
	EmbeddingType string         `json:"embedding_type,omitempty"`
	TextContent   string         `json:"text_content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	enc := json.NewEncoder(w)

	for p := 0; p < *numPackages; p++ {
		k := kinds[p%len(kinds)]
		id := fmt.Sprintf("%s-%03d", k.kind, p)

		for r := 0; r < *numRecords; r++ {
			l := line{
				PackageID:   id,
				TextContent: fmt.Sprintf("%s %s %s", pick(rng, k.subjects), pick(rng, k.verbs), pick(rng, periods)),
				Metadata: map[string]any{
					"type":   k.kind,
					"source": pick(rng, k.sources),
					"tags":   []string{pick(rng, k.sources), pick(rng, periods)},
				},
			}
			if r == 0 {
				l.PackageName = fmt.Sprintf("%s %d", k.name, p)
				l.PackageType = k.kind
				l.EmbeddingType = "summary"
			}
			if err := enc.Encode(l); err != nil {
				fmt.Fprintln(os.Stderr, "write failed:", err)
				os.Exit(1)
			}
		}
	}
}

func pick(rng *rand.Rand, options []string) string {
	return options[rng.Intn(len(options))]
}
