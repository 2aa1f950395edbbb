package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Samurai315/themis/internal/optimizer"
)

type fixture struct {
	Entities    []optimizer.Entity     `json:"entities"`
	Constraints []optimizer.Constraint `json:"constraints"`
	Config      optimizer.Config       `json:"config"`
}

func main() {
	var (
		fixturePath string
		seed        int64
		generations int
		margin      float64
	)

	flag.StringVar(&fixturePath, "fixture", filepath.Join("scripts", "method_compare", "fixture.json"), "Path to JSON fixture file")
	flag.Int64Var(&seed, "seed", 42, "RNG seed for the genetic run")
	flag.IntVar(&generations, "generations", 0, "Override fixture generations (0 keeps the fixture value)")
	flag.Float64Var(&margin, "margin", 0, "Minimum fitness improvement required over the fallback")
	flag.Parse()

	fix, err := loadFixture(fixturePath)
	if err != nil {
		log.Fatalf("failed to load fixture: %v", err)
	}

	cfg := fix.Config.Normalize()
	cfg.Seed = seed
	if generations > 0 {
		cfg.Generations = generations
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid fixture config: %v", err)
	}

	// Both schedules are scored by the same evaluator so the comparison
	// cannot be skewed by differing fitness arithmetic.
	evaluator := optimizer.NewEvaluator(fix.Entities, fix.Constraints, cfg)

	fallback := optimizer.Fallback(fix.Entities, cfg)
	fallbackScore := evaluator.Evaluate(fallback)

	engine, err := optimizer.NewEngine(fix.Entities, fix.Constraints, cfg, zap.NewNop())
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	start := time.Now()
	result, err := engine.Evolve(context.Background(), func(gen int, best, avg, std float64, message string) bool {
		if gen%50 == 0 {
			fmt.Printf("  gen %4d best=%.2f avg=%.2f\n", gen, best, avg)
		}
		return true
	})
	if err != nil {
		log.Fatalf("genetic run failed: %v", err)
	}
	elapsed := time.Since(start)

	gaScore := evaluator.Evaluate(result.Schedule)

	fmt.Println("Method Compare Report")
	fmt.Println("=====================")
	fmt.Printf("Entities:         %d\n", len(fix.Entities))
	fmt.Printf("Constraints:      %d\n", len(fix.Constraints))
	fmt.Printf("Grid:             %d days x %d slots x %d rooms\n", len(cfg.Days), len(cfg.TimeSlots), len(cfg.Rooms))
	fmt.Printf("Generations:      %d (seed %d, %s)\n", len(result.History), seed, elapsed.Round(time.Millisecond))
	fmt.Printf("Fallback fitness: %.2f (%d hard violations)\n", fallbackScore, evaluator.HardViolations(fallback))
	fmt.Printf("Genetic fitness:  %.2f (%d hard violations)\n", gaScore, evaluator.HardViolations(result.Schedule))
	fmt.Printf("Improvement:      %+.2f\n", gaScore-fallbackScore)

	if gaScore <= fallbackScore+margin {
		fmt.Println("FAIL: genetic run did not beat the fallback schedule")
		os.Exit(1)
	}
	fmt.Println("OK: genetic run beat the fallback schedule")
}

func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fix fixture
	if err := json.Unmarshal(data, &fix); err != nil {
		return nil, err
	}
	if len(fix.Entities) == 0 {
		return nil, fmt.Errorf("no entities defined in %s", path)
	}
	return &fix, nil
}
