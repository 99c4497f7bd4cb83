package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

func main() {
	var (
		primaryBase   string
		candidateBase string
		targetsPath   string
		month         int
		year          int
		sites         string
		token         string
		timeout       time.Duration
	)

	flag.StringVar(&primaryBase, "primary", "http://localhost:8080/api/v1", "Reference deployment base URL")
	flag.StringVar(&candidateBase, "candidate", "http://localhost:8081/api/v1", "Deployment under test base URL")
	flag.StringVar(&targetsPath, "targets", "", "Optional JSON targets file; defaults to every report for -month/-year")
	flag.IntVar(&month, "month", int(time.Now().Month()), "Report month")
	flag.IntVar(&year, "year", time.Now().Year(), "Report year")
	flag.StringVar(&sites, "sites", "", "Comma separated site names to include single-site reports for")
	flag.StringVar(&token, "token", "", "Bearer token sent to both deployments")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "HTTP client timeout")
	flag.Parse()

	var (
		targets []target
		err     error
	)
	if targetsPath != "" {
		targets, err = loadTargets(targetsPath)
		if err != nil {
			log.Fatalf("failed to load targets: %v", err)
		}
	} else {
		targets = defaultTargets(month, year, splitSites(sites))
	}

	client := resty.New().SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}

	var (
		comparisons  []comparison
		breaking     int
		optionalDiff int
	)
	for _, t := range targets {
		comp := compareTarget(client, primaryBase, candidateBase, t)
		if comp.Error != nil || !comp.StatusMatch || !comp.BodyMatch {
			if t.Critical {
				breaking++
			} else {
				optionalDiff++
			}
		}
		comparisons = append(comparisons, comp)
	}

	printReport(os.Stdout, comparisons)
	fmt.Printf("Breaking diffs: %d, Optional diffs: %d\n", breaking, optionalDiff)
	if breaking > 0 {
		os.Exit(1)
	}
}
