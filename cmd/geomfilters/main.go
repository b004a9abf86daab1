// Package main provides the invariant filter generation CLI.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/equivariant-ml/geomconv/geom"
	"github.com/equivariant-ml/geomconv/group"
)

const version = "v0.1.0-dev"

// JobSpec is the YAML description of a filter generation run.
type JobSpec struct {
	D         int     `yaml:"d"`
	Ms        []int   `yaml:"ms"`
	Ks        []int   `yaml:"ks"`
	Parities  []int   `yaml:"parities"`
	Scale     string  `yaml:"scale"`
	Tolerance float64 `yaml:"tolerance"`
	Verbose   bool    `yaml:"verbose"`
}

func (j *JobSpec) validate() error {
	if j.D < 2 {
		return fmt.Errorf("d must be at least 2, got %d", j.D)
	}
	if len(j.Ms) == 0 {
		return fmt.Errorf("at least one filter side length (ms) is required")
	}
	for _, m := range j.Ms {
		if m < 1 || m%2 == 0 {
			return fmt.Errorf("filter side lengths must be odd and positive, got %d", m)
		}
	}
	if len(j.Ks) == 0 {
		j.Ks = []int{0, 1}
	}
	if len(j.Parities) == 0 {
		j.Parities = []int{0, 1}
	}
	for _, p := range j.Parities {
		if p != 0 && p != 1 {
			return fmt.Errorf("parities must be 0 or 1, got %d", p)
		}
	}
	if j.Scale != "" && j.Scale != geom.ScaleNormalize && j.Scale != geom.ScaleOne {
		return fmt.Errorf("scale must be %q or %q, got %q", geom.ScaleNormalize, geom.ScaleOne, j.Scale)
	}
	return nil
}

func run(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading job spec: %w", err)
	}
	var job JobSpec
	if err := yaml.Unmarshal(raw, &job); err != nil {
		return fmt.Errorf("parsing job spec: %w", err)
	}
	if err := job.validate(); err != nil {
		return err
	}

	operators := group.MakeAllOperators(job.D)
	fmt.Printf("group B_%d has %d operators\n", job.D, len(operators))

	opts := &geom.FilterOptions{Tolerance: job.Tolerance, Scale: job.Scale}
	filters, maxn := geom.GetInvariantFilters(job.Ms, job.Ks, job.Parities, job.D, operators, opts)

	total := 0
	for _, m := range job.Ms {
		for _, k := range job.Ks {
			for _, parity := range job.Parities {
				key := geom.FilterKey{D: job.D, M: m, K: k, Parity: parity}
				set := filters[key]
				total += len(set)
				fmt.Printf("D=%d M=%d k=%d parity=%d: %d filters\n", job.D, m, k, parity, len(set))
				if job.Verbose {
					for i, f := range set {
						fmt.Printf("  filter %d (bigness %.3f):\n%v\n", i, f.Bigness(), f.Data())
					}
				}
			}
		}
		fmt.Printf("D=%d M=%d: max %d filters per (k, parity)\n", job.D, m, maxn[[2]int{job.D, m}])
	}
	fmt.Printf("%d invariant filters total\n", total)
	return nil
}

func usage() {
	fmt.Println("geomfilters - generate group-invariant convolution filters")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage:")
	fmt.Println("  geomfilters <job.yaml>    Generate filters described by a YAML job spec")
	fmt.Println("  geomfilters version       Show version")
	fmt.Println("")
	fmt.Println("Job spec fields: d, ms, ks, parities, scale (normalize|one), tolerance, verbose")
}

func main() {
	if len(os.Args) != 2 {
		usage()
		os.Exit(2)
	}
	if os.Args[1] == "version" {
		fmt.Printf("geomfilters %s\n", version)
		return
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "geomfilters: %v\n", err)
		os.Exit(1)
	}
}
