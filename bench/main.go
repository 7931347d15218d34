// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/xtaci/gf16proc/gf16"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// Report file:line to simplify debugging self-built binaries.
		log.SetReportCaller(true)
	}

	myApp := cli.NewApp()
	myApp.Name = "gf16bench"
	myApp.Usage = "measure recovery computation throughput per method"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "slicesize,s",
			Value: 1 << 20,
			Usage: "bytes per slice",
		},
		cli.IntFlag{
			Name:  "inputs,i",
			Value: 100,
			Usage: "input slices per pass",
		},
		cli.IntFlag{
			Name:  "recovery,r",
			Value: 20,
			Usage: "recovery slices computed",
		},
		cli.IntFlag{
			Name:  "rounds",
			Value: 5,
			Usage: "timed passes per method",
		},
		cli.StringFlag{
			Name:  "methods,m",
			Value: "all",
			Usage: `comma separated methods to measure, eg: "lookup,log"`,
		},
		cli.IntFlag{
			Name:  "backends",
			Value: 1,
			Usage: "number of CPU backends splitting each slice",
		},
		cli.IntFlag{
			Name:  "threads",
			Value: 0,
			Usage: "worker threads per backend, 0 for GOMAXPROCS",
		},
		cli.IntFlag{
			Name:  "grouping",
			Value: 12,
			Usage: "inputs multiplied per batch",
		},
		cli.IntFlag{
			Name:  "staging",
			Value: 2,
			Usage: "staging areas per backend",
		},
		cli.BoolFlag{
			Name:  "pin",
			Usage: "pin worker threads to CPUs(linux)",
		},
		cli.BoolFlag{
			Name:  "baseline",
			Usage: "also measure a GF(2^8) Reed-Solomon encode of the same data",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when set, the referenced JSON file must exist on disk
			Usage: "config from json file, which will override the command from shell",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.SliceSize = c.Int("slicesize")
		config.Inputs = c.Int("inputs")
		config.Recovery = c.Int("recovery")
		config.Rounds = c.Int("rounds")
		config.Methods = c.String("methods")
		config.Backends = c.Int("backends")
		config.Threads = c.Int("threads")
		config.Grouping = c.Int("grouping")
		config.Staging = c.Int("staging")
		config.Pin = c.Bool("pin")
		config.Baseline = c.Bool("baseline")
		config.Log = c.String("log")
		config.Pprof = c.Bool("pprof")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		if config.SliceSize < 2 || config.SliceSize&1 != 0 {
			log.Fatal("slicesize must be even and at least 2")
		}
		if config.Inputs <= 0 || config.Inputs > gf16.MaxInputs {
			log.Fatalf("inputs must be in 1..%d", gf16.MaxInputs)
		}
		if config.Recovery <= 0 {
			log.Fatal("recovery must be greater than 0")
		}
		if config.Backends <= 0 {
			log.Fatal("backends must be greater than 0")
		}

		// Redirect logs when the user supplied a dedicated log file.
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		log.Println("version:", VERSION)
		log.Println("cpu:", gf16.CPUInfo())
		log.Println("slicesize:", config.SliceSize)
		log.Println("inputs:", config.Inputs, "recovery:", config.Recovery)
		log.Println("rounds:", config.Rounds)
		log.Println("methods:", config.Methods)
		log.Println("backends:", config.Backends, "threads:", config.Threads)
		log.Println("grouping:", config.Grouping, "staging:", config.Staging)
		log.Println("pin:", config.Pin)
		log.Println("pprof:", config.Pprof)

		// Optionally expose Go's net/http/pprof handlers on :6060.
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		ms, err := methods(config.Methods)
		checkError(err)
		field := gf16.NewField()
		for _, m := range ms {
			res, err := runMethod(&config, field, m, log.StandardLogger())
			checkError(err)
			report(res)
		}
		if config.Baseline {
			res, err := runBaseline(&config)
			checkError(err)
			report(res)
		}
		return nil
	}
	myApp.Run(os.Args)
}

func report(res result) {
	log.Printf("%-20s threads:%-3d %d x %d in %v: %.1f MB/s", res.Name, res.Threads, res.Inputs, res.Recovery, res.Elapsed, res.MBps())
	if !res.Valid {
		color.Red("WARNING: %s produced output that failed verification.", res.Name)
	}
}

// checkError logs the supplied fatal error and terminates the process.
func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
