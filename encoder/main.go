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
	"github.com/xtaci/gf16proc/std"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// Report file:line to simplify debugging self-built binaries.
		log.SetReportCaller(true)
	}

	myApp := cli.NewApp()
	myApp.Name = "gf16enc"
	myApp.Usage = "compute GF(2^16) recovery slices for a set of files"
	myApp.ArgsUsage = "FILE..."
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "slicesize,s",
			Value: 1 << 20,
			Usage: "bytes per slice, every input file is cut into slices of this size",
		},
		cli.IntFlag{
			Name:  "recovery,r",
			Value: 8,
			Usage: "number of recovery slices to compute",
		},
		cli.IntFlag{
			Name:  "first",
			Value: 0,
			Usage: "exponent of the first recovery slice",
		},
		cli.IntFlag{
			Name:  "chunk",
			Value: 0,
			Usage: "bytes of each slice processed per pass, 0 for the whole slice",
		},
		cli.IntFlag{
			Name:  "backends",
			Value: 1,
			Usage: "number of CPU backends splitting each slice",
		},
		cli.StringFlag{
			Name:  "alloc",
			Value: "",
			Usage: `explicit backend ranges of a chunk, eg: "0-32768,32768-65536"`,
		},
		cli.IntFlag{
			Name:  "threads",
			Value: 0,
			Usage: "worker threads per backend, 0 for GOMAXPROCS",
		},
		cli.StringFlag{
			Name:  "method",
			Value: "auto",
			Usage: "multiply method: auto, lookup, log",
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
		cli.StringFlag{
			Name:  "comp",
			Value: std.CompNone,
			Usage: "recovery file compression: none, snappy, zstd",
		},
		cli.StringFlag{
			Name:  "out,o",
			Value: ".",
			Usage: "directory for recovery files",
		},
		cli.StringFlag{
			Name:  "manifest",
			Value: "",
			Usage: "manifest path, defaults to manifest.json in the output directory",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect counters to file, aware of timeformat in golang, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collect period, in seconds",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the 'pass done' messages",
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
		config.Recovery = c.Int("recovery")
		config.First = c.Int("first")
		config.Chunk = c.Int("chunk")
		config.Backends = c.Int("backends")
		config.Alloc = c.String("alloc")
		config.Threads = c.Int("threads")
		config.Method = c.String("method")
		config.Grouping = c.Int("grouping")
		config.Staging = c.Int("staging")
		config.Pin = c.Bool("pin")
		config.Comp = c.String("comp")
		config.Out = c.String("out")
		config.Manifest = c.String("manifest")
		config.Log = c.String("log")
		config.StatsLog = c.String("statslog")
		config.StatsPeriod = c.Int("statsperiod")
		config.Quiet = c.Bool("quiet")
		config.Pprof = c.Bool("pprof")
		config.Inputs = c.Args()

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		if config.SliceSize < 2 {
			log.Fatal("slicesize must be at least 2")
		}
		if config.Backends <= 0 && config.Alloc == "" {
			log.Fatal("backends must be greater than 0")
		}
		if len(config.Inputs) == 0 {
			log.Fatal("no input files")
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
		log.Println("recovery:", config.Recovery, "first:", config.First)
		log.Println("chunk:", config.Chunk)
		log.Println("backends:", config.Backends)
		log.Println("alloc:", config.Alloc)
		log.Println("threads:", config.Threads)
		log.Println("method:", config.Method)
		log.Println("grouping:", config.Grouping, "staging:", config.Staging)
		log.Println("pin:", config.Pin)
		log.Println("compression:", config.Comp)
		log.Println("out:", config.Out)
		log.Println("inputs:", len(config.Inputs))
		log.Println("statslog:", config.StatsLog)
		log.Println("statsperiod:", config.StatsPeriod)
		log.Println("quiet:", config.Quiet)
		log.Println("pprof:", config.Pprof)

		// Warn when the recovery and staging buffers may not fit in memory.
		chunk := config.Chunk
		if chunk <= 0 || chunk > config.SliceSize {
			chunk = config.SliceSize
		}
		need := uint64(chunk) * uint64(config.Recovery+config.Grouping*config.Staging)
		if ok, avail, err := std.CheckMemory(need); err == nil && !ok {
			color.Red("WARNING: processing needs %d bytes but only %d are available.", need, avail)
			color.Red("Try a smaller chunk to process each slice in several passes.")
		}

		// Optionally expose Go's net/http/pprof handlers on :6060.
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		_, err := encode(&config, log.StandardLogger())
		checkError(err)
		return nil
	}
	myApp.Run(os.Args)
}

// checkError logs the supplied fatal error and terminates the process.
func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
