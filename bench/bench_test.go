package main

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/xtaci/gf16proc/gf16"
)

func smallConfig() *Config {
	return &Config{
		SliceSize: 4096,
		Inputs:    20,
		Recovery:  4,
		Rounds:    2,
		Methods:   "all",
		Backends:  2,
		Threads:   2,
		Grouping:  4,
		Staging:   2,
	}
}

func TestRunMethods(t *testing.T) {
	config := smallConfig()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	field := gf16.NewField()

	ms, err := methods(config.Methods)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != len(gf16.Methods()) {
		t.Fatalf("all should select %d methods, got %d", len(gf16.Methods()), len(ms))
	}
	for _, m := range ms {
		res, err := runMethod(config, field, m, logger)
		if err != nil {
			t.Fatalf("%v: %+v", m, err)
		}
		if !res.Valid {
			t.Fatalf("%v: output failed verification", m)
		}
		if res.Name != gf16.Info(m).Name || res.Threads != 4 {
			t.Fatalf("%v: unexpected result %+v", m, res)
		}
	}
}

func TestRunBaseline(t *testing.T) {
	config := smallConfig()
	config.Inputs = 300
	res, err := runBaseline(config)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !res.Valid || res.Inputs != 252 || res.Recovery != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMethods(t *testing.T) {
	ms, err := methods("log, lookup")
	if err != nil || len(ms) != 2 || ms[0] != gf16.MethodLog {
		t.Fatalf("unexpected methods %v %v", ms, err)
	}
	if _, err := methods("simd"); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestNewBenchRunRejectsBadConfig(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	field := gf16.NewField()

	config := smallConfig()
	config.SliceSize = 4095
	if _, err := newBenchRun(config, field, gf16.DefaultMethod(), logger); err == nil {
		t.Fatal("odd slice size should be rejected")
	}

	config = smallConfig()
	config.Recovery = 70000
	if _, err := newBenchRun(config, field, gf16.DefaultMethod(), logger); err == nil {
		t.Fatal("too many recovery slices should be rejected")
	}
}
