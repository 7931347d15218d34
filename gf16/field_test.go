package gf16

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

var testField = NewField()

func TestFieldTables(t *testing.T) {
	f := testField
	require.Equal(t, uint16(1), f.Exp(0))
	require.Equal(t, uint16(2), f.Exp(1))
	require.Equal(t, uint16(0x100B), f.Exp(16))
	require.Equal(t, uint16(0x100B), f.Mul(0x8000, 2))

	seen := make(map[uint16]bool, Modulus)
	for e := 0; e < Modulus; e++ {
		v := f.Exp(uint16(e))
		require.False(t, seen[v], "generator repeats at exponent %d", e)
		seen[v] = true
		require.Equal(t, uint16(e), f.Log(v))
	}
}

func TestMulProperties(t *testing.T) {
	f := testField
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		a, b, c := uint16(rng.Intn(Order)), uint16(rng.Intn(Order)), uint16(rng.Intn(Order))
		require.Equal(t, f.Mul(a, b), f.Mul(b, a))
		require.Equal(t, f.Mul(a, b^c), f.Mul(a, b)^f.Mul(a, c))
		require.Equal(t, f.Mul(f.Mul(a, b), c), f.Mul(a, f.Mul(b, c)))
		require.Equal(t, a, f.Mul(a, 1))
	}
}

func TestInputConstants(t *testing.T) {
	f := testField
	require.Equal(t, uint16(1), f.InputLog(0))
	require.Equal(t, uint16(2), f.InputLog(1))
	require.Equal(t, uint16(4), f.InputLog(2))
	require.Equal(t, uint16(7), f.InputLog(3))
	require.Equal(t, uint16(65534), f.InputLog(MaxInputs-1))

	prev := uint16(0)
	for i := 0; i < MaxInputs; i++ {
		l := f.InputLog(uint16(i))
		require.Greater(t, l, prev)
		for _, p := range []uint16{3, 5, 17, 257} {
			require.NotZero(t, l%p, "input %d has log %d", i, l)
		}
		prev = l
	}
}

func TestCoefficientKnownValues(t *testing.T) {
	f := testField
	require.Equal(t, uint16(2), f.Coefficient(0, 1))
	require.Equal(t, uint16(4), f.Coefficient(1, 1))
	require.Equal(t, uint16(16), f.Coefficient(2, 1))
	require.Equal(t, uint16(128), f.Coefficient(3, 1))
	require.Equal(t, uint16(0x100B), f.Coefficient(0, 16))
	for i := 0; i < MaxInputs; i += 997 {
		require.Equal(t, uint16(1), f.Coefficient(uint16(i), 0))
	}
}

func TestCoefficientMatchesPow(t *testing.T) {
	f := testField
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 20000; i++ {
		in := uint16(rng.Intn(MaxInputs))
		exp := uint16(rng.Intn(MaxExponent))
		want := f.Pow(f.InputConstant(in), uint32(exp))
		require.Equal(t, want, f.Coefficient(in, exp), "input %d exponent %d", in, exp)
	}
	// extremes of the reduction
	require.Equal(t, f.Pow(f.InputConstant(MaxInputs-1), 65534), f.Coefficient(MaxInputs-1, 65534))
}

func TestCoefficientDeterministic(t *testing.T) {
	a, b := NewField(), NewField()
	for i := 0; i < MaxInputs; i += 61 {
		for e := 0; e < MaxExponent; e += 4099 {
			require.Equal(t, a.Coefficient(uint16(i), uint16(e)), b.Coefficient(uint16(i), uint16(e)))
			require.Equal(t, a.Coefficient(uint16(i), uint16(e)), a.Coefficient(uint16(i), uint16(e)))
		}
	}
}

func TestCoefficientDistinctExponents(t *testing.T) {
	f := testField
	for _, in := range []uint16{0, 1, 2, 1000, MaxInputs - 1} {
		seen := make(map[uint16]uint16, MaxExponent)
		for e := 0; e < MaxExponent; e++ {
			c := f.Coefficient(in, uint16(e))
			prev, dup := seen[c]
			require.False(t, dup, "input %d: exponents %d and %d share coefficient %#x", in, prev, e, c)
			seen[c] = uint16(e)
		}
	}
}

func TestChecksumLinear(t *testing.T) {
	f := testField
	rng := rand.New(rand.NewSource(3))
	buf := make([]byte, 1030)
	rng.Read(buf)

	var want uint16
	for i := 0; i < len(buf); i += 2 {
		want ^= uint16(buf[i]) | uint16(buf[i+1])<<8
	}
	require.Equal(t, want, Checksum(buf))
	require.Equal(t, want^uint16(7), Checksum(append(buf, 7)))

	c := uint16(0x1234)
	scaled := make([]byte, len(buf))
	for i := 0; i < len(buf); i += 2 {
		w := f.Mul(c, uint16(buf[i])|uint16(buf[i+1])<<8)
		scaled[i], scaled[i+1] = byte(w), byte(w>>8)
	}
	require.Equal(t, f.Mul(c, Checksum(buf)), Checksum(scaled))
}
