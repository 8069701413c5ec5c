package gravitas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueIsTruthy(t *testing.T) {
	assert.True(t, NumberValue(0).IsTruthy())
	assert.True(t, StringValue(0).IsTruthy())
	assert.False(t, NullValue().IsTruthy())
	assert.False(t, BoolValue(false).IsTruthy())
	assert.True(t, BoolValue(true).IsTruthy())
}

func TestValueSameTypeRejectsMismatch(t *testing.T) {
	assert.True(t, sameType(NumberValue(1), NumberValue(2)))
	assert.False(t, sameType(NumberValue(1), BoolValue(true)))
}

func TestValueEqualityNullIsReflexive(t *testing.T) {
	// Null == Null is true, not a mismatched-types error, and each kind
	// only compares against itself.
	assert.True(t, valuesEqual(NullValue(), NullValue()))
	assert.True(t, valuesEqual(NumberValue(3), NumberValue(3)))
	assert.False(t, valuesEqual(NumberValue(3), NumberValue(4)))
	assert.True(t, valuesEqual(BoolValue(true), BoolValue(true)))
}

func TestValueBoundaryArithmetic(t *testing.T) {
	// Boundary properties of IEEE 754 float64 arithmetic the VM relies on.
	assert.Equal(t, math.MaxFloat64, -(-math.MaxFloat64))
	assert.True(t, math.IsNaN(math.Mod(0, 0)))
	maxFloat := math.MaxFloat64
	assert.True(t, math.IsInf(maxFloat+maxFloat, 1))
}
