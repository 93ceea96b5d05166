package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDGeneratorStartsAtSeed(t *testing.T) {
	idg := NewIDGenerator(0)
	assert.Equal(t, int16(0), idg.GetID())
	assert.Equal(t, int16(1), idg.GetID())
	assert.Equal(t, int16(2), idg.GetID())
}

func TestIDGeneratorHonorsNonZeroSeed(t *testing.T) {
	idg := NewIDGenerator(10)
	assert.Equal(t, int16(10), idg.GetID())
	assert.Equal(t, int16(11), idg.GetID())
	assert.Equal(t, int16(12), idg.GetID())
}
