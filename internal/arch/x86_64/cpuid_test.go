package x8664

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fakeCPUID(topology uint32) CPUIDFn {
	return func(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
		switch leaf {
		case leafExtendedTopology:
			return 0, topology, 0, 0
		case 1:
			return 0, 0, 1 << 0, 1<<9 | 1<<5 // ecx bit0, edx bits 5/9
		}
		return 0, 0, 0, 0
	}
}

func TestDetectCPUCountReadsTopologyLeaf(t *testing.T) {
	assert.Equal(t, 8, DetectCPUCount(fakeCPUID(8)))
}

func TestDetectCPUCountDefaultsToOneWhenNilOrZero(t *testing.T) {
	assert.Equal(t, 1, DetectCPUCount(nil))
	assert.Equal(t, 1, DetectCPUCount(fakeCPUID(0)))
}

func TestHasFeatureChecksEdxAndEcxBits(t *testing.T) {
	cpuid := fakeCPUID(4)
	assert.True(t, HasFeature(cpuid, 5))
	assert.True(t, HasFeature(cpuid, 32)) // ecx bit 0
	assert.False(t, HasFeature(cpuid, 3))
}
