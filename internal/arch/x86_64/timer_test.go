package x8664

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPort struct {
	failures int
	ticks    uint64
	calls    int
}

func (p *flakyPort) SamplePITTicks() (uint64, error) {
	p.calls++
	if p.calls <= p.failures {
		return 0, errors.New("noisy sample")
	}
	return p.ticks, nil
}

func TestCalibrateLAPICRetriesNoisySamples(t *testing.T) {
	port := &flakyPort{failures: 2, ticks: 119318200}
	ratio, err := CalibrateLAPIC(context.Background(), port, 100_000_000)
	require.NoError(t, err)
	assert.InDelta(t, 1.19318, ratio, 0.001)
	assert.Equal(t, 3, port.calls)
}

func TestCalibrateLAPICFailsAfterExhaustingRetries(t *testing.T) {
	port := &flakyPort{failures: 100}
	_, err := CalibrateLAPIC(context.Background(), port, 100_000_000)
	assert.ErrorIs(t, err, ErrCalibrationFailed)
}

func TestPITFrequencyDivisorDefaultsTo100Hz(t *testing.T) {
	d := PITFrequencyDivisor(0)
	assert.Equal(t, PITFrequencyDivisor(100), d)
}

func TestPITFrequencyDivisorMatchesKnownValue(t *testing.T) {
	// 1193182 / 100 = 11931 (integer division).
	assert.EqualValues(t, 11931, PITFrequencyDivisor(100))
}
