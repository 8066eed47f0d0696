package vad

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sineWindow(amplitude float64, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(amplitude * 32767 * math.Sin(float64(i)*0.3))
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func TestRMSDetectorBelowThresholdIsNonSpeech(t *testing.T) {
	d := NewRMSDetector(0.1)
	silence := make([]byte, 320)

	speech, err := d.Detect(silence)
	assert.NoError(t, err)
	assert.False(t, speech)
}

func TestRMSDetectorAboveThresholdIsSpeech(t *testing.T) {
	d := NewRMSDetector(0.05)
	loud := sineWindow(0.8, 200)

	speech, err := d.Detect(loud)
	assert.NoError(t, err)
	assert.True(t, speech)
}

func TestRMSDetectorEmptyWindowIsNonSpeech(t *testing.T) {
	d := NewRMSDetector(0.0)
	speech, err := d.Detect(nil)
	assert.NoError(t, err)
	assert.False(t, speech)
}

func TestRMSDetectorThresholdGetSet(t *testing.T) {
	d := NewRMSDetector(0.2)
	assert.Equal(t, 0.2, d.Threshold())
	d.SetThreshold(0.5)
	assert.Equal(t, 0.5, d.Threshold())
}

func TestRMSDetectorName(t *testing.T) {
	d := NewRMSDetector(0.5)
	assert.Equal(t, "rms_vad", d.Name())
}
