package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	infos []string
}

func (r *recordingLogger) Debug(format string, args ...any) {}
func (r *recordingLogger) Info(format string, args ...any)  { r.infos = append(r.infos, format) }
func (r *recordingLogger) Warn(format string, args ...any)  {}
func (r *recordingLogger) Error(format string, args ...any) {}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	var nilRecorder *recordingLogger
	assert.Equal(t, Nop(), OrNop(nilRecorder))

	real := &recordingLogger{}
	assert.Equal(t, Logger(real), OrNop(real))
}

func TestMultiFanOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}

	logger := Multi(a, nil, b)
	logger.Info("hello")

	assert.Equal(t, []string{"hello"}, a.infos)
	assert.Equal(t, []string{"hello"}, b.infos)
}

func TestMultiFlattensNested(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}

	nested := Multi(Multi(a), b)
	ml, ok := nested.(*multiLogger)
	assert.True(t, ok)
	assert.Len(t, ml.loggers, 2)
}

func TestMultiEmptyIsNop(t *testing.T) {
	assert.Equal(t, Nop(), Multi())
	assert.Equal(t, Nop(), Multi(nil, nil))
}
