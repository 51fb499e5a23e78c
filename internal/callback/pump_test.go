package callback

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPumpKeepsOrder(t *testing.T) {
	p := NewPump(logrus.WithField("test", t.Name()), 16)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, p.Post(func() {
			got = append(got, i)
		}))
	}
	require.NoError(t, p.Close(time.Second))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostAfterClose(t *testing.T) {
	p := NewPump(logrus.WithField("test", t.Name()), 1)
	require.NoError(t, p.Close(time.Second))
	require.NoError(t, p.Close(time.Second))
	assert.False(t, p.Post(func() {}))
}
