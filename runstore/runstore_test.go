package runstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ranlab/rtcore/shmradio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		_, err := s.Save(shmradio.Report{
			Role:            "client",
			Channel:         "shm_radio_channel",
			Started:         base.Add(time.Duration(i) * time.Minute),
			Ended:           base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			TxSamplesLate:   uint64(i),
			TxSamplesTotal:  1000,
			RxEarly:         2,
			RxSamplesTotal:  2000,
			AverageTxBudget: 123.5,
		})
		require.NoError(t, err)
	}

	runs, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, uint64(2), runs[0].TxSamplesLate)
	assert.Equal(t, uint64(1), runs[1].TxSamplesLate)
	assert.True(t, runs[0].Started.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, 30*time.Second, runs[0].Ended.Sub(runs[0].Started))
	assert.Equal(t, 123.5, runs[0].AverageTxBudget)
	assert.Equal(t, uint64(2), runs[0].RxEarly)
	assert.NotEqual(t, runs[0].ID, runs[1].ID)
	assert.InDelta(t, 0.2, runs[0].TxLatePercent(), 1e-9)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Save(shmradio.Report{Role: "server", Channel: "c", Started: time.Now(), Ended: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.List(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "server", runs[0].Role)
}
