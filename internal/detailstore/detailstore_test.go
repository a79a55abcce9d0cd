package detailstore

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitmine.dev/labbook/internal/obslog"
)

func testLogger() *obslog.Logger {
	return obslog.Component(logrus.New(), "detailstore_test")
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "alice-bob-lb1-gm.workspace-abcdefghij", 4<<20, testLogger())
	require.NoError(t, err)

	cases := [][]byte{
		[]byte(""),
		[]byte("hello world"),
		make([]byte, 10000),
	}

	for i, v := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			key, err := s.Put(v)
			require.NoError(t, err)

			basename, h, err := parseKey(key)
			require.NoError(t, err)
			assert.Equal(t, s.basename, basename)
			assert.Equal(t, uint32(len(v)), h.length)

			framed, err := s.Get(key)
			require.NoError(t, err)
			require.Len(t, framed, headerLen+len(v))
			assert.Equal(t, v, framed[headerLen:])
		})
	}
}

func TestKeyParseableRecoversCurrentBasename(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "checkout-1", 4<<20, testLogger())
	require.NoError(t, err)

	key, err := s.Put([]byte("payload"))
	require.NoError(t, err)

	basename, _, err := parseKey(key)
	require.NoError(t, err)
	assert.Equal(t, s.basename, basename)
	assert.Len(t, basename, basenameWidth)
}

func TestRotationMonotonicity(t *testing.T) {
	dir := t.TempDir()
	limit := int64(1024)
	s, err := Open(dir, "checkout-rotation", limit, testLogger())
	require.NoError(t, err)

	recordSize := int(limit/2) + 1
	var fileNumbers []uint32
	for i := 0; i < 6; i++ {
		key, err := s.Put(make([]byte, recordSize))
		require.NoError(t, err)
		_, h, err := parseKey(key)
		require.NoError(t, err)
		fileNumbers = append(fileNumbers, h.fileNumber)
	}

	for i := 1; i < len(fileNumbers); i++ {
		assert.GreaterOrEqual(t, fileNumbers[i], fileNumbers[i-1])
	}
	assert.Greater(t, fileNumbers[len(fileNumbers)-1], uint32(0), "records well past the limit should have rotated at least once")
}

func TestCheckoutContextChangeResetsFileNumber(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, "checkout-a", 4<<20, testLogger())
	require.NoError(t, err)
	_, err = s1.Put(make([]byte, 4<<20+1))
	require.NoError(t, err)
	// The first file is now past the limit, so the next Put rotates.
	_, err = s1.Put([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), s1.fileNumber)

	s2, err := Open(dir, "checkout-b", 4<<20, testLogger())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), s2.fileNumber)
}

func TestRecordTooLargeRejected(t *testing.T) {
	s := &Store{logfileSize: 4 << 20}
	err := checkRecordSize(maxRecordLength + 1)
	require.Error(t, err)
	_ = s
}
