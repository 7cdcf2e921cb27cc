package grainstore

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxfield/kitbash/core/grain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "grains.db")
	s, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

// testGrain builds a valid 16-bit grain with an ID-derived evidence hash.
func testGrain(id, cartridgeID string) *grain.Grain {
	return &grain.Grain{
		GrainID:          id,
		SourcePhantomID:  "phantom_" + id,
		CartridgeID:      cartridgeID,
		SourceFactIDs:    []int64{1, 2, 3},
		NumBits:          16,
		BitsPositive:     2,
		BitsNegative:     1,
		BitsVoid:         13,
		AxiomIDs:         []string{"persistence", "least_resistance", "independence"},
		EvidenceHash:     "evidence-" + id,
		InternalHamming:  1.5,
		WeightSkew:       0.33,
		AvgConfidence:    0.87,
		ObservationCount: 12,
		BitArrayPlus:     []byte{0b00000011, 0},
		BitArrayMinus:    []byte{0b00000100, 0},
		EpistemicLevel:   grain.LevelCorroborated,
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig("grains.db").Validate())

	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Path: "x.db", MaxOpenConns: 0}.Validate())
	assert.Error(t, Config{Path: "x.db", MaxOpenConns: 2, MaxIdleConns: 3}.Validate())
}

func TestStore_PutAndGet(t *testing.T) {
	s := newTestStore(t)

	g := testGrain("a1b2c3d4e5f60718", "cart-ops")
	inserted, err := s.Put(g)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := s.Get(g.GrainID)
	require.NoError(t, err)

	assert.Equal(t, g.GrainID, got.GrainID)
	assert.Equal(t, g.SourcePhantomID, got.SourcePhantomID)
	assert.Equal(t, g.CartridgeID, got.CartridgeID)
	assert.Equal(t, []int64{1, 2, 3}, got.SourceFactIDs)
	assert.Equal(t, 16, got.NumBits)
	assert.Equal(t, 2, got.BitsPositive)
	assert.Equal(t, 1, got.BitsNegative)
	assert.Equal(t, 13, got.BitsVoid)
	assert.Equal(t, g.AxiomIDs, got.AxiomIDs)
	assert.Equal(t, g.EvidenceHash, got.EvidenceHash)
	assert.InDelta(t, 1.5, got.InternalHamming, 1e-9)
	assert.InDelta(t, 0.33, got.WeightSkew, 1e-9)
	assert.InDelta(t, 0.87, got.AvgConfidence, 1e-9)
	assert.Equal(t, 12, got.ObservationCount)
	assert.Equal(t, g.BitArrayPlus, got.BitArrayPlus)
	assert.Equal(t, g.BitArrayMinus, got.BitArrayMinus)
	assert.Equal(t, grain.LevelCorroborated, got.EpistemicLevel)
	require.NoError(t, got.Validate())
}

func TestStore_PutDuplicateFirstWriteWins(t *testing.T) {
	s := newTestStore(t)

	g := testGrain("a1b2c3d4e5f60718", "cart-ops")
	inserted, err := s.Put(g)
	require.NoError(t, err)
	require.True(t, inserted)

	// Same ID with different payload is ignored, not an error.
	altered := testGrain("a1b2c3d4e5f60718", "cart-other")
	altered.AvgConfidence = 0.1
	inserted, err = s.Put(altered)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.Get(g.GrainID)
	require.NoError(t, err)
	assert.Equal(t, "cart-ops", got.CartridgeID)
	assert.InDelta(t, 0.87, got.AvgConfidence, 1e-9)
}

func TestStore_PutInvalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put(nil)
	assert.ErrorIs(t, err, ErrNilGrain)

	bad := testGrain("a1b2c3d4e5f60718", "cart-ops")
	bad.BitsVoid = 0
	_, err = s.Put(bad)
	assert.ErrorIs(t, err, grain.ErrGrainBitSumInvalid)
}

func TestStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrGrainNotFound)
}

func TestStore_List(t *testing.T) {
	s := newTestStore(t)

	for _, g := range []*grain.Grain{
		testGrain("bbbb000000000002", "cart-ops"),
		testGrain("aaaa000000000001", "cart-ops"),
		testGrain("cccc000000000003", "cart-dev"),
	} {
		_, err := s.Put(g)
		require.NoError(t, err)
	}

	ops, err := s.List("cart-ops")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "aaaa000000000001", ops[0].GrainID)
	assert.Equal(t, "bbbb000000000002", ops[1].GrainID)

	dev, err := s.List("cart-dev")
	require.NoError(t, err)
	assert.Len(t, dev, 1)

	none, err := s.List("cart-absent")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_All(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put(testGrain("aaaa000000000001", "cart-ops"))
	require.NoError(t, err)
	_, err = s.Put(testGrain("bbbb000000000002", "cart-dev"))
	require.NoError(t, err)

	all, err := s.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_FindByEvidenceHash(t *testing.T) {
	s := newTestStore(t)

	g := testGrain("a1b2c3d4e5f60718", "cart-ops")
	_, err := s.Put(g)
	require.NoError(t, err)

	found, err := s.FindByEvidenceHash(g.EvidenceHash)
	require.NoError(t, err)
	assert.Equal(t, g.GrainID, found.GrainID)

	_, err = s.FindByEvidenceHash("no-such-evidence")
	assert.ErrorIs(t, err, ErrGrainNotFound)
}

func TestStore_Count(t *testing.T) {
	s := newTestStore(t)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = s.Put(testGrain("aaaa000000000001", "cart-ops"))
	require.NoError(t, err)

	count, err = s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_CacheCounters(t *testing.T) {
	s := newTestStore(t)

	g := testGrain("a1b2c3d4e5f60718", "cart-ops")
	_, err := s.Put(g)
	require.NoError(t, err)
	s.cache.wait()

	_, err = s.Get(g.GrainID)
	require.NoError(t, err)

	stats := s.CacheStats()
	assert.Equal(t, int64(1), stats.Hits())
	assert.Equal(t, int64(0), stats.Misses())
	assert.Equal(t, 1.0, stats.HitRate())
}

func TestStore_ClosedOperations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Put(testGrain("a1b2c3d4e5f60718", "cart-ops"))
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.Get("any")
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.List("cart-ops")
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.All()
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = s.Count()
	assert.ErrorIs(t, err, ErrStoreClosed)

	assert.NoError(t, s.Close())
}
