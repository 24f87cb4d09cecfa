package types

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSequence(t *testing.T) {
	seq, err := ParseSequence("seq-0000000042")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	seq, err = ParseSequence("0000000007")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), seq)
}

func TestParseSequenceRejectsMalformedNames(t *testing.T) {
	for _, name := range []string{"", "seq-", "seq-12", "seq-00000000x1"} {
		_, err := ParseSequence(name)
		assert.Error(t, err, "name %q should be rejected", name)
	}
}

// lexicographic order of padded suffixes must match numeric order
func TestSequenceSuffixOrdering(t *testing.T) {
	seqs := []uint64{10, 9, 100, 0, 1, 99}

	names := make([]string, 0, len(seqs))
	for _, s := range seqs {
		names = append(names, "seq-"+SequenceSuffix(s))
	}
	sort.Strings(names)

	var parsed []uint64
	for _, n := range names {
		s, err := ParseSequence(n)
		require.NoError(t, err)
		parsed = append(parsed, s)
	}

	assert.Equal(t, []uint64{0, 1, 9, 10, 99, 100}, parsed)
}

func TestCreateModeFlags(t *testing.T) {
	assert.False(t, ModePersistent.IsEphemeral())
	assert.False(t, ModePersistent.IsSequential())
	assert.True(t, ModeEphemeralSequential.IsEphemeral())
	assert.True(t, ModeEphemeralSequential.IsSequential())
	assert.Equal(t, "ephemeral-sequential", ModeEphemeralSequential.String())
}

func TestProtectedMode(t *testing.T) {
	assert.True(t, ModeProtectedEphemeralSequential.IsEphemeral())
	assert.True(t, ModeProtectedEphemeralSequential.IsSequential())
	assert.True(t, ModeProtectedEphemeralSequential.IsProtected())
	assert.False(t, ModeEphemeralSequential.IsProtected())

	guid := "0123456789abcdef0123456789abcdef"
	name := ProtectedName(guid, "seq-") + SequenceSuffix(7)
	assert.Equal(t, "_c_0123456789abcdef0123456789abcdef-seq-0000000007", name)
	assert.True(t, HasProtectedGUID(name, guid))
	assert.False(t, HasProtectedGUID(name, "ffffffffffffffffffffffffffffffff"))
	assert.False(t, HasProtectedGUID("seq-0000000007", guid))

	seq, err := ParseSequence(name)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), seq)
}
