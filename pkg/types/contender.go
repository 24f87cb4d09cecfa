package types

import (
	"fmt"
	"strconv"
)

// width of the service assigned sequence suffix
// always the last SequenceWidth characters of a sequential node name
const SequenceWidth = 10

// a contender is one in-flight attempt to take a lock, backed by one
// ephemeral sequential node under the lock root
// the sequence number doubles as a fencing token: it is strictly
// increasing per root, so a later holder always carries a larger one
type Contender struct {
	Name     string //node name under the root, e.g. _c_<guid>-seq-0000000007
	Path     string //full node path
	Sequence uint64
	Owner    string //node data, the owner id written at creation
}

// formats a sequence number the way the service appends it
func SequenceSuffix(seq uint64) string {
	return fmt.Sprintf("%0*d", SequenceWidth, seq)
}

// extracts the sequence number from a contender node name
func ParseSequence(name string) (uint64, error) {
	if len(name) < SequenceWidth {
		return 0, fmt.Errorf("node name %q has no sequence suffix", name)
	}

	seq, err := strconv.ParseUint(name[len(name)-SequenceWidth:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("node name %q has no sequence suffix: %w", name, err)
	}

	return seq, nil
}
