package types

import "strings"

// how a node is created
type CreateMode uint

const (
	// survives the session that created it
	ModePersistent CreateMode = iota + 1
	// removed with its session, name gets a service-assigned sequence suffix
	ModeEphemeralSequential
	// ephemeral sequential with a client GUID in the name, so a create
	// whose reply was lost can be found again among the parent's children
	ModeProtectedEphemeralSequential
)

// marks protected node names: <ProtectedPrefix><32 hex guid>-<name><sequence>
const ProtectedPrefix = "_c_"

func (m CreateMode) String() string {
	switch m {
	case ModePersistent:
		return "persistent"
	case ModeEphemeralSequential:
		return "ephemeral-sequential"
	case ModeProtectedEphemeralSequential:
		return "protected-ephemeral-sequential"
	default:
		return "unknown"
	}
}

// ephemeral nodes are tied to a session
func (m CreateMode) IsEphemeral() bool {
	return m == ModeEphemeralSequential || m == ModeProtectedEphemeralSequential
}

// sequential nodes get a zero padded counter appended to their name
func (m CreateMode) IsSequential() bool {
	return m == ModeEphemeralSequential || m == ModeProtectedEphemeralSequential
}

func (m CreateMode) IsProtected() bool { return m == ModeProtectedEphemeralSequential }

// name a protected create asks the service for, before the sequence is appended
func ProtectedName(guid, name string) string {
	return ProtectedPrefix + guid + "-" + name
}

// reports whether name carries guid as its protection marker
func HasProtectedGUID(name, guid string) bool {
	return strings.HasPrefix(name, ProtectedPrefix+guid+"-")
}
