package types

type ProtocolVersion int

const DefaultProtocol ProtocolVersion = 7

// SupportsPackedStreamId reports whether the server packs "participant|track" into stream ids.
func (v ProtocolVersion) SupportsPackedStreamId() bool {
	return v > 0
}

func (v ProtocolVersion) HandlesDataPackets() bool {
	return v > 1
}

// ConnectParams are sent to the server with the join request.
type ConnectParams struct {
	Protocol      ProtocolVersion
	AutoSubscribe bool
}
