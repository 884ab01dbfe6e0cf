package event

// Lifecycle topics emitted by the replication engine, per spec.md §4.7.
const (
	// ETRegistryReady fires once the Log Registry has enumerated every
	// on-disk log and is open for operations. Payload: nil.
	ETRegistryReady = Topic("hypermerge:RegistryReady")

	// ETFeedReady fires when one log finishes its initial open/handshake.
	// Payload: actor.ID.
	ETFeedReady = Topic("hypermerge:FeedReady")

	// ETDocumentReady fires the first time a document has no missing
	// causal dependencies. Payload: DocumentPayload.
	ETDocumentReady = Topic("hypermerge:DocumentReady")

	// ETDocumentUpdated fires every time a previously-ready document
	// materializes new state. Payload: DocumentPayload.
	ETDocumentUpdated = Topic("hypermerge:DocumentUpdated")

	// ETPeerJoined fires when a peer attaches to one of our logs.
	// Payload: PeerPayload.
	ETPeerJoined = Topic("hypermerge:PeerJoined")

	// ETPeerLeft fires when a peer detaches. Payload: PeerPayload.
	ETPeerLeft = Topic("hypermerge:PeerLeft")

	// ETPeerMessage fires for extension messages of an unrecognized type
	// on the hypermerge channel. Payload: PeerMessagePayload.
	ETPeerMessage = Topic("hypermerge:PeerMessage")

	// ETPeerExtension fires for messages received on an extension channel
	// other than "hypermerge". Payload: PeerExtensionPayload.
	ETPeerExtension = Topic("hypermerge:PeerExtension")

	// ETCorruptMetadata fires when block 0 of a log failed to parse or
	// validate. The log is excluded from every document index.
	// Payload: actor.ID.
	ETCorruptMetadata = Topic("hypermerge:CorruptMetadata")
)

// DocumentPayload is the payload for ETDocumentReady / ETDocumentUpdated.
type DocumentPayload struct {
	DocID string
}

// PeerPayload is the payload for ETPeerJoined / ETPeerLeft.
type PeerPayload struct {
	ActorID string
	PeerID  string
}

// PeerMessagePayload is the payload for ETPeerMessage.
type PeerMessagePayload struct {
	ActorID string
	PeerID  string
	Message interface{}
}

// PeerExtensionPayload is the payload for ETPeerExtension.
type PeerExtensionPayload struct {
	ActorID   string
	Extension string
	Data      []byte
	PeerID    string
}
