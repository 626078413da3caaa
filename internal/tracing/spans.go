package tracing

// Span attribute keys.
const (
	AttrPassID     = "generate.pass_id"
	AttrRoots      = "generate.roots"
	AttrLinks      = "generate.links"
	AttrPlugID     = "plug.id"
	AttrSocketID   = "socket.id"
	AttrCount      = "descriptor.count"
	AttrNatives    = "linker.natives"
	AttrArtifact   = "artifact.name"
	AttrStrategy   = "registry.strategy"
	AttrSkipped    = "registry.skipped"
	AttrErrorKind  = "error.kind"
	AttrStillAlive = "gc.still_alive"
)

// Span names.
const (
	SpanGenerate = "generate.pass"
	SpanDescribe = "generate.describe"
	SpanTeardown = "generate.teardown"
	SpanIndex    = "index.compute"
	SpanScan     = "registry.scan"
	SpanLookup   = "registry.lookup"
)

// Event names.
const (
	EventMarkersFound = "markers.found"
	EventSkipped      = "descriptor.skipped"
)
