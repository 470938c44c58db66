package metrics

// NamespacePrefix is the namespace of prometheus metrics
const NamespacePrefix = "mediagate"
