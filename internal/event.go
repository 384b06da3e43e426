package internal

// Message metadata keys set on every dispatched event.
const (
	MetadataProvider   = "provider"
	MetadataEvent      = "event"
	MetadataRequestID  = "request_id"
	MetadataDeliveryID = "delivery_id"
	MetadataRepository = "repository"
)

// Event is a verified webhook delivery on its way to the dispatch layer.
type Event struct {
	Provider   string `json:"provider"`
	Name       string `json:"name"`
	DeliveryID string `json:"delivery_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Repository string `json:"repository,omitempty"`
	// RawPayload is the verified request body. It is what gets published.
	RawPayload []byte `json:"-"`
	// Data is the flattened payload that routing rules evaluate against.
	Data map[string]interface{} `json:"-"`
	// RawObject is the decoded payload used for JSONPath lookups.
	RawObject interface{} `json:"-"`
}

// Metadata returns the message metadata for e.
func (e Event) Metadata() map[string]string {
	metadata := map[string]string{
		MetadataProvider: e.Provider,
		MetadataEvent:    e.Name,
	}
	if e.RequestID != "" {
		metadata[MetadataRequestID] = e.RequestID
	}
	if e.DeliveryID != "" {
		metadata[MetadataDeliveryID] = e.DeliveryID
	}
	if e.Repository != "" {
		metadata[MetadataRepository] = e.Repository
	}
	return metadata
}
