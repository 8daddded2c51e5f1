package metadata

import "time"

// Header keys the repository always sets on outgoing broker messages. They
// take precedence over caller attributes with the same name.
const (
	KeyMessageID   = "message_id"
	KeyPublisherID = "publisher_id"
	KeyPublishTime = "publish_time"
	KeyTopic       = "topic"
)

// Metadata represents the attributes and headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
// Entries override existing keys.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// MessageHeaders merges caller attributes with the reserved publish headers.
func MessageHeaders(attributes Metadata, messageID, topic, publisherID string, publishTime time.Time) Metadata {
	return attributes.WithAll(Metadata{
		KeyMessageID:   messageID,
		KeyTopic:       topic,
		KeyPublisherID: publisherID,
		KeyPublishTime: publishTime.UTC().Format(time.RFC3339Nano),
	})
}
