package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultRotationInterval matches the original firmware's hourly rotation.
const DefaultRotationInterval = time.Hour

// topicDigestLen is the number of hex characters kept from the topic digest.
const topicDigestLen = 16

// Window maps a UTC instant to its rotation bucket.
func Window(t time.Time, interval time.Duration) int64 {
	secs := int64(interval / time.Second)
	if secs <= 0 {
		secs = int64(DefaultRotationInterval / time.Second)
	}
	return t.Unix() / secs
}

// DeriveTopic computes the broker topic for a device at a given instant.
// Pure: both ends compute it independently from (serial, time, interval)
// without ever exchanging the topic itself. The serial is hashed together
// with the window so a broker observer cannot group topics by device.
func DeriveTopic(prefix, serial string, t time.Time, interval time.Duration) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", serial, Window(t, interval))))
	return prefix + "/" + hex.EncodeToString(sum[:])[:topicDigestLen]
}

// PreviousTopic is the topic of the window before t. The relay keeps it
// subscribed for one extra window so a command sealed just before a rotation
// boundary is not dropped.
func PreviousTopic(prefix, serial string, t time.Time, interval time.Duration) string {
	return DeriveTopic(prefix, serial, t.Add(-interval), interval)
}

// ResponseTopic is where the relay publishes replies for the given command
// topic. Keeping it a sibling of the command topic means it rotates with it.
func ResponseTopic(topic string) string {
	return topic + "/response"
}

// NextRotation returns the instant at which the window containing t ends.
func NextRotation(t time.Time, interval time.Duration) time.Time {
	secs := int64(interval / time.Second)
	if secs <= 0 {
		secs = int64(DefaultRotationInterval / time.Second)
	}
	return time.Unix((Window(t, interval)+1)*secs, 0).UTC()
}
