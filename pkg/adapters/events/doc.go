// Package events provides message transport implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups, key-partitioned streams and
//     XAUTOCLAIM redelivery
//   - memory: In-memory broker for testing
package events
