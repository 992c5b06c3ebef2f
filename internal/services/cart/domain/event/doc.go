// Package event defines the stored event envelope shared by the cart write
// path and the read-side consumers.
//
// Every envelope belongs to exactly one cart log, ordered by Seq starting at 1,
// and carries a Tag that partitions the global stream for independently
// checkpointed consumers. The store assigns Offset, the position in the
// global commit order.
package event
